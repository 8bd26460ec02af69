package taskgraph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gabe/crew/internal/models"
)

// FileStore keeps one JSONL task snapshot per mission
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a snapshot store at the given directory
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create task directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(missionID string) string {
	return filepath.Join(s.dir, missionID+".jsonl")
}

// Save replaces the snapshot for a mission
func (s *FileStore) Save(missionID string, tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(missionID)
	tmpFile := path + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, task := range tasks {
		data, err := json.Marshal(task)
		if err != nil {
			f.Close()
			os.Remove(tmpFile)
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			os.Remove(tmpFile)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	return os.Rename(tmpFile, path)
}

// SaveGraph writes the graph's current export
func (s *FileStore) SaveGraph(missionID string, g *Graph) error {
	return s.Save(missionID, g.Export())
}

// Load reads a mission snapshot. A missing snapshot yields no tasks.
func (s *FileStore) Load(missionID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(missionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tasks []*models.Task
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var task models.Task
		if err := json.Unmarshal(scanner.Bytes(), &task); err != nil {
			continue // Skip malformed lines
		}
		tasks = append(tasks, &task)
	}

	return tasks, scanner.Err()
}

// LoadGraph reads a snapshot and rebuilds it into a graph
func (s *FileStore) LoadGraph(missionID string) (*Graph, error) {
	tasks, err := s.Load(missionID)
	if err != nil {
		return nil, err
	}
	return Import(tasks)
}

// Missions lists the mission ids that have a snapshot
func (s *FileStore) Missions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}
