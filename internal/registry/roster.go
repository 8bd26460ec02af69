package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrWorkerNotFound is returned when a worker is not on the roster
	ErrWorkerNotFound = errors.New("worker not found on roster")
)

// Roster statuses
const (
	StatusIdle = "idle"
	StatusBusy = "busy"
)

// RosterEntry records what a worker is doing, shared across processes
type RosterEntry struct {
	Name      string         `json:"name"`
	Kind      string         `json:"kind,omitempty"` // func, command, claude, planner
	Status    string         `json:"status"`
	MissionID string         `json:"mission_id,omitempty"`
	Task      string         `json:"task,omitempty"`
	Active    int            `json:"active"`
	InFlight  map[string]int `json:"in_flight,omitempty"` // running calls by mission id
	Calls     int64          `json:"calls"`
	StartedAt time.Time      `json:"started_at"`
	LastPing  time.Time      `json:"last_ping"`
}

// Roster manages worker activity state in a JSON file guarded by flock, so
// `crew status` in another process sees which worker is busy.
type Roster struct {
	filepath string
	mu       sync.RWMutex
}

// rosterData is the on-disk format
type rosterData struct {
	Workers map[string]*RosterEntry `json:"workers"`
}

// NewRoster creates a roster at the specified file path
func NewRoster(path string) *Roster {
	return &Roster{filepath: path}
}

// DefaultRosterPath returns the roster path inside a crew data directory
func DefaultRosterPath(dataDir string) string {
	return filepath.Join(dataDir, "workers.json")
}

// load reads the roster from disk (must hold lock)
func (r *Roster) load() (*rosterData, error) {
	data := &rosterData{Workers: make(map[string]*RosterEntry)}

	content, err := os.ReadFile(r.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, err
	}
	if len(content) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(content, data); err != nil {
		return nil, err
	}
	if data.Workers == nil {
		data.Workers = make(map[string]*RosterEntry)
	}
	return data, nil
}

// save writes the roster atomically via a temp file (must hold lock)
func (r *Roster) save(data *rosterData) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmpFile := r.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, content, 0644); err != nil {
		return err
	}
	return os.Rename(tmpFile, r.filepath)
}

// withFileLock executes fn holding an exclusive lock on the roster file
func (r *Roster) withFileLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.filepath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(r.filepath+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// update loads, mutates and saves under both locks
func (r *Roster) update(fn func(data *rosterData) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.withFileLock(func() error {
		data, err := r.load()
		if err != nil {
			return err
		}
		if err := fn(data); err != nil {
			return err
		}
		return r.save(data)
	})
}

// Enroll adds a worker as idle, or refreshes its kind if already present
func (r *Roster) Enroll(name, kind string) error {
	return r.update(func(data *rosterData) error {
		now := time.Now()
		if e, ok := data.Workers[name]; ok {
			e.Kind = kind
			e.LastPing = now
			return nil
		}
		data.Workers[name] = &RosterEntry{
			Name:      name,
			Kind:      kind,
			Status:    StatusIdle,
			StartedAt: now,
			LastPing:  now,
		}
		return nil
	})
}

// Remove deletes a worker from the roster
func (r *Roster) Remove(name string) error {
	return r.update(func(data *rosterData) error {
		if _, ok := data.Workers[name]; !ok {
			return ErrWorkerNotFound
		}
		delete(data.Workers, name)
		return nil
	})
}

// MarkBusy records that a worker started a task. MissionID and Task show
// the most recent start while earlier calls may still be running.
func (r *Roster) MarkBusy(name, missionID, task string) error {
	return r.update(func(data *rosterData) error {
		e, ok := data.Workers[name]
		if !ok {
			e = &RosterEntry{Name: name, StartedAt: time.Now()}
			data.Workers[name] = e
		}
		if e.InFlight == nil {
			e.InFlight = make(map[string]int)
		}
		e.InFlight[missionID]++
		e.Active++
		e.Status = StatusBusy
		e.MissionID = missionID
		e.Task = task
		e.Calls++
		e.LastPing = time.Now()
		return nil
	})
}

// MarkIdle records that one of the worker's calls for a mission finished.
// The worker stays busy until every running call has finished.
func (r *Roster) MarkIdle(name, missionID string) error {
	return r.update(func(data *rosterData) error {
		e, ok := data.Workers[name]
		if !ok {
			return ErrWorkerNotFound
		}
		if e.InFlight[missionID] > 0 {
			e.InFlight[missionID]--
			e.Active--
			if e.InFlight[missionID] == 0 {
				delete(e.InFlight, missionID)
			}
		}
		e.settle()
		return nil
	})
}

// Release drops every running call a mission holds on a worker, for missions
// whose process died without reporting back
func (r *Roster) Release(name, missionID string) error {
	return r.update(func(data *rosterData) error {
		e, ok := data.Workers[name]
		if !ok {
			return ErrWorkerNotFound
		}
		e.Active -= e.InFlight[missionID]
		delete(e.InFlight, missionID)
		e.settle()
		return nil
	})
}

// settle derives status from the in-flight count
func (e *RosterEntry) settle() {
	e.LastPing = time.Now()
	if e.Active > 0 {
		return
	}
	e.Active = 0
	e.InFlight = nil
	e.Status = StatusIdle
	e.MissionID = ""
	e.Task = ""
}

// Get retrieves a roster entry by worker name
func (r *Roster) Get(name string) (*RosterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result *RosterEntry
	err := r.withFileLock(func() error {
		data, err := r.load()
		if err != nil {
			return err
		}
		e, ok := data.Workers[name]
		if !ok {
			return ErrWorkerNotFound
		}
		copy := *e
		result = &copy
		return nil
	})
	return result, err
}

// List returns all roster entries sorted by name
func (r *Roster) List() ([]*RosterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*RosterEntry
	err := r.withFileLock(func() error {
		data, err := r.load()
		if err != nil {
			return err
		}
		result = make([]*RosterEntry, 0, len(data.Workers))
		for _, e := range data.Workers {
			copy := *e
			result = append(result, &copy)
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, err
}

// Clear removes all workers from the roster
func (r *Roster) Clear() error {
	return r.update(func(data *rosterData) error {
		data.Workers = make(map[string]*RosterEntry)
		return nil
	})
}
