package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HookType represents the type of hook message
type HookType string

const (
	HookTypeAbort HookType = "abort" // Cancel the mission
	HookTypeNote  HookType = "note"  // Free-form message for the mission log
)

// Hook represents a hook file message
type Hook struct {
	Type      HookType  `json:"type"`
	MissionID string    `json:"mission_id"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int       `json:"seq"` // Sequence number to detect changes
}

// Manager handles the hook file of one mission. Any process can write it;
// the process running the mission watches it.
type Manager struct {
	dir       string // Hook directory (e.g., ~/crew/.crew/hooks/)
	missionID string
	mu        sync.Mutex
	seq       int
}

// NewManager creates a hook manager for a mission
func NewManager(dir string, missionID string) (*Manager, error) {
	if missionID == "" {
		return nil, fmt.Errorf("mission id required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create hook directory: %w", err)
	}

	mgr := &Manager{
		dir:       dir,
		missionID: missionID,
	}

	// Initialize seq from existing hook file if present
	if hook, err := mgr.Read(); err == nil && hook != nil {
		mgr.seq = hook.Seq
	}

	return mgr, nil
}

// Write writes a new hook message
func (m *Manager) Write(hook *Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	hook.Seq = m.seq
	hook.MissionID = m.missionID
	if hook.Timestamp.IsZero() {
		hook.Timestamp = time.Now()
	}

	data, err := json.MarshalIndent(hook, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal hook: %w", err)
	}

	hookPath := m.Path()

	// Write to temp file first for atomic update
	tmpPath := hookPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write hook file: %w", err)
	}

	if err := os.Rename(tmpPath, hookPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename hook file: %w", err)
	}

	return nil
}

// Abort asks the process running the mission to cancel it
func (m *Manager) Abort(reason string) error {
	return m.Write(&Hook{Type: HookTypeAbort, Message: reason})
}

// Read reads the current hook file
func (m *Manager) Read() (*Hook, error) {
	data, err := os.ReadFile(m.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No hook file is not an error
		}
		return nil, fmt.Errorf("failed to read hook file: %w", err)
	}

	var hook Hook
	if err := json.Unmarshal(data, &hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hook: %w", err)
	}

	return &hook, nil
}

// Clear removes the hook file (after processing)
func (m *Manager) Clear() error {
	if err := os.Remove(m.Path()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to clear hook file: %w", err)
	}
	return nil
}

// Watch returns a channel that receives hooks when the file changes.
// The channel closes when ctx is done.
func (m *Manager) Watch(ctx context.Context) (<-chan *Hook, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory (not the file itself, since the file may not exist yet)
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	hookChan := make(chan *Hook, 1)
	name := filepath.Base(m.Path())

	m.mu.Lock()
	lastSeq := m.seq
	m.mu.Unlock()

	go func() {
		defer watcher.Close()
		defer close(hookChan)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				hook, err := m.Read()
				if err != nil || hook == nil {
					continue
				}
				// Only send if seq has changed
				if hook.Seq != lastSeq {
					lastSeq = hook.Seq
					select {
					case hookChan <- hook:
					case <-ctx.Done():
						return
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return hookChan, nil
}

// OnAbort watches the mission's hook file and calls abort with the hook
// message the first time an abort hook arrives. Notes are logged.
func (m *Manager) OnAbort(ctx context.Context, logger *slog.Logger, abort func(reason string)) error {
	hooks, err := m.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for h := range hooks {
			switch h.Type {
			case HookTypeAbort:
				reason := h.Message
				if reason == "" {
					reason = "aborted"
				}
				logger.Info("abort hook received", "mission", m.missionID, "reason", reason)
				abort(reason)
				return
			case HookTypeNote:
				logger.Info("mission note", "mission", m.missionID, "message", h.Message)
			}
		}
	}()
	return nil
}

// Path returns the full path to the hook file
func (m *Manager) Path() string {
	return filepath.Join(m.dir, m.missionID+".hook.json")
}
