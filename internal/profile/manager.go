package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Manager handles worker profile storage operations
type Manager struct {
	dir string
}

// NewManager creates a new profile manager, creating the storage directory if needed
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workers directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the profile directory
func (m *Manager) Dir() string { return m.dir }

// Create stores a new profile
func (m *Manager) Create(p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := m.Get(p.Name); err == nil {
		return fmt.Errorf("worker %q already exists", p.Name)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return m.save(p)
}

// Get retrieves a profile by name
func (m *Manager) Get(name string) (*Profile, error) {
	filePath := filepath.Join(m.dir, name+".toml")

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
		}
		return nil, fmt.Errorf("failed to read worker file: %w", err)
	}

	var p Profile
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, fmt.Errorf("failed to decode worker file %s: %w", filePath, err)
	}
	// The file name wins over a stale name field
	p.Name = name
	return &p, nil
}

// List returns all profiles sorted by name
func (m *Manager) List() ([]*Profile, error) {
	names, err := m.listNames()
	if err != nil {
		return nil, err
	}

	profiles := make([]*Profile, 0, len(names))
	for _, name := range names {
		p, err := m.Get(name)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Update saves changes to an existing profile
func (m *Manager) Update(p *Profile) error {
	if _, err := m.Get(p.Name); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return m.save(p)
}

// Delete removes a profile by name
func (m *Manager) Delete(name string) error {
	filePath := filepath.Join(m.dir, name+".toml")

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
		}
		return fmt.Errorf("failed to delete worker: %w", err)
	}
	return nil
}

func (m *Manager) save(p *Profile) error {
	filePath := filepath.Join(m.dir, p.Name+".toml")

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create worker file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("failed to encode worker: %w", err)
	}
	return nil
}

func (m *Manager) listNames() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workers directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".toml") {
			names = append(names, strings.TrimSuffix(name, ".toml"))
		}
	}
	sort.Strings(names)
	return names, nil
}
