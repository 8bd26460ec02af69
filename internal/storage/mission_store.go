package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/gabe/crew/internal/models"
)

// ErrMissionNotFound is returned when no mission has the requested id
var ErrMissionNotFound = errors.New("mission not found")

// MissionFilter defines filtering options for listing missions
type MissionFilter struct {
	UserID string
	State  models.MissionState
	Limit  int // newest first; zero = no limit
}

// MissionStore persists mission records keyed by id
type MissionStore interface {
	Create(ctx context.Context, m *models.Mission) error
	Get(ctx context.Context, id string) (*models.Mission, error)
	Update(ctx context.Context, m *models.Mission) error
	List(ctx context.Context, filter MissionFilter) ([]*models.Mission, error)
}

// FileMissionStore keeps missions in a single JSONL file
type FileMissionStore struct {
	file *JSONLFile[*models.Mission]
}

// NewFileMissionStore creates a mission store at the given directory
func NewFileMissionStore(dir string) (*FileMissionStore, error) {
	file, err := NewJSONLFile[*models.Mission](filepath.Join(dir, "missions.jsonl"))
	if err != nil {
		return nil, err
	}
	return &FileMissionStore{file: file}, nil
}

// Create appends a new mission record
func (s *FileMissionStore) Create(ctx context.Context, m *models.Mission) error {
	if m.ID == "" {
		return errors.New("mission id required")
	}
	if _, err := s.Get(ctx, m.ID); err == nil {
		return fmt.Errorf("mission already exists: %s", m.ID)
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return s.file.Append(m)
}

// Get retrieves a mission by ID
func (s *FileMissionStore) Get(ctx context.Context, id string) (*models.Mission, error) {
	missions, err := s.file.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, m := range missions {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, id)
}

// Update replaces an existing mission record
func (s *FileMissionStore) Update(ctx context.Context, m *models.Mission) error {
	return s.file.Update(func(missions []*models.Mission) ([]*models.Mission, error) {
		for i, existing := range missions {
			if existing.ID == m.ID {
				m.UpdatedAt = time.Now()
				missions[i] = m
				return missions, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, m.ID)
	})
}

// List returns missions matching the filter, newest first
func (s *FileMissionStore) List(ctx context.Context, filter MissionFilter) ([]*models.Mission, error) {
	missions, err := s.file.ReadAll()
	if err != nil {
		return nil, err
	}

	var filtered []*models.Mission
	for _, m := range missions {
		if filter.UserID != "" && m.UserID != filter.UserID {
			continue
		}
		if filter.State != "" && m.State != filter.State {
			continue
		}
		filtered = append(filtered, m)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}
	return filtered, nil
}
