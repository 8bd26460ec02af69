package budget

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/storage"
)

// ErrRuleNotFound is returned when no alert rule has the requested id
var ErrRuleNotFound = storage.ErrRuleNotFound

// RuleStore persists alert rules and their append-only firing records
type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.AlertRule) error
	GetRule(ctx context.Context, id string) (*models.AlertRule, error)
	ListRules(ctx context.Context, userID string) ([]*models.AlertRule, error)
	UpdateRule(ctx context.Context, rule *models.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	AppendFiring(ctx context.Context, f *models.AlertFiring) error
	ResolveFiring(ctx context.Context, ruleID string, at time.Time) error
	ListFirings(ctx context.Context, userID string) ([]*models.AlertFiring, error)
}

// ValidateRule checks a rule before it is stored
func ValidateRule(rule *models.AlertRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id required")
	}
	if !models.ValidMetric(rule.Metric) {
		return fmt.Errorf("unknown metric %q", rule.Metric)
	}
	if _, err := rule.Condition.Holds(0, 0); err != nil {
		return err
	}
	return nil
}

// MemoryRuleStore keeps rules in memory
type MemoryRuleStore struct {
	mu      sync.RWMutex
	rules   map[string]*models.AlertRule
	order   []string
	firings []*models.AlertFiring
}

// NewMemoryRuleStore creates an empty in-memory rule store
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]*models.AlertRule)}
}

func (s *MemoryRuleStore) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule already exists: %s", rule.ID)
	}
	c := *rule
	s.rules[rule.ID] = &c
	s.order = append(s.order, rule.ID)
	return nil
}

func (s *MemoryRuleStore) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	c := *r
	return &c, nil
}

func (s *MemoryRuleStore) ListRules(ctx context.Context, userID string) ([]*models.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AlertRule
	for _, id := range s.order {
		r := s.rules[id]
		if userID != "" && r.UserID != userID {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryRuleStore) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	c := *rule
	s.rules[rule.ID] = &c
	return nil
}

func (s *MemoryRuleStore) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(s.rules, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryRuleStore) AppendFiring(ctx context.Context, f *models.AlertFiring) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *f
	s.firings = append(s.firings, &c)
	return nil
}

func (s *MemoryRuleStore) ResolveFiring(ctx context.Context, ruleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.firings {
		if f.RuleID == ruleID && f.Open() {
			resolved := at
			f.ResolvedAt = &resolved
		}
	}
	return nil
}

func (s *MemoryRuleStore) ListFirings(ctx context.Context, userID string) ([]*models.AlertFiring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AlertFiring
	for _, f := range s.firings {
		if userID != "" && f.UserID != userID {
			continue
		}
		c := *f
		out = append(out, &c)
	}
	return out, nil
}

// FileRuleStore keeps rules and firings in two JSONL files
type FileRuleStore struct {
	rules   *storage.JSONLFile[*models.AlertRule]
	firings *storage.JSONLFile[*models.AlertFiring]
}

// NewFileRuleStore creates a rule store at the given directory
func NewFileRuleStore(dir string) (*FileRuleStore, error) {
	rules, err := storage.NewJSONLFile[*models.AlertRule](filepath.Join(dir, "rules.jsonl"))
	if err != nil {
		return nil, err
	}
	firings, err := storage.NewJSONLFile[*models.AlertFiring](filepath.Join(dir, "firings.jsonl"))
	if err != nil {
		return nil, err
	}
	return &FileRuleStore{rules: rules, firings: firings}, nil
}

func (s *FileRuleStore) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	return s.rules.Update(func(rules []*models.AlertRule) ([]*models.AlertRule, error) {
		for _, r := range rules {
			if r.ID == rule.ID {
				return nil, fmt.Errorf("rule already exists: %s", rule.ID)
			}
		}
		return append(rules, rule), nil
	})
}

func (s *FileRuleStore) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	rules, err := s.rules.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

func (s *FileRuleStore) ListRules(ctx context.Context, userID string) ([]*models.AlertRule, error) {
	rules, err := s.rules.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []*models.AlertRule
	for _, r := range rules {
		if userID == "" || r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *FileRuleStore) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	return s.rules.Update(func(rules []*models.AlertRule) ([]*models.AlertRule, error) {
		for i, r := range rules {
			if r.ID == rule.ID {
				rules[i] = rule
				return rules, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	})
}

func (s *FileRuleStore) DeleteRule(ctx context.Context, id string) error {
	return s.rules.Update(func(rules []*models.AlertRule) ([]*models.AlertRule, error) {
		for i, r := range rules {
			if r.ID == id {
				return append(rules[:i], rules[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	})
}

func (s *FileRuleStore) AppendFiring(ctx context.Context, f *models.AlertFiring) error {
	return s.firings.Append(f)
}

func (s *FileRuleStore) ResolveFiring(ctx context.Context, ruleID string, at time.Time) error {
	return s.firings.Update(func(firings []*models.AlertFiring) ([]*models.AlertFiring, error) {
		for _, f := range firings {
			if f.RuleID == ruleID && f.Open() {
				resolved := at
				f.ResolvedAt = &resolved
			}
		}
		return firings, nil
	})
}

func (s *FileRuleStore) ListFirings(ctx context.Context, userID string) ([]*models.AlertFiring, error) {
	firings, err := s.firings.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []*models.AlertFiring
	for _, f := range firings {
		if userID == "" || f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FiredAt.Before(out[j].FiredAt) })
	return out, nil
}
