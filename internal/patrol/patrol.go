// Package patrol provides background health monitoring for missions.
// It runs inside `crew serve` to reap missions whose process went away
// and to keep budget alerts evaluated between runs.
package patrol

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gabe/crew/internal/budget"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/registry"
	"github.com/gabe/crew/internal/storage"
)

const (
	StatusHealthy   = "healthy"
	StatusActive    = "active"
	StatusAbandoned = "abandoned"
	StatusDone      = "done"
)

// FailureKind is recorded on missions the patrol reaps
const FailureKind = "execution_failure"

// MissionStatus represents the health status of a mission
type MissionStatus struct {
	MissionID  string
	UserID     string
	Goal       string
	State      models.MissionState
	Status     string
	LastUpdate time.Time
	Message    string
}

// ActiveChecker reports which missions an in-process coordinator is driving
type ActiveChecker interface {
	Active() []string
}

// Patrol manages background mission monitoring
type Patrol struct {
	missions     storage.MissionStore
	active       ActiveChecker
	roster       *registry.Roster
	evaluator    *budget.Evaluator
	allocated    int64
	interval     time.Duration // Default 2 minutes
	staleTimeout time.Duration // Default 30 minutes
	onAbandoned  func(status MissionStatus)
	logger       *slog.Logger
	now          func() time.Time
	mu           sync.RWMutex
	statuses     map[string]*MissionStatus
}

// Option functions for configuration
type Option func(*Patrol)

// WithInterval sets the patrol check interval
func WithInterval(d time.Duration) Option {
	return func(p *Patrol) {
		p.interval = d
	}
}

// WithStaleTimeout sets how long a non-terminal mission may go without an
// update before it is considered abandoned
func WithStaleTimeout(d time.Duration) Option {
	return func(p *Patrol) {
		p.staleTimeout = d
	}
}

// WithOnAbandoned sets the callback for when a mission is reaped
func WithOnAbandoned(fn func(MissionStatus)) Option {
	return func(p *Patrol) {
		p.onAbandoned = fn
	}
}

// WithActive sets the checker for missions running in this process
func WithActive(a ActiveChecker) Option {
	return func(p *Patrol) {
		p.active = a
	}
}

// WithRoster releases workers left busy by reaped missions
func WithRoster(r *registry.Roster) Option {
	return func(p *Patrol) {
		p.roster = r
	}
}

// WithEvaluator evaluates every user's alert rules on each tick, using
// metrics derived from persisted missions
func WithEvaluator(e *budget.Evaluator, allocated int64) Option {
	return func(p *Patrol) {
		p.evaluator = e
		p.allocated = allocated
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Patrol) {
		p.logger = l
	}
}

// WithClock overrides time.Now (useful for testing)
func WithClock(now func() time.Time) Option {
	return func(p *Patrol) {
		p.now = now
	}
}

// New creates a new patrol instance
func New(missions storage.MissionStore, opts ...Option) *Patrol {
	p := &Patrol{
		missions:     missions,
		interval:     2 * time.Minute,
		staleTimeout: 30 * time.Minute,
		now:          time.Now,
		statuses:     make(map[string]*MissionStatus),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}

	return p
}

// Start begins the patrol loop
// - Runs ticker at interval
// - Calls checkAll() each tick
// - Stops when context is cancelled
func (p *Patrol) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial check immediately
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Patrol) tick(ctx context.Context) {
	if err := p.checkAll(ctx); err != nil {
		p.logger.Warn("patrol check failed", "error", err)
	}
	if err := p.evaluateAll(ctx); err != nil {
		p.logger.Warn("alert evaluation failed", "error", err)
	}
}

func (p *Patrol) activeSet() map[string]bool {
	set := make(map[string]bool)
	if p.active == nil {
		return set
	}
	for _, id := range p.active.Active() {
		set[id] = true
	}
	return set
}

// checkAll checks every persisted mission that is not yet terminal.
// Missions running in this process are left alone; the rest are reaped
// once they have gone staleTimeout without an update.
func (p *Patrol) checkAll(ctx context.Context) error {
	missions, err := p.missions.List(ctx, storage.MissionFilter{})
	if err != nil {
		return err
	}
	active := p.activeSet()

	for _, m := range missions {
		if m.State.Terminal() {
			p.forget(m.ID)
			continue
		}
		status, reaped := p.assess(ctx, m, active[m.ID])
		if reaped && p.onAbandoned != nil {
			p.onAbandoned(status)
		}
	}
	return nil
}

// Check checks a single mission
func (p *Patrol) Check(ctx context.Context, missionID string) (*MissionStatus, error) {
	m, err := p.missions.Get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if m.State.Terminal() {
		p.forget(m.ID)
		return &MissionStatus{
			MissionID:  m.ID,
			UserID:     m.UserID,
			Goal:       m.Goal,
			State:      m.State,
			Status:     StatusDone,
			LastUpdate: m.UpdatedAt,
		}, nil
	}

	status, reaped := p.assess(ctx, m, p.activeSet()[m.ID])
	if reaped && p.onAbandoned != nil {
		p.onAbandoned(status)
	}
	return &status, nil
}

// assess updates the status of one non-terminal mission and reaps it when
// stale. The returned bool is true only on the tick that reaped it.
func (p *Patrol) assess(ctx context.Context, m *models.Mission, running bool) (MissionStatus, bool) {
	now := p.now()

	p.mu.Lock()
	status, exists := p.statuses[m.ID]
	if !exists {
		status = &MissionStatus{MissionID: m.ID, UserID: m.UserID, Goal: m.Goal}
		p.statuses[m.ID] = status
	}
	status.State = m.State
	status.LastUpdate = m.UpdatedAt

	if running {
		status.Status = StatusActive
		status.Message = ""
		snapshot := *status
		p.mu.Unlock()
		return snapshot, false
	}

	idle := now.Sub(m.UpdatedAt)
	if idle <= p.staleTimeout {
		status.Status = StatusHealthy
		status.Message = ""
		snapshot := *status
		p.mu.Unlock()
		return snapshot, false
	}
	p.mu.Unlock()

	reason := "abandoned: no progress for " + idle.Round(time.Second).String()
	if err := p.reap(ctx, m, reason, now); err != nil {
		p.logger.Warn("failed to reap mission", "mission", m.ID, "error", err)
		p.mu.RLock()
		defer p.mu.RUnlock()
		return *status, false
	}

	p.mu.Lock()
	status.State = models.MissionFailed
	status.Status = StatusAbandoned
	status.Message = reason
	snapshot := *status
	p.mu.Unlock()

	p.logger.Info("mission reaped", "mission", m.ID, "reason", reason)
	return snapshot, true
}

func (p *Patrol) reap(ctx context.Context, m *models.Mission, reason string, now time.Time) error {
	m.State = models.MissionFailed
	m.Reason = reason
	m.FailureKind = FailureKind
	m.UpdatedAt = now
	m.FinishedAt = &now
	if err := p.missions.Update(ctx, m); err != nil {
		return err
	}

	if p.roster == nil {
		return nil
	}
	entries, err := p.roster.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.InFlight[m.ID] > 0 {
			if err := p.roster.Release(e.Name, m.ID); err != nil {
				p.logger.Warn("failed to release worker", "worker", e.Name, "error", err)
			}
		}
	}
	return nil
}

func (p *Patrol) forget(missionID string) {
	p.mu.Lock()
	delete(p.statuses, missionID)
	p.mu.Unlock()
}

// evaluateAll runs alert evaluation for every user with persisted missions
func (p *Patrol) evaluateAll(ctx context.Context) error {
	if p.evaluator == nil {
		return nil
	}
	missions, err := p.missions.List(ctx, storage.MissionFilter{})
	if err != nil {
		return err
	}
	byUser := make(map[string][]*models.Mission)
	for _, m := range missions {
		byUser[m.UserID] = append(byUser[m.UserID], m)
	}

	var errs []error
	for userID, ms := range byUser {
		h := budget.History{Missions: ms, Allocated: p.allocated, Now: p.now()}
		if _, err := p.evaluator.Evaluate(ctx, userID, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status returns all tracked mission statuses
func (p *Patrol) Status() []*MissionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]*MissionStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		// Make a copy to avoid race conditions
		statusCopy := *s
		statuses = append(statuses, &statusCopy)
	}
	return statuses
}
