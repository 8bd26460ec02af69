// Package mission drives a goal through planning, dependency-aware
// execution and verification, accounting every credit spent on the way.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gabe/crew/internal/budget"
	"github.com/gabe/crew/internal/logging"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/planner"
	"github.com/gabe/crew/internal/registry"
	"github.com/gabe/crew/internal/storage"
	"github.com/gabe/crew/internal/taskgraph"
	"github.com/gabe/crew/internal/verify"
	"github.com/gabe/crew/internal/worker"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Notifier announces finished missions
type Notifier interface {
	NotifyMissionCompleted(ctx context.Context, missionID, userID, goal string, cost int64)
	NotifyMissionFailed(ctx context.Context, missionID, userID, goal, reason string, cost int64)
}

// Coordinator runs missions against a worker registry
type Coordinator struct {
	registry  *registry.Registry
	oracle    planner.Oracle
	tracker   *budget.Tracker
	wallet    budget.Wallet
	evaluator *budget.Evaluator
	checker   *verify.Checker
	missions  storage.MissionStore
	graphs    *taskgraph.FileStore
	roster    *registry.Roster
	notifier  Notifier
	metrics   *budget.Metrics
	logger    *slog.Logger

	plannerName   string
	maxConcurrent int
	stepTimeout   time.Duration
	allocated     int64
	cacheSize     int
	now           func() time.Time

	mu     sync.RWMutex
	active map[string]*run
	done   *lru.Cache[string, Snapshot]
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithOracle sets the fallback planning oracle used when no planning worker
// is registered
func WithOracle(o planner.Oracle) Option { return func(c *Coordinator) { c.oracle = o } }

// WithPlannerWorker names the registered worker that plans missions
func WithPlannerWorker(name string) Option { return func(c *Coordinator) { c.plannerName = name } }

// WithTracker records usage into a budget tracker
func WithTracker(t *budget.Tracker) Option { return func(c *Coordinator) { c.tracker = t } }

// WithWallet gates dispatch on a credit balance
func WithWallet(w budget.Wallet) Option { return func(c *Coordinator) { c.wallet = w } }

// WithEvaluator evaluates alert rules after every step and at mission end
func WithEvaluator(e *budget.Evaluator) Option { return func(c *Coordinator) { c.evaluator = e } }

// WithChecker sets the independent verifier
func WithChecker(ch *verify.Checker) Option { return func(c *Coordinator) { c.checker = ch } }

// WithMissionStore persists mission records on every transition
func WithMissionStore(s storage.MissionStore) Option { return func(c *Coordinator) { c.missions = s } }

// WithGraphStore persists task graph snapshots
func WithGraphStore(s *taskgraph.FileStore) Option { return func(c *Coordinator) { c.graphs = s } }

// WithRoster publishes worker activity for other processes
func WithRoster(r *registry.Roster) Option { return func(c *Coordinator) { c.roster = r } }

// WithNotifier announces finished missions
func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

// WithMetrics exports mission outcomes
func WithMetrics(m *budget.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithLogger sets the coordinator logger
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithMaxConcurrentSteps bounds how many steps of one mission run at once
func WithMaxConcurrentSteps(n int) Option { return func(c *Coordinator) { c.maxConcurrent = n } }

// WithStepTimeout sets the execute bound for workers that declare none
func WithStepTimeout(d time.Duration) Option { return func(c *Coordinator) { c.stepTimeout = d } }

// WithBudget sets the allocated credits budget usage is measured against
func WithBudget(allocated int64) Option { return func(c *Coordinator) { c.allocated = allocated } }

// WithSnapshotCache sets how many finished mission snapshots stay cached
func WithSnapshotCache(size int) Option { return func(c *Coordinator) { c.cacheSize = size } }

// WithClock sets the time source
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// New creates a coordinator. A nil checker gets the default inspectors.
func New(reg *registry.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:      reg,
		maxConcurrent: 4,
		stepTimeout:   30 * time.Minute,
		cacheSize:     256,
		now:           time.Now,
		active:        make(map[string]*run),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	if c.checker == nil {
		c.checker = verify.NewChecker(verify.DefaultOptions())
	}
	if c.maxConcurrent < 1 {
		c.maxConcurrent = 1
	}
	if c.cacheSize < 1 {
		c.cacheSize = 1
	}
	// Only fails on a non-positive size
	c.done, _ = lru.New[string, Snapshot](c.cacheSize)
	return c
}

// NewMissionID returns a fresh mission id
func NewMissionID() string {
	return "ms-" + uuid.NewString()[:8]
}

// Request describes a mission to run
type Request struct {
	ID     string // optional, generated when empty
	UserID string
	Goal   string
	Oracle planner.Oracle // optional, overrides planner resolution
	Sink   worker.Sink    // optional, receives worker log lines
}

// Run drives one mission to a terminal state and returns its final record.
// The error is nil for COMPLETED missions and a *Failure otherwise.
func (c *Coordinator) Run(ctx context.Context, req Request) (*models.Mission, error) {
	if req.ID == "" {
		req.ID = NewMissionID()
	}
	if req.Goal == "" {
		return nil, fmt.Errorf("mission goal required")
	}

	now := c.now()
	r := newRun(&models.Mission{
		ID:           req.ID,
		UserID:       req.UserID,
		Goal:         req.Goal,
		State:        models.MissionCreated,
		CostByWorker: make(map[string]int64),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, req)
	r.logger = c.logger.With("mission", req.ID, "user", req.UserID)

	c.mu.Lock()
	if _, exists := c.active[req.ID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMissionRunning, req.ID)
	}
	c.active[req.ID] = r
	c.mu.Unlock()

	if c.missions != nil {
		if err := c.missions.Create(ctx, r.snapshotMission()); err != nil {
			r.logger.Warn("failed to persist mission", "error", err)
		}
	}
	r.logger.Info("mission created", "goal", req.Goal)

	failure := c.drive(ctx, r)
	final := c.finalize(ctx, r, failure)

	c.mu.Lock()
	delete(c.active, req.ID)
	c.mu.Unlock()

	if failure != nil {
		return final, failure
	}
	return final, nil
}

// drive runs the phases in order, stopping at the first failure
func (c *Coordinator) drive(ctx context.Context, r *run) *Failure {
	if f := c.transition(ctx, r, models.MissionPlanning); f != nil {
		return f
	}
	if f := c.plan(ctx, r); f != nil {
		return f
	}
	if f := r.checkCancelled(ctx); f != nil {
		return f
	}
	if f := c.buildGraph(r); f != nil {
		return f
	}
	if f := c.transition(ctx, r, models.MissionExecuting); f != nil {
		return f
	}
	if f := c.execute(ctx, r); f != nil {
		return f
	}
	if f := c.transition(ctx, r, models.MissionVerifying); f != nil {
		return f
	}
	return c.verify(ctx, r)
}

// transition moves the mission along one edge of the state machine and
// persists the record. An illegal edge is a programming error.
func (c *Coordinator) transition(ctx context.Context, r *run, to models.MissionState) *Failure {
	r.mu.Lock()
	from := r.mission.State
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return &Failure{
			Kind:   FailureExecution,
			Reason: fmt.Sprintf("illegal transition %s -> %s", from, to),
			Err:    ErrInvalidTransition,
		}
	}
	r.mission.State = to
	r.mission.UpdatedAt = c.now()
	r.mu.Unlock()

	r.logger.Info("mission transition", "from", from, "to", to)
	c.persist(ctx, r)
	return nil
}

func (c *Coordinator) persist(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	if c.missions != nil {
		if err := c.missions.Update(ctx, r.snapshotMission()); err != nil {
			r.logger.Warn("failed to persist mission", "error", err)
		}
	}
	if c.graphs != nil && r.graph != nil {
		if err := c.graphs.SaveGraph(r.mission.ID, r.graph); err != nil {
			r.logger.Warn("failed to persist task graph", "error", err)
		}
	}
}

// finalize records the outcome, moving through CANCELLING when the mission
// was cancelled, and runs the post-mission hooks.
func (c *Coordinator) finalize(ctx context.Context, r *run, failure *Failure) *models.Mission {
	ctx = context.WithoutCancel(ctx)

	if failure != nil {
		if failure.Kind == FailureCancelled && r.state() != models.MissionCancelling {
			c.transition(ctx, r, models.MissionCancelling)
		}
		r.mu.Lock()
		m := r.mission
		m.Reason = failure.Reason
		if m.Reason == "" {
			m.Reason = failure.Error()
		}
		m.FailureKind = string(failure.Kind)
		m.FailedStep = failure.StepID
		m.FailedWorker = failure.Worker
		m.FailedCheck = failure.Check
		r.mu.Unlock()
	}

	if r.graph != nil && r.umbrellaID != "" {
		if failure == nil {
			r.graph.Complete(r.umbrellaID)
		} else {
			r.graph.Annotate(r.umbrellaID, map[string]string{"failure": string(failure.Kind)})
		}
	}

	to := models.MissionCompleted
	if failure != nil {
		to = models.MissionFailed
	}
	if f := c.transition(ctx, r, to); f != nil {
		// Only reachable from a terminal state, which drive never returns from
		r.logger.Error("cannot finalize mission", "error", f)
	}

	r.mu.Lock()
	finished := c.now()
	r.mission.FinishedAt = &finished
	r.mu.Unlock()
	c.persist(ctx, r)

	final := r.snapshotMission()
	snap := r.snapshot()
	c.done.Add(final.ID, snap)

	kind := final.FailureKind
	c.metrics.ObserveMission(string(final.State), kind)
	c.evaluate(ctx, r, 0)

	if failure != nil {
		r.logger.Warn("mission failed", "kind", kind, "step", final.FailedStep, "reason", final.Reason, "cost", final.TotalCost)
		if c.notifier != nil {
			c.notifier.NotifyMissionFailed(ctx, final.ID, final.UserID, final.Goal, final.Reason, final.TotalCost)
		}
	} else {
		r.logger.Info("mission completed", "cost", final.TotalCost)
		if c.notifier != nil {
			c.notifier.NotifyMissionCompleted(ctx, final.ID, final.UserID, final.Goal, final.TotalCost)
		}
	}
	return final
}

// evaluate runs the alert rules for the mission's user. With a mission store
// the metrics come from the user's stored missions, this run's live record
// replacing its stored one; crew serve and crew alerts eval read the same
// history. Without a store the tracker is the only record.
func (c *Coordinator) evaluate(ctx context.Context, r *run, queueDepth int) {
	if c.evaluator == nil {
		return
	}
	src, ok := c.metricsSource(ctx, r, queueDepth)
	if !ok {
		return
	}
	if _, err := c.evaluator.Evaluate(ctx, r.mission.UserID, src); err != nil {
		r.logger.Warn("alert evaluation failed", "error", err)
	}
}

func (c *Coordinator) metricsSource(ctx context.Context, r *run, queueDepth int) (budget.Source, bool) {
	userID := r.mission.UserID
	if c.missions != nil {
		stored, err := c.missions.List(ctx, storage.MissionFilter{UserID: userID})
		if err == nil {
			h := budget.History{Missions: stored, Allocated: c.allocated, Now: c.now()}
			return h.WithMission(r.snapshotMission()), true
		}
		r.logger.Warn("failed to load mission history for alerts", "error", err)
	}
	if c.tracker == nil {
		return nil, false
	}
	return c.tracker.Source(userID, c.allocated, queueDepth), true
}

// Cancel stops dispatching new steps of a running mission. Steps already
// running finish; the mission then ends FAILED with a cancelled reason.
func (c *Coordinator) Cancel(missionID, reason string) error {
	c.mu.RLock()
	r, ok := c.active[missionID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissionNotRunning, missionID)
	}
	r.cancel(reason)
	return nil
}

// Active returns the ids of missions currently running
func (c *Coordinator) Active() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the current record of a mission, running or stored
func (c *Coordinator) Get(ctx context.Context, missionID string) (*models.Mission, error) {
	c.mu.RLock()
	r, ok := c.active[missionID]
	c.mu.RUnlock()
	if ok {
		return r.snapshotMission(), nil
	}
	if c.missions == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}
	m, err := c.missions.Get(ctx, missionID)
	if errors.Is(err, storage.ErrMissionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}
	return m, err
}
