package mission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/taskgraph"
	"github.com/gabe/crew/internal/worker"
)

// run is the state of one mission. Only the goroutine inside Coordinator.Run
// mutates it; mu lets snapshot readers see a consistent view.
type run struct {
	mu      sync.RWMutex
	mission *models.Mission
	req     Request
	logger  *slog.Logger

	graph      *taskgraph.Graph
	umbrellaID string
	steps      map[string]models.PlanStep // by task id
	taskOf     map[string]string          // step id -> task id
	workers    map[string]worker.Worker   // by step id
	results    map[string]worker.Execution
	current    map[string]bool // step ids in flight

	// credits held for dispatched steps until their result is deducted
	reserved int64
	held     map[string]int64 // by task id

	cancelOnce   sync.Once
	cancelled    chan struct{}
	cancelReason string
}

func newRun(m *models.Mission, req Request) *run {
	return &run{
		mission:   m,
		req:       req,
		steps:     make(map[string]models.PlanStep),
		taskOf:    make(map[string]string),
		workers:   make(map[string]worker.Worker),
		results:   make(map[string]worker.Execution),
		current:   make(map[string]bool),
		held:      make(map[string]int64),
		cancelled: make(chan struct{}),
	}
}

func (r *run) cancel(reason string) {
	r.cancelOnce.Do(func() {
		r.mu.Lock()
		r.cancelReason = reason
		r.mu.Unlock()
		close(r.cancelled)
	})
}

func (r *run) cancelFailure() *Failure {
	r.mu.RLock()
	reason := r.cancelReason
	r.mu.RUnlock()
	if reason == "" {
		reason = "requested"
	}
	return &Failure{Kind: FailureCancelled, Reason: "cancelled: " + reason}
}

// checkCancelled reports a cancellation requested through Cancel or ctx
func (r *run) checkCancelled(ctx context.Context) *Failure {
	select {
	case <-r.cancelled:
		return r.cancelFailure()
	case <-ctx.Done():
		return &Failure{Kind: FailureCancelled, Reason: "cancelled: " + ctx.Err().Error(), Err: ctx.Err()}
	default:
		return nil
	}
}

func (r *run) state() models.MissionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mission.State
}

func (r *run) snapshotMission() *models.Mission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mission.Clone()
}

func (r *run) workerContext(step models.PlanStep) worker.Context {
	prior := make(map[string]models.AgentResult, len(r.results))
	for id, ex := range r.results {
		prior[id] = ex.Result
	}
	return worker.Context{
		UserID:       r.mission.UserID,
		MissionID:    r.mission.ID,
		Goal:         r.mission.Goal,
		PriorResults: prior,
		Sink:         worker.WithPrefix(r.req.Sink, step.ID),
	}
}

// addCost accrues a result into the mission totals. Negative costs are
// ignored so totals never decrease.
func (r *run) addCost(workerName string, res models.AgentResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Cost > 0 {
		r.mission.TotalCost += res.Cost
		r.mission.CostByWorker[workerName] += res.Cost
	}
	if res.PromptTokens > 0 {
		r.mission.PromptTokens += int64(res.PromptTokens)
	}
	if res.CompletionTokens > 0 {
		r.mission.CompletionTokens += int64(res.CompletionTokens)
	}
}

func (r *run) setCurrent(stepID string, busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if busy {
		r.current[stepID] = true
	} else {
		delete(r.current, stepID)
	}
}

// Snapshot is a read-only view of a mission's progress
type Snapshot struct {
	MissionID    string                     `json:"mission_id"`
	UserID       string                     `json:"user_id"`
	Goal         string                     `json:"goal"`
	State        models.MissionState        `json:"state"`
	Completed    int                        `json:"completed"`
	Total        int                        `json:"total"`
	Percent      float64                    `json:"percent"`
	CurrentSteps []string                   `json:"current_steps,omitempty"`
	CostToDate   int64                      `json:"cost_to_date"`
	CostByWorker map[string]int64           `json:"cost_by_worker,omitempty"`
	Report       *models.VerificationReport `json:"report,omitempty"`
	Reason       string                     `json:"reason,omitempty"`
	FailureKind  string                     `json:"failure_kind,omitempty"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

func (r *run) snapshot() Snapshot {
	m := r.snapshotMission()
	s := snapshotOf(m)

	r.mu.RLock()
	for id := range r.current {
		s.CurrentSteps = append(s.CurrentSteps, id)
	}
	graph, umbrellaID := r.graph, r.umbrellaID
	r.mu.RUnlock()
	sort.Strings(s.CurrentSteps)

	if graph != nil && umbrellaID != "" {
		s.Completed, s.Total, _ = graph.Progress(umbrellaID)
		s.Percent = taskgraph.Percent(s.Completed, s.Total)
	}
	return s
}

func snapshotOf(m *models.Mission) Snapshot {
	return Snapshot{
		MissionID:    m.ID,
		UserID:       m.UserID,
		Goal:         m.Goal,
		State:        m.State,
		CostToDate:   m.TotalCost,
		CostByWorker: m.CostByWorker,
		Report:       m.Report,
		Reason:       m.Reason,
		FailureKind:  m.FailureKind,
		UpdatedAt:    m.UpdatedAt,
	}
}

// Snapshot returns the progress of a running or finished mission
func (c *Coordinator) Snapshot(ctx context.Context, missionID string) (Snapshot, error) {
	c.mu.RLock()
	r, ok := c.active[missionID]
	c.mu.RUnlock()
	if ok {
		return r.snapshot(), nil
	}
	if s, ok := c.done.Get(missionID); ok {
		return s, nil
	}

	m, err := c.Get(ctx, missionID)
	if err != nil {
		return Snapshot{}, err
	}
	s := snapshotOf(m)
	if c.graphs != nil && m.UmbrellaTaskID != "" {
		if g, err := c.graphs.LoadGraph(missionID); err == nil {
			if done, total, err := g.Progress(m.UmbrellaTaskID); err == nil {
				s.Completed, s.Total = done, total
				s.Percent = taskgraph.Percent(done, total)
			}
		}
	}
	if m.State.Terminal() {
		c.done.Add(missionID, s)
	}
	return s, nil
}

// Tasks returns a mission's task hierarchy, umbrella first
func (c *Coordinator) Tasks(ctx context.Context, missionID string) ([]*models.Task, error) {
	c.mu.RLock()
	r, ok := c.active[missionID]
	c.mu.RUnlock()
	if ok {
		r.mu.RLock()
		graph, umbrellaID := r.graph, r.umbrellaID
		r.mu.RUnlock()
		if graph != nil {
			return graph.GetHierarchy(umbrellaID)
		}
	}
	if c.graphs == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}
	g, err := c.graphs.LoadGraph(missionID)
	if err != nil {
		return nil, err
	}
	tasks := g.List(taskgraph.Filter{})
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}
	return tasks, nil
}
