package budget

import (
	"sort"
	"sync"
	"time"

	"github.com/gabe/crew/internal/models"
)

// maxWindow bounds how long call events are kept for windowed metrics
const maxWindow = 24 * time.Hour

// WorkerUsage is the accumulated spend of one worker for one user
type WorkerUsage struct {
	Calls            int64 `json:"calls"`
	Errors           int64 `json:"errors"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	Cost             int64 `json:"cost"`
}

// UsageSummary is the accumulated spend of one user
type UsageSummary struct {
	WorkerUsage
	ByWorker map[string]WorkerUsage `json:"by_worker"`
}

type callEvent struct {
	at      time.Time
	success bool
}

type userUsage struct {
	total    WorkerUsage
	byWorker map[string]*WorkerUsage
	events   []callEvent
}

// Tracker accumulates token and credit usage per user and per worker
type Tracker struct {
	mu              sync.Mutex
	users           map[string]*userUsage
	tokensPerCredit int
	metrics         *Metrics
	now             func() time.Time
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithTokensPerCredit overrides the exchange rate used by Estimate
func WithTokensPerCredit(n int) TrackerOption {
	return func(t *Tracker) { t.tokensPerCredit = n }
}

// WithMetrics exports every recorded call to Prometheus
func WithMetrics(m *Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock sets the time source
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		users:           make(map[string]*userUsage),
		tokensPerCredit: TokensPerCredit,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Estimate converts tokens to credits at the tracker's rate
func (t *Tracker) Estimate(promptTokens, completionTokens int) int64 {
	return EstimateCostWith(promptTokens, completionTokens, t.tokensPerCredit)
}

// Record adds one call's usage. Counters only grow.
func (t *Tracker) Record(userID, worker string, promptTokens, completionTokens int, cost int64) {
	t.RecordResult(userID, worker, models.AgentResult{
		Success:          true,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             cost,
	})
}

// RecordResult adds a worker result, counting failures for the error rate
func (t *Tracker) RecordResult(userID, worker string, res models.AgentResult) {
	if res.Cost < 0 {
		res.Cost = 0
	}

	t.mu.Lock()
	u, ok := t.users[userID]
	if !ok {
		u = &userUsage{byWorker: make(map[string]*WorkerUsage)}
		t.users[userID] = u
	}
	w, ok := u.byWorker[worker]
	if !ok {
		w = &WorkerUsage{}
		u.byWorker[worker] = w
	}
	for _, acc := range []*WorkerUsage{&u.total, w} {
		acc.Calls++
		if !res.Success {
			acc.Errors++
		}
		acc.PromptTokens += int64(res.PromptTokens)
		acc.CompletionTokens += int64(res.CompletionTokens)
		acc.Cost += res.Cost
	}

	now := t.now()
	u.events = append(u.events, callEvent{at: now, success: res.Success})
	cutoff := now.Add(-maxWindow)
	drop := sort.Search(len(u.events), func(i int) bool { return !u.events[i].at.Before(cutoff) })
	u.events = u.events[drop:]
	t.mu.Unlock()

	t.metrics.ObserveCall(worker, res.PromptTokens, res.CompletionTokens, res.Cost,
		res.Success, time.Duration(res.DurationMs)*time.Millisecond)
}

// Usage returns a copy of a user's accumulated usage
func (t *Tracker) Usage(userID string) UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := UsageSummary{ByWorker: make(map[string]WorkerUsage)}
	u, ok := t.users[userID]
	if !ok {
		return summary
	}
	summary.WorkerUsage = u.total
	for name, w := range u.byWorker {
		summary.ByWorker[name] = *w
	}
	return summary
}

// MetricsSnapshot holds the alertable values for one user at one instant
type MetricsSnapshot struct {
	BudgetUsage float64 `json:"budget_usage"` // percent of allocated credits
	ErrorRate   float64 `json:"error_rate"`   // percent of calls in window
	QueueDepth  float64 `json:"queue_depth"`
	Throughput  float64 `json:"throughput"` // calls per minute in window
	TotalCost   float64 `json:"total_cost"`
}

// Value returns the named metric
func (s MetricsSnapshot) Value(m models.Metric) (float64, bool) {
	switch m {
	case models.MetricBudgetUsage:
		return s.BudgetUsage, true
	case models.MetricErrorRate:
		return s.ErrorRate, true
	case models.MetricQueueDepth:
		return s.QueueDepth, true
	case models.MetricThroughput:
		return s.Throughput, true
	case models.MetricTotalCost:
		return s.TotalCost, true
	}
	return 0, false
}

// Source returns the tracker's view of a user as a Source, for processes
// without a mission store
func (t *Tracker) Source(userID string, allocated int64, queueDepth int) Source {
	return SourceFunc(func(window time.Duration) MetricsSnapshot {
		return t.Snapshot(userID, allocated, queueDepth, window)
	})
}

// Snapshot computes a user's metrics. allocated is the user's credit budget;
// window bounds error rate and throughput.
func (t *Tracker) Snapshot(userID string, allocated int64, queueDepth int, window time.Duration) MetricsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := MetricsSnapshot{QueueDepth: float64(queueDepth)}
	u, ok := t.users[userID]
	if !ok {
		return snap
	}

	snap.TotalCost = float64(u.total.Cost)
	if allocated > 0 {
		snap.BudgetUsage = float64(u.total.Cost) * 100 / float64(allocated)
	}

	if window <= 0 || window > maxWindow {
		window = maxWindow
	}
	cutoff := t.now().Add(-window)
	var calls, failures int
	for _, ev := range u.events {
		if ev.at.Before(cutoff) {
			continue
		}
		calls++
		if !ev.success {
			failures++
		}
	}
	if calls > 0 {
		snap.ErrorRate = float64(failures) * 100 / float64(calls)
	}
	snap.Throughput = float64(calls) / window.Minutes()
	return snap
}
