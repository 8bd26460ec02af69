package budget

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gabe/crew/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCost(t *testing.T) {
	assert.Equal(t, int64(1), EstimateCost(100, 100))
	assert.Equal(t, int64(0), EstimateCost(0, 0))
	assert.Equal(t, int64(1), EstimateCost(1000, 0))
	assert.Equal(t, int64(2), EstimateCost(1000, 1))
	assert.Equal(t, int64(3), EstimateCostWith(250, 250, 200))
}

func TestTrackerAccumulates(t *testing.T) {
	tr := NewTracker(WithMetrics(MustNewMetrics(prometheus.NewRegistry())))

	tr.Record("u1", "writer", 500, 500, 1)
	tr.RecordResult("u1", "tester", models.AgentResult{Success: false, Cost: 2, PromptTokens: 10})
	tr.Record("u2", "writer", 10, 10, 5)

	usage := tr.Usage("u1")
	assert.Equal(t, int64(2), usage.Calls)
	assert.Equal(t, int64(1), usage.Errors)
	assert.Equal(t, int64(3), usage.Cost)
	assert.Equal(t, int64(510), usage.PromptTokens)
	assert.Equal(t, int64(1), usage.ByWorker["writer"].Cost)
	assert.Equal(t, int64(2), usage.ByWorker["tester"].Cost)

	assert.Equal(t, int64(5), tr.Usage("u2").Cost)
	assert.Empty(t, tr.Usage("nobody").ByWorker)
}

func TestTrackerIgnoresNegativeCost(t *testing.T) {
	tr := NewTracker()
	tr.Record("u1", "w", 0, 0, 4)
	tr.Record("u1", "w", 0, 0, -10)
	assert.Equal(t, int64(4), tr.Usage("u1").Cost)
}

func TestTrackerSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tr := NewTracker(WithClock(clock))

	// Outside the window
	tr.RecordResult("u1", "w", models.AgentResult{Success: false, Cost: 10})
	now = now.Add(2 * time.Hour)
	tr.RecordResult("u1", "w", models.AgentResult{Success: true, Cost: 30})
	tr.RecordResult("u1", "w", models.AgentResult{Success: false, Cost: 47})

	snap := tr.Snapshot("u1", 100, 3, time.Hour)
	assert.InDelta(t, 87.0, snap.BudgetUsage, 0.001)
	assert.InDelta(t, 50.0, snap.ErrorRate, 0.001)
	assert.InDelta(t, 2.0/60.0, snap.Throughput, 0.0001)
	assert.Equal(t, 3.0, snap.QueueDepth)
	assert.Equal(t, 87.0, snap.TotalCost)

	v, ok := snap.Value(models.MetricBudgetUsage)
	assert.True(t, ok)
	assert.InDelta(t, 87.0, v, 0.001)
	_, ok = snap.Value(models.Metric("bogus"))
	assert.False(t, ok)
}

type recordedDispatch struct {
	channels []string
	ruleID   string
	event    string
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []recordedDispatch
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, channels []string, ruleID, event string, payload map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, recordedDispatch{channels: channels, ruleID: ruleID, event: event})
}

func firingsFor(t *testing.T, store RuleStore, userID string) []*models.AlertFiring {
	t.Helper()
	f, err := store.ListFirings(context.Background(), userID)
	require.NoError(t, err)
	return f
}

func TestEvaluatorCustomRuleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRuleStore()
	disp := &fakeDispatcher{}
	ev := NewEvaluator(store, WithDispatcher(disp), WithTiers(nil),
		WithEvaluatorMetrics(MustNewMetrics(prometheus.NewRegistry())))

	require.NoError(t, store.CreateRule(ctx, &models.AlertRule{
		ID: "r1", UserID: "u1", Name: "errors", Metric: models.MetricErrorRate,
		Condition: models.ConditionGT, Threshold: 10, Channels: []string{"inbox"}, Active: true,
	}))

	snap := MetricsSnapshot{ErrorRate: 25}
	trs, err := ev.Evaluate(ctx, "u1", snap)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, EventFired, trs[0].Event)

	trs, err = ev.Evaluate(ctx, "u1", snap)
	require.NoError(t, err)
	assert.Empty(t, trs)

	firings := firingsFor(t, store, "u1")
	require.Len(t, firings, 1)
	assert.True(t, firings[0].Open())
	assert.NotEmpty(t, firings[0].ID)

	rule, err := store.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, rule.IsFiring)
	assert.NotNil(t, rule.LastFiredAt)

	trs, err = ev.Evaluate(ctx, "u1", MetricsSnapshot{ErrorRate: 5})
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, EventResolved, trs[0].Event)
	assert.False(t, firingsFor(t, store, "u1")[0].Open())

	require.Len(t, disp.events, 2)
	assert.Equal(t, []string{"inbox"}, disp.events[0].channels)
	assert.Equal(t, EventFired, disp.events[0].event)
	assert.Equal(t, EventResolved, disp.events[1].event)
}

func TestEvaluatorSkipsInactiveRules(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRuleStore()
	ev := NewEvaluator(store, WithTiers(nil))
	require.NoError(t, store.CreateRule(ctx, &models.AlertRule{
		ID: "r1", UserID: "u1", Metric: models.MetricTotalCost,
		Condition: models.ConditionGTE, Threshold: 1, Active: false,
	}))

	trs, err := ev.Evaluate(ctx, "u1", MetricsSnapshot{TotalCost: 100})
	require.NoError(t, err)
	assert.Empty(t, trs)
}

func TestEvaluatorBudgetTiers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRuleStore()
	disp := &fakeDispatcher{}
	ev := NewEvaluator(store, WithDispatcher(disp), WithDefaultChannels("terminal"))

	warning := BuiltinRuleID("u1", models.SeverityWarning)
	critical := BuiltinRuleID("u1", models.SeverityCritical)

	trs, err := ev.Evaluate(ctx, "u1", MetricsSnapshot{BudgetUsage: 87})
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, warning, trs[0].RuleID)
	assert.Equal(t, models.SeverityWarning, trs[0].Severity)

	trs, err = ev.Evaluate(ctx, "u1", MetricsSnapshot{BudgetUsage: 92})
	require.NoError(t, err)
	require.Len(t, trs, 2)
	byRule := map[string]string{}
	for _, tr := range trs {
		byRule[tr.RuleID] = tr.Event
	}
	assert.Equal(t, EventResolved, byRule[warning])
	assert.Equal(t, EventFired, byRule[critical])

	var open []*models.AlertFiring
	for _, f := range firingsFor(t, store, "u1") {
		if f.Open() {
			open = append(open, f)
		}
	}
	require.Len(t, open, 1)
	assert.Equal(t, critical, open[0].RuleID)
	assert.Equal(t, models.SeverityCritical, open[0].Severity)

	for _, d := range disp.events {
		assert.Equal(t, []string{"terminal"}, d.channels)
	}
}

func TestEvaluatorBuiltinsArePerUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRuleStore()
	ev := NewEvaluator(store)

	_, err := ev.Evaluate(ctx, "u1", MetricsSnapshot{BudgetUsage: 95})
	require.NoError(t, err)
	trs, err := ev.Evaluate(ctx, "u2", MetricsSnapshot{BudgetUsage: 10})
	require.NoError(t, err)
	assert.Empty(t, trs)

	rules, err := store.ListRules(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	for _, r := range rules {
		assert.True(t, IsBuiltin(r))
		assert.False(t, r.IsFiring)
	}
}

func TestFileRuleStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileRuleStore(dir)
	require.NoError(t, err)

	rule := &models.AlertRule{
		ID: "r1", UserID: "u1", Name: "spend", Metric: models.MetricTotalCost,
		Condition: models.ConditionGT, Threshold: 50, Channels: []string{"inbox", "log"}, Active: true,
	}
	require.NoError(t, store.CreateRule(ctx, rule))
	assert.Error(t, store.CreateRule(ctx, rule))
	assert.Error(t, store.CreateRule(ctx, &models.AlertRule{ID: "bad", Metric: "nope", Condition: models.ConditionGT}))

	ev := NewEvaluator(store, WithTiers(nil))
	_, err = ev.Evaluate(ctx, "u1", MetricsSnapshot{TotalCost: 60})
	require.NoError(t, err)

	reopened, err := NewFileRuleStore(dir)
	require.NoError(t, err)
	got, err := reopened.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.IsFiring)
	assert.Equal(t, []string{"inbox", "log"}, got.Channels)

	firings, err := reopened.ListFirings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, 60.0, firings[0].Value)

	require.NoError(t, reopened.DeleteRule(ctx, "r1"))
	_, err = reopened.GetRule(ctx, "r1")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestMemoryWallet(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet(10)

	bal, err := w.CheckBalance(ctx, "u1", 5)
	require.NoError(t, err)
	assert.True(t, bal.Allowed)
	assert.Equal(t, int64(10), bal.Remaining)

	require.NoError(t, w.Deduct(ctx, "u1", 8, "mission m1 step s1"))
	bal, err = w.CheckBalance(ctx, "u1", 5)
	require.NoError(t, err)
	assert.False(t, bal.Allowed)
	assert.Equal(t, int64(2), bal.Remaining)

	w.Credit("u1", 3)
	bal, _ = w.CheckBalance(ctx, "u1", 5)
	assert.True(t, bal.Allowed)

	assert.ErrorIs(t, w.Deduct(ctx, "u1", -1, ""), ErrInvalidAmount)
	require.Len(t, w.Ledger(), 1)
	assert.Equal(t, int64(8), w.Ledger()[0].Amount)
}

func TestRedisWallet(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	prefix := "crew-test:" + time.Now().Format("150405.000000")
	w := NewRedisWallet(client, prefix, 10)
	t.Cleanup(func() {
		client.Del(context.Background(), w.balanceKey("u1"), w.ledgerKey("u1"))
	})

	bal, err := w.CheckBalance(ctx, "u1", 10)
	require.NoError(t, err)
	assert.True(t, bal.Allowed)

	require.NoError(t, w.Deduct(ctx, "u1", 7, "step"))
	bal, err = w.CheckBalance(ctx, "u1", 5)
	require.NoError(t, err)
	assert.False(t, bal.Allowed)
	assert.Equal(t, int64(3), bal.Remaining)

	require.NoError(t, w.Credit(ctx, "u1", 2))
	bal, err = w.CheckBalance(ctx, "u1", 5)
	require.NoError(t, err)
	assert.True(t, bal.Allowed)
}

func TestSnapshotFromMissions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-3 * time.Hour)
	recent := now.Add(-10 * time.Minute)
	missions := []*models.Mission{
		{State: models.MissionCompleted, TotalCost: 30, FinishedAt: &recent},
		{State: models.MissionFailed, TotalCost: 20, FinishedAt: &recent},
		{State: models.MissionFailed, TotalCost: 10, FinishedAt: &old},
		{State: models.MissionExecuting, TotalCost: 40, UpdatedAt: now},
	}

	snap := SnapshotFromMissions(missions, 200, time.Hour, now)
	assert.Equal(t, float64(100), snap.TotalCost)
	assert.Equal(t, float64(50), snap.BudgetUsage)
	assert.Equal(t, float64(1), snap.QueueDepth)
	assert.Equal(t, float64(50), snap.ErrorRate)
	assert.InDelta(t, 2.0/60, snap.Throughput, 1e-9)

	empty := SnapshotFromMissions(nil, 0, time.Hour, now)
	assert.Zero(t, empty.BudgetUsage)
	assert.Zero(t, empty.ErrorRate)
}

func TestEvaluatorUsesRuleWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-3 * time.Hour)
	recent := now.Add(-10 * time.Minute)
	history := History{
		Missions: []*models.Mission{
			{ID: "m1", State: models.MissionCompleted, FinishedAt: &recent},
			{ID: "m2", State: models.MissionFailed, FinishedAt: &old},
		},
		Allocated: 100,
		Now:       now,
	}

	store := NewMemoryRuleStore()
	ev := NewEvaluator(store, WithTiers(nil), WithWindow(time.Hour))
	for _, r := range []*models.AlertRule{
		{ID: "short", UserID: "u1", Metric: models.MetricErrorRate, Condition: models.ConditionGT, Threshold: 40, Active: true},
		{ID: "long", UserID: "u1", Metric: models.MetricErrorRate, Condition: models.ConditionGT, Threshold: 40, WindowMinutes: 240, Active: true},
	} {
		require.NoError(t, store.CreateRule(ctx, r))
	}

	trs, err := ev.Evaluate(ctx, "u1", history)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, "long", trs[0].RuleID)
	assert.Equal(t, float64(50), trs[0].Value)

	short, err := store.GetRule(ctx, "short")
	require.NoError(t, err)
	assert.False(t, short.IsFiring)
}

func TestHistoryWithMission(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := History{
		Missions: []*models.Mission{
			{ID: "old", State: models.MissionCompleted, TotalCost: 920},
			{ID: "live", State: models.MissionCreated, TotalCost: 0},
		},
		Allocated: 1000,
		Now:       now,
	}

	merged := h.WithMission(&models.Mission{ID: "live", State: models.MissionExecuting, TotalCost: 5})
	snap := merged.Over(time.Hour)
	assert.Equal(t, float64(925), snap.TotalCost)
	assert.InDelta(t, 92.5, snap.BudgetUsage, 1e-9)
	assert.Equal(t, float64(1), snap.QueueDepth)

	added := h.WithMission(&models.Mission{ID: "new", State: models.MissionExecuting, TotalCost: 1})
	assert.Len(t, added.Missions, 3)
	assert.Len(t, h.Missions, 2)
}
