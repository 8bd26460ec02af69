package mission

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabe/crew/internal/budget"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/planner"
	"github.com/gabe/crew/internal/registry"
	"github.com/gabe/crew/internal/storage"
	"github.com/gabe/crew/internal/taskgraph"
	"github.com/gabe/crew/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execFunc func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution

func newWorker(name string, parallelSafe bool, caps []string, fn execFunc) *worker.Func {
	return &worker.Func{
		WorkerSpec: models.WorkerSpec{
			Name:         name,
			Capabilities: caps,
			ParallelSafe: parallelSafe,
		},
		ExecuteFunc: fn,
	}
}

func succeed(cost int64) execFunc {
	return func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		return worker.Execution{Result: models.AgentResult{Success: true, Data: step.ID + " done", Cost: cost}}
	}
}

func fixedPlan(steps ...models.PlanStep) planner.Oracle {
	return planner.Func(func(ctx context.Context, goal string) (*models.Plan, error) {
		return &models.Plan{Steps: steps}, nil
	})
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (n *recordingNotifier) NotifyMissionCompleted(ctx context.Context, missionID, userID, goal string, cost int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, missionID)
}

func (n *recordingNotifier) NotifyMissionFailed(ctx context.Context, missionID, userID, goal, reason string, cost int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, missionID)
}

func asFailure(t *testing.T, err error) *Failure {
	t.Helper()
	var f *Failure
	require.True(t, errors.As(err, &f), "expected *Failure, got %v", err)
	return f
}

func TestParallelSafeStepsBecomeReadyTogether(t *testing.T) {
	reg := registry.New()

	var arrived atomic.Int32
	both := make(chan struct{})
	rendezvous := func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		if arrived.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return worker.Execution{Result: models.AgentResult{Success: true, Cost: 1}}
		case <-time.After(2 * time.Second):
			return worker.Failed(models.ReasonError, "step %s ran alone", step.ID)
		}
	}

	reg.Register(newWorker("builder", false, []string{"build"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		if step.ID == "A" {
			return worker.Execution{Result: models.AgentResult{Success: true, Cost: 1}}
		}
		return rendezvous(ctx, step, mc)
	}))
	reg.Register(newWorker("linter", true, []string{"lint"}, rendezvous))

	c := New(reg, WithMaxConcurrentSteps(3))
	m, err := c.Run(context.Background(), Request{
		UserID: "u1",
		Goal:   "build and lint",
		Oracle: fixedPlan(
			models.PlanStep{ID: "A", Action: "build", Worker: "builder"},
			models.PlanStep{ID: "B", Action: "package", Worker: "builder", DependsOn: []string{"A"}},
			models.PlanStep{ID: "C", Action: "lint", Worker: "linter", DependsOn: []string{"A"}},
		),
	})
	require.NoError(t, err)
	assert.Equal(t, models.MissionCompleted, m.State)
	assert.Equal(t, int64(3), m.TotalCost)
	assert.NotEmpty(t, m.UmbrellaTaskID)
	require.NotNil(t, m.FinishedAt)
}

func TestImplicitDependencyOnPreviousStep(t *testing.T) {
	reg := registry.New()
	var mu sync.Mutex
	var order []string
	record := func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		mu.Lock()
		order = append(order, step.ID)
		mu.Unlock()
		return worker.Execution{Result: models.AgentResult{Success: true}}
	}
	reg.Register(newWorker("serial", false, []string{"x"}, record))

	c := New(reg, WithMaxConcurrentSteps(4))
	_, err := c.Run(context.Background(), Request{
		Goal: "ordered",
		Oracle: fixedPlan(
			models.PlanStep{ID: "one", Worker: "serial"},
			models.PlanStep{ID: "two", Worker: "serial"},
			models.PlanStep{ID: "three", Worker: "serial"},
		),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, order)
}

func TestFailedStepStopsMission(t *testing.T) {
	reg := registry.New()
	var thirdRuns atomic.Int32
	reg.Register(newWorker("w", false, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		switch step.ID {
		case "s1":
			return worker.Execution{Result: models.AgentResult{Success: true, Cost: 3}}
		case "s2":
			ex := worker.Failed(models.ReasonError, "compiler exploded")
			ex.Result.Cost = 2
			return ex
		}
		thirdRuns.Add(1)
		return worker.Execution{Result: models.AgentResult{Success: true}}
	}))

	notifier := &recordingNotifier{}
	c := New(reg, WithNotifier(notifier))
	m, err := c.Run(context.Background(), Request{
		ID:   "ms-fail",
		Goal: "three steps",
		Oracle: fixedPlan(
			models.PlanStep{ID: "s1", Worker: "w"},
			models.PlanStep{ID: "s2", Worker: "w"},
			models.PlanStep{ID: "s3", Worker: "w"},
		),
	})

	f := asFailure(t, err)
	assert.Equal(t, FailureExecution, f.Kind)
	assert.Equal(t, "s2", f.StepID)
	assert.Equal(t, "w", f.Worker)

	assert.Equal(t, models.MissionFailed, m.State)
	assert.Contains(t, m.Reason, "s2")
	assert.Equal(t, "s2", m.FailedStep)
	assert.Equal(t, int64(5), m.TotalCost)
	assert.Equal(t, int32(0), thirdRuns.Load())
	assert.Equal(t, []string{"ms-fail"}, notifier.failed)

	tasks, err := c.Tasks(context.Background(), "ms-fail")
	require.Error(t, err, "finished missions without a graph store have no tasks")
	assert.Nil(t, tasks)
}

func TestNoCriteriaGivesReducedConfidence(t *testing.T) {
	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"x"}, succeed(1)))

	notifier := &recordingNotifier{}
	c := New(reg, WithNotifier(notifier))
	m, err := c.Run(context.Background(), Request{
		ID:     "ms-self",
		Goal:   "trust me",
		Oracle: fixedPlan(models.PlanStep{ID: "s1", Worker: "w"}),
	})
	require.NoError(t, err)
	require.NotNil(t, m.Report)
	assert.True(t, m.Report.Passed)
	assert.True(t, m.Report.ReducedConfidence)
	assert.Equal(t, models.SourceSelf, m.Report.Source)
	assert.Equal(t, []string{"ms-self"}, notifier.completed)
}

func TestIndependentCheckOverridesSelfReport(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "never-written.txt")
	reg := registry.New()
	reg.Register(newWorker("liar", false, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		return worker.Execution{
			Result: models.AgentResult{Success: true},
			Output: models.TaskOutput{Criteria: []models.CompletionCriterion{
				{Type: models.CriterionFileExists, Target: missing},
			}},
		}
	}))

	c := New(reg)
	m, err := c.Run(context.Background(), Request{
		Goal:   "write a file",
		Oracle: fixedPlan(models.PlanStep{ID: "write", Worker: "liar"}),
	})
	f := asFailure(t, err)
	assert.Equal(t, FailureVerification, f.Kind)
	assert.Equal(t, "write", f.StepID)
	assert.Equal(t, "liar", f.Worker)
	assert.Contains(t, f.Check, "file_exists")

	require.NotNil(t, m.Report)
	assert.False(t, m.Report.Passed)
	assert.False(t, m.Report.ReducedConfidence)
	assert.Equal(t, "write", m.FailedStep)
	assert.NotEmpty(t, m.FailedCheck)
}

func TestIndependentCheckPasses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	reg := registry.New()
	reg.Register(newWorker("writer", false, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		if err := os.WriteFile(path, []byte("hello crew"), 0644); err != nil {
			return worker.Failed(models.ReasonError, "%v", err)
		}
		return worker.Execution{
			Result: models.AgentResult{Success: true},
			Output: models.TaskOutput{Criteria: []models.CompletionCriterion{
				{Type: models.CriterionFileExists, Target: path},
				{Type: models.CriterionContentContains, Target: path, Expected: "crew"},
			}},
		}
	}))

	m, err := New(reg).Run(context.Background(), Request{
		Goal:   "write a file",
		Oracle: fixedPlan(models.PlanStep{ID: "write", Worker: "writer"}),
	})
	require.NoError(t, err)
	assert.True(t, m.Report.Passed)
	assert.False(t, m.Report.ReducedConfidence)
	assert.Equal(t, models.SourceCombined, m.Report.Source)
}

func TestQuotaExceededBeforeDispatch(t *testing.T) {
	reg := registry.New()
	var runs atomic.Int32
	reg.Register(newWorker("w", false, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		runs.Add(1)
		return worker.Execution{Result: models.AgentResult{Success: true}}
	}))

	wallet := budget.NewMemoryWallet(2)
	c := New(reg, WithWallet(wallet))
	m, err := c.Run(context.Background(), Request{
		UserID: "u1",
		Goal:   "expensive",
		Oracle: fixedPlan(models.PlanStep{ID: "big", Worker: "w", EstimatedCost: 5}),
	})
	f := asFailure(t, err)
	assert.Equal(t, FailureQuotaExceeded, f.Kind)
	assert.Equal(t, "big", f.StepID)
	assert.Equal(t, models.MissionFailed, m.State)
	assert.Equal(t, int32(0), runs.Load())
	assert.Empty(t, wallet.Ledger())
}

func TestQuotaHoldsCreditsForRunningSteps(t *testing.T) {
	reg := registry.New()
	var runs atomic.Int32
	reg.Register(newWorker("w", true, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		runs.Add(1)
		return worker.Execution{Result: models.AgentResult{Success: true, Cost: 8}}
	}))

	wallet := budget.NewMemoryWallet(10)
	c := New(reg, WithWallet(wallet), WithMaxConcurrentSteps(4))
	m, err := c.Run(context.Background(), Request{
		UserID: "u1",
		Goal:   "two at once",
		Oracle: fixedPlan(
			models.PlanStep{ID: "a", Worker: "w", EstimatedCost: 8},
			models.PlanStep{ID: "b", Worker: "w", EstimatedCost: 8},
		),
	})
	f := asFailure(t, err)
	assert.Equal(t, FailureQuotaExceeded, f.Kind)
	assert.Equal(t, "b", f.StepID)
	assert.Equal(t, models.MissionFailed, m.State)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, int64(8), m.TotalCost)

	bal, err := wallet.CheckBalance(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), bal.Remaining)
}

func TestWalletDeductedPerStep(t *testing.T) {
	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"x"}, succeed(4)))

	wallet := budget.NewMemoryWallet(100)
	tracker := budget.NewTracker()
	c := New(reg, WithWallet(wallet), WithTracker(tracker))
	m, err := c.Run(context.Background(), Request{
		UserID: "u1",
		Goal:   "two steps",
		Oracle: fixedPlan(
			models.PlanStep{ID: "a", Worker: "w", EstimatedCost: 4},
			models.PlanStep{ID: "b", Worker: "w", EstimatedCost: 4},
		),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), m.TotalCost)
	assert.Equal(t, map[string]int64{"w": 8}, m.CostByWorker)
	assert.Len(t, wallet.Ledger(), 2)

	bal, err := wallet.CheckBalance(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(92), bal.Remaining)
	assert.Equal(t, int64(8), tracker.Usage("u1").Cost)
}

func TestSkillUnavailableCreatesNoTasks(t *testing.T) {
	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"build"}, succeed(0)))

	graphs, err := taskgraph.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := New(reg, WithGraphStore(graphs))
	m, err := c.Run(context.Background(), Request{
		ID:   "ms-skill",
		Goal: "quantum",
		Oracle: fixedPlan(
			models.PlanStep{ID: "ok", Skills: []string{"build"}},
			models.PlanStep{ID: "qc", Skills: []string{"quantum"}},
		),
	})
	f := asFailure(t, err)
	assert.Equal(t, FailureSkillUnavailable, f.Kind)
	assert.Equal(t, "qc", f.StepID)
	assert.Contains(t, m.Reason, "quantum")
	assert.Empty(t, m.UmbrellaTaskID)

	missions, err := graphs.Missions()
	require.NoError(t, err)
	assert.Empty(t, missions)
}

func TestPlanningFailure(t *testing.T) {
	c := New(registry.New())
	m, err := c.Run(context.Background(), Request{
		Goal: "impossible",
		Oracle: planner.Func(func(ctx context.Context, goal string) (*models.Plan, error) {
			return nil, errors.New("oracle offline")
		}),
	})
	f := asFailure(t, err)
	assert.Equal(t, FailurePlanning, f.Kind)
	assert.Nil(t, m.Plan)
	assert.Equal(t, models.MissionFailed, m.State)
	assert.Contains(t, m.Reason, "oracle offline")
}

func TestNoPlannerAvailable(t *testing.T) {
	c := New(registry.New())
	_, err := c.Run(context.Background(), Request{Goal: "anything"})
	f := asFailure(t, err)
	assert.Equal(t, FailurePlanning, f.Kind)
}

func TestRegisteredPlannerWorker(t *testing.T) {
	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"x"}, succeed(1)))
	reg.Register(planner.NewWorker("planner", fixedPlan(models.PlanStep{ID: "s1", Worker: "w"})))

	m, err := New(reg, WithPlannerWorker("planner")).Run(context.Background(), Request{Goal: "plan it"})
	require.NoError(t, err)
	require.NotNil(t, m.Plan)
	assert.Len(t, m.Plan.Steps, 1)
}

func TestLifecycleModesAreLogged(t *testing.T) {
	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"x"}, succeed(1)))
	reg.Register(planner.NewWorker("planner", fixedPlan(models.PlanStep{ID: "s1", Worker: "w"})))

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	_, err := New(reg, WithPlannerWorker("planner"), WithLogger(logger)).Run(context.Background(), Request{Goal: "plan it"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"planner":"planner","mode":"planning"`)
	assert.Contains(t, out, `"worker":"w","mode":"execution"`)
	assert.Contains(t, out, `"step":"s1","mode":"verification"`)
}

func TestForwardDependencyFailsPlanning(t *testing.T) {
	reg := registry.New()
	var runs atomic.Int32
	reg.Register(newWorker("p", true, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		runs.Add(1)
		return worker.Execution{Result: models.AgentResult{Success: true}}
	}))

	m, err := New(reg).Run(context.Background(), Request{
		Goal: "loop",
		Oracle: fixedPlan(
			models.PlanStep{ID: "a", Worker: "p", DependsOn: []string{"b"}},
			models.PlanStep{ID: "b", Worker: "p", DependsOn: []string{"a"}},
		),
	})
	f := asFailure(t, err)
	assert.Equal(t, FailurePlanning, f.Kind)
	assert.ErrorIs(t, f, models.ErrForwardDependency)
	assert.Empty(t, m.UmbrellaTaskID)
	assert.Equal(t, int32(0), runs.Load())
}

func TestBestEffortFailureContinues(t *testing.T) {
	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		if step.ID == "optional" {
			return worker.Failed(models.ReasonError, "lint server down")
		}
		return worker.Execution{Result: models.AgentResult{Success: true}}
	}))

	graphs, err := taskgraph.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := New(reg, WithGraphStore(graphs))
	m, err := c.Run(context.Background(), Request{
		ID:   "ms-best",
		Goal: "tolerant",
		Oracle: fixedPlan(
			models.PlanStep{ID: "optional", Worker: "w", BestEffort: true},
			models.PlanStep{ID: "main", Worker: "w"},
		),
	})
	require.NoError(t, err)
	assert.Equal(t, models.MissionCompleted, m.State)
	assert.True(t, m.Report.Passed)

	tasks, err := c.Tasks(context.Background(), "ms-best")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	var flagged int
	for _, task := range tasks {
		assert.Equal(t, models.TaskStatusCompleted, task.Status)
		if task.Metadata[MetaBestEffortFailed] == "true" {
			flagged++
			assert.Equal(t, "optional", task.Metadata[MetaStep])
		}
	}
	assert.Equal(t, 1, flagged)
}

func TestTimeoutFailure(t *testing.T) {
	reg := registry.New()
	slow := newWorker("slow", false, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		<-ctx.Done()
		return worker.Failed(models.ReasonCancelled, "gave up")
	})
	slow.WorkerSpec.Timeout = 20 * time.Millisecond
	reg.Register(slow)

	_, err := New(reg).Run(context.Background(), Request{
		Goal:   "slow",
		Oracle: fixedPlan(models.PlanStep{ID: "wait", Worker: "slow"}),
	})
	f := asFailure(t, err)
	assert.Equal(t, FailureTimeout, f.Kind)
	assert.Equal(t, "wait", f.StepID)
}

func TestCancelLetsInFlightStepFinish(t *testing.T) {
	reg := registry.New()
	started := make(chan struct{})
	release := make(chan struct{})
	var secondRuns atomic.Int32
	reg.Register(newWorker("w", false, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		if step.ID == "first" {
			close(started)
			<-release
			return worker.Execution{Result: models.AgentResult{Success: true, Cost: 7}}
		}
		secondRuns.Add(1)
		return worker.Execution{Result: models.AgentResult{Success: true}}
	}))

	c := New(reg)
	type outcome struct {
		m   *models.Mission
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		m, err := c.Run(context.Background(), Request{
			ID:   "ms-cancel",
			Goal: "stoppable",
			Oracle: fixedPlan(
				models.PlanStep{ID: "first", Worker: "w"},
				models.PlanStep{ID: "second", Worker: "w"},
			),
		})
		done <- outcome{m, err}
	}()

	<-started
	assert.Equal(t, []string{"ms-cancel"}, c.Active())
	require.NoError(t, c.Cancel("ms-cancel", "user asked"))
	assert.Eventually(t, func() bool {
		s, err := c.Snapshot(context.Background(), "ms-cancel")
		return err == nil && s.State == models.MissionCancelling
	}, time.Second, 5*time.Millisecond)
	close(release)

	out := <-done
	f := asFailure(t, out.err)
	assert.Equal(t, FailureCancelled, f.Kind)
	assert.Equal(t, models.MissionFailed, out.m.State)
	assert.Equal(t, "cancelled: user asked", out.m.Reason)
	assert.Equal(t, int64(7), out.m.TotalCost)
	assert.Equal(t, int32(0), secondRuns.Load())

	assert.ErrorIs(t, c.Cancel("ms-cancel", "again"), ErrMissionNotRunning)
	assert.Empty(t, c.Active())
}

func TestContextCancellation(t *testing.T) {
	reg := registry.New()
	started := make(chan struct{})
	reg.Register(newWorker("w", false, []string{"x"}, func(ctx context.Context, step models.PlanStep, mc worker.Context) worker.Execution {
		close(started)
		<-ctx.Done()
		return worker.Failed(models.ReasonCancelled, "interrupted")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()
	m, err := New(reg).Run(ctx, Request{
		Goal:   "interrupted",
		Oracle: fixedPlan(models.PlanStep{ID: "s", Worker: "w"}),
	})
	f := asFailure(t, err)
	assert.Equal(t, FailureCancelled, f.Kind)
	assert.Equal(t, models.MissionFailed, m.State)
}

func TestPersistedSnapshot(t *testing.T) {
	dir := t.TempDir()
	missions, err := storage.NewFileMissionStore(filepath.Join(dir, "missions"))
	require.NoError(t, err)
	graphs, err := taskgraph.NewFileStore(filepath.Join(dir, "graphs"))
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"x"}, succeed(2)))
	c := New(reg, WithMissionStore(missions), WithGraphStore(graphs))
	_, err = c.Run(context.Background(), Request{
		ID:     "ms-persist",
		UserID: "u1",
		Goal:   "persist me",
		Oracle: fixedPlan(
			models.PlanStep{ID: "a", Worker: "w"},
			models.PlanStep{ID: "b", Worker: "w"},
		),
	})
	require.NoError(t, err)

	cached, err := c.Snapshot(context.Background(), "ms-persist")
	require.NoError(t, err)
	assert.Equal(t, models.MissionCompleted, cached.State)
	assert.Equal(t, 2, cached.Total)
	assert.Equal(t, 100.0, cached.Percent)

	// A fresh coordinator only has the stores to go on
	other := New(registry.New(), WithMissionStore(missions), WithGraphStore(graphs))
	s, err := other.Snapshot(context.Background(), "ms-persist")
	require.NoError(t, err)
	assert.Equal(t, models.MissionCompleted, s.State)
	assert.Equal(t, int64(4), s.CostToDate)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 2, s.Total)

	tasks, err := other.Tasks(context.Background(), "ms-persist")
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	_, err = other.Snapshot(context.Background(), "ms-nope")
	assert.ErrorIs(t, err, ErrMissionNotFound)
}

func TestBudgetAlertFiresDuringMission(t *testing.T) {
	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"x"}, succeed(9)))

	store := budget.NewMemoryRuleStore()
	tracker := budget.NewTracker()
	c := New(reg,
		WithTracker(tracker),
		WithEvaluator(budget.NewEvaluator(store)),
		WithBudget(10),
	)
	_, err := c.Run(context.Background(), Request{
		UserID: "u1",
		Goal:   "spend",
		Oracle: fixedPlan(models.PlanStep{ID: "s", Worker: "w"}),
	})
	require.NoError(t, err)

	firings, err := store.ListFirings(context.Background(), "u1")
	require.NoError(t, err)
	var open []*models.AlertFiring
	for _, f := range firings {
		if f.Open() {
			open = append(open, f)
		}
	}
	require.Len(t, open, 1)
	assert.Equal(t, budget.BuiltinRuleID("u1", models.SeverityCritical), open[0].RuleID)
}

func TestBudgetAlertsShareMissionHistory(t *testing.T) {
	ctx := context.Background()
	missions, err := storage.NewFileMissionStore(t.TempDir())
	require.NoError(t, err)
	finished := time.Now().Add(-time.Minute)
	require.NoError(t, missions.Create(ctx, &models.Mission{
		ID: "ms-earlier", UserID: "u1", Goal: "earlier", State: models.MissionCompleted,
		TotalCost: 920, CreatedAt: finished, FinishedAt: &finished,
	}))

	history := func() budget.History {
		stored, err := missions.List(ctx, storage.MissionFilter{UserID: "u1"})
		require.NoError(t, err)
		return budget.History{Missions: stored, Allocated: 1000, Now: time.Now()}
	}

	rules := budget.NewMemoryRuleStore()
	ev := budget.NewEvaluator(rules)
	_, err = ev.Evaluate(ctx, "u1", history())
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(newWorker("w", false, []string{"x"}, succeed(5)))
	c := New(reg,
		WithMissionStore(missions),
		WithTracker(budget.NewTracker()),
		WithEvaluator(ev),
		WithBudget(1000),
	)
	_, err = c.Run(ctx, Request{
		UserID: "u1",
		Goal:   "cheap",
		Oracle: fixedPlan(models.PlanStep{ID: "s", Worker: "w"}),
	})
	require.NoError(t, err)

	_, err = ev.Evaluate(ctx, "u1", history())
	require.NoError(t, err)

	firings, err := rules.ListFirings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, budget.BuiltinRuleID("u1", models.SeverityCritical), firings[0].RuleID)
	assert.True(t, firings[0].Open())
}

func TestRunRequiresGoal(t *testing.T) {
	c := New(registry.New())
	_, err := c.Run(context.Background(), Request{})
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.MissionState
		want     bool
	}{
		{models.MissionCreated, models.MissionPlanning, true},
		{models.MissionPlanning, models.MissionExecuting, true},
		{models.MissionExecuting, models.MissionVerifying, true},
		{models.MissionVerifying, models.MissionCompleted, true},
		{models.MissionExecuting, models.MissionCancelling, true},
		{models.MissionCancelling, models.MissionFailed, true},
		{models.MissionCancelling, models.MissionCompleted, false},
		{models.MissionCreated, models.MissionExecuting, false},
		{models.MissionPlanning, models.MissionCompleted, false},
		{models.MissionCompleted, models.MissionFailed, false},
		{models.MissionFailed, models.MissionPlanning, false},
		{models.MissionVerifying, models.MissionExecuting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
