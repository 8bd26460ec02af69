package worker

import (
	"context"
	"testing"
	"time"

	"github.com/gabe/crew/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWithTimeout_Success(t *testing.T) {
	w := &Func{
		WorkerSpec: models.WorkerSpec{Name: "ok"},
		ExecuteFunc: func(ctx context.Context, step models.PlanStep, mc Context) Execution {
			return Execution{Result: models.AgentResult{Success: true, Cost: 3}}
		},
	}

	ex := ExecuteWithTimeout(context.Background(), w, models.PlanStep{ID: "s1"}, Context{}, time.Second)
	assert.True(t, ex.Result.Success)
	assert.Equal(t, int64(3), ex.Result.Cost)
	assert.Empty(t, ex.Result.Reason)
	assert.Equal(t, models.ModeExecution, ex.Mode)
}

func TestExecuteWithTimeout_Timeout(t *testing.T) {
	w := &Func{
		WorkerSpec: models.WorkerSpec{Name: "slow", Timeout: 20 * time.Millisecond},
		ExecuteFunc: func(ctx context.Context, step models.PlanStep, mc Context) Execution {
			time.Sleep(2 * time.Second)
			return Execution{Result: models.AgentResult{Success: true}}
		},
	}

	start := time.Now()
	ex := ExecuteWithTimeout(context.Background(), w, models.PlanStep{ID: "s1"}, Context{}, time.Hour)

	assert.Less(t, time.Since(start), time.Second, "worker timeout should override fallback")
	assert.False(t, ex.Result.Success)
	assert.Equal(t, models.ReasonTimeout, ex.Result.Reason)
	assert.Contains(t, ex.Result.Error, "s1")
	assert.Positive(t, ex.Result.DurationMs)
}

func TestExecuteWithTimeout_Panic(t *testing.T) {
	w := &Func{
		WorkerSpec: models.WorkerSpec{Name: "boom"},
		ExecuteFunc: func(ctx context.Context, step models.PlanStep, mc Context) Execution {
			panic("kaboom")
		},
	}

	ex := ExecuteWithTimeout(context.Background(), w, models.PlanStep{ID: "s1"}, Context{}, time.Second)
	assert.False(t, ex.Result.Success)
	assert.Equal(t, models.ReasonPanic, ex.Result.Reason)
	assert.Contains(t, ex.Result.Error, "kaboom")
	assert.Empty(t, ex.Mode)
}

func TestExecuteWithTimeout_FailureGetsReason(t *testing.T) {
	w := &Func{
		ExecuteFunc: func(ctx context.Context, step models.PlanStep, mc Context) Execution {
			return Execution{Result: models.AgentResult{Success: false, Error: "nope"}}
		},
	}
	ex := ExecuteWithTimeout(context.Background(), w, models.PlanStep{ID: "s1"}, Context{}, 0)
	assert.Equal(t, models.ReasonError, ex.Result.Reason)
}

func TestPlanSafely(t *testing.T) {
	w := &Func{PlanFunc: func(ctx context.Context, mc Context) (*models.Plan, error) {
		panic("bad planner")
	}}
	_, _, err := PlanSafely(context.Background(), w, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad planner")

	_, mode, err := PlanSafely(context.Background(), &Func{}, Context{})
	assert.ErrorIs(t, err, ErrPlanningUnsupported)
	assert.Equal(t, models.ModePlanning, mode)
}

func TestVerifySafely(t *testing.T) {
	report, mode, err := VerifySafely(context.Background(), &Func{}, models.AgentResult{Success: true}, Context{})
	require.NoError(t, err)
	assert.Equal(t, models.ModeVerification, mode)
	assert.True(t, report.Passed)

	w := &Func{VerifyFunc: func(ctx context.Context, res models.AgentResult, mc Context) (models.VerificationReport, error) {
		panic("bad verifier")
	}}
	_, _, err = VerifySafely(context.Background(), w, models.AgentResult{}, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad verifier")
}

func TestFunc_DefaultVerifyIsSelfAttestation(t *testing.T) {
	w := &Func{}
	report, mode, err := w.Verify(context.Background(), models.AgentResult{Success: false, Error: "x"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, models.ModeVerification, mode)
	assert.False(t, report.Passed)
	assert.Equal(t, models.SourceSelf, report.Source)
	assert.Equal(t, "x", report.Checks[0].Message)
}
