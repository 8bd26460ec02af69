package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabe/crew/internal/models"
)

// ExecuteWithTimeout runs one execute call bounded by the worker's own
// timeout (or fallback when the worker declares none). Panics and deadline
// expiry come back as failed results; the call never returns an error.
// A worker that ignores ctx keeps running in the background after a timeout.
func ExecuteWithTimeout(ctx context.Context, w Worker, step models.PlanStep, mc Context, fallback time.Duration) Execution {
	timeout := fallback
	if t := w.Spec().Timeout; t > 0 {
		timeout = t
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	start := time.Now()
	done := make(chan Execution, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failed(models.ReasonPanic, "worker %s panicked: %v", w.Spec().Name, r)
			}
		}()
		ex, mode := w.Execute(callCtx, step, mc)
		ex.Mode = mode
		done <- ex
	}()

	var ex Execution
	select {
	case ex = <-done:
		if !ex.Result.Success && ex.Result.Reason == "" {
			ex.Result.Reason = models.ReasonError
		}
	case <-callCtx.Done():
		ex = Failed(reasonFor(callCtx.Err()), "step %s: %v", step.ID, callCtx.Err())
	}

	if ex.Result.DurationMs == 0 {
		ex.Result.DurationMs = time.Since(start).Milliseconds()
	}
	return ex
}

func reasonFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonTimeout
	}
	return models.ReasonCancelled
}

// PlanSafely calls Plan and converts a panic into an error
func PlanSafely(ctx context.Context, w Worker, mc Context) (plan *models.Plan, mode models.Mode, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panicked while planning: %v", w.Spec().Name, r)
		}
	}()
	return w.Plan(ctx, mc)
}

// VerifySafely calls Verify and converts a panic into an error
func VerifySafely(ctx context.Context, w Worker, res models.AgentResult, mc Context) (report models.VerificationReport, mode models.Mode, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panicked while verifying: %v", w.Spec().Name, r)
		}
	}()
	return w.Verify(ctx, res, mc)
}
