// Package worker defines the lifecycle contract every mission worker
// implements and the closed set of worker variants.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabe/crew/internal/models"
)

// ErrPlanningUnsupported is returned by workers that only execute steps
var ErrPlanningUnsupported = errors.New("worker does not plan")

// Context is the per-call input shared by all three lifecycle calls
type Context struct {
	UserID       string
	MissionID    string
	Goal         string
	PriorResults map[string]models.AgentResult // by step id
	Sink         Sink                          // optional
}

// Execution is the value returned by one execute call
type Execution struct {
	Result models.AgentResult
	Output models.TaskOutput
	Mode   models.Mode // as reported by the worker; empty on panic or timeout
}

// Worker is the three-mode lifecycle contract. Implementations must not keep
// per-call state outside the call stack: the same worker serves concurrent
// calls from different missions.
type Worker interface {
	Spec() models.WorkerSpec
	Plan(ctx context.Context, mc Context) (*models.Plan, models.Mode, error)
	Execute(ctx context.Context, step models.PlanStep, mc Context) (Execution, models.Mode)
	Verify(ctx context.Context, res models.AgentResult, mc Context) (models.VerificationReport, models.Mode, error)
}

// Failed builds a failed execution with the given reason code
func Failed(reason, format string, args ...any) Execution {
	return Execution{Result: models.AgentResult{
		Success: false,
		Reason:  reason,
		Error:   fmt.Sprintf(format, args...),
	}}
}

// SelfVerify is the default self-attestation: it trusts the result's own
// success flag and error message.
func SelfVerify(res models.AgentResult) models.VerificationReport {
	report := models.VerificationReport{
		Passed: res.Success,
		Source: models.SourceSelf,
		Checks: []models.Check{{
			Name:   "self_reported_success",
			Passed: res.Success,
		}},
	}
	if !res.Success {
		report.Checks[0].Message = res.Error
	}
	return report
}
