package worker

import (
	"context"

	"github.com/gabe/crew/internal/models"
)

// Func is a worker assembled from closures. Nil closures fall back to
// "cannot plan", an empty successful execution and self verification.
type Func struct {
	WorkerSpec  models.WorkerSpec
	PlanFunc    func(ctx context.Context, mc Context) (*models.Plan, error)
	ExecuteFunc func(ctx context.Context, step models.PlanStep, mc Context) Execution
	VerifyFunc  func(ctx context.Context, res models.AgentResult, mc Context) (models.VerificationReport, error)
}

func (f *Func) Spec() models.WorkerSpec { return f.WorkerSpec }

func (f *Func) Plan(ctx context.Context, mc Context) (*models.Plan, models.Mode, error) {
	if f.PlanFunc == nil {
		return nil, models.ModePlanning, ErrPlanningUnsupported
	}
	plan, err := f.PlanFunc(ctx, mc)
	return plan, models.ModePlanning, err
}

func (f *Func) Execute(ctx context.Context, step models.PlanStep, mc Context) (Execution, models.Mode) {
	if f.ExecuteFunc == nil {
		return Execution{Result: models.AgentResult{Success: true}}, models.ModeExecution
	}
	return f.ExecuteFunc(ctx, step, mc), models.ModeExecution
}

func (f *Func) Verify(ctx context.Context, res models.AgentResult, mc Context) (models.VerificationReport, models.Mode, error) {
	if f.VerifyFunc == nil {
		return SelfVerify(res), models.ModeVerification, nil
	}
	report, err := f.VerifyFunc(ctx, res, mc)
	return report, models.ModeVerification, err
}
