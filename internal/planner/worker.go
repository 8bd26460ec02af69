package planner

import (
	"context"

	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/worker"
)

// Worker exposes an oracle through the worker contract. It plans but never
// executes steps.
type Worker struct {
	spec   models.WorkerSpec
	oracle Oracle
}

// NewWorker wraps an oracle as a planning worker named name
func NewWorker(name string, oracle Oracle) *Worker {
	return &Worker{
		spec: models.WorkerSpec{
			Name:         name,
			Description:  "decomposes a goal into plan steps",
			Capabilities: []string{Skill},
		},
		oracle: oracle,
	}
}

func (w *Worker) Spec() models.WorkerSpec { return w.spec }

func (w *Worker) Plan(ctx context.Context, mc worker.Context) (*models.Plan, models.Mode, error) {
	mc.Emit("planning: %s", mc.Goal)
	plan, err := w.oracle.Plan(ctx, mc.Goal)
	if err != nil {
		return nil, models.ModePlanning, err
	}
	if err := plan.Validate(); err != nil {
		return nil, models.ModePlanning, err
	}
	return plan, models.ModePlanning, nil
}

func (w *Worker) Execute(ctx context.Context, step models.PlanStep, mc worker.Context) (worker.Execution, models.Mode) {
	return worker.Failed(models.ReasonError, "planner %s does not execute steps", w.spec.Name), models.ModeExecution
}

func (w *Worker) Verify(ctx context.Context, res models.AgentResult, mc worker.Context) (models.VerificationReport, models.Mode, error) {
	return worker.SelfVerify(res), models.ModeVerification, nil
}
