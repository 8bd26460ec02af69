package mission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/planner"
	"github.com/gabe/crew/internal/taskgraph"
	"github.com/gabe/crew/internal/verify"
	"github.com/gabe/crew/internal/worker"
	"golang.org/x/sync/errgroup"
)

// Task metadata keys written by the coordinator
const (
	MetaStep             = "step"
	MetaWorker           = "worker"
	MetaResult           = "result"
	MetaError            = "error"
	MetaReason           = "reason"
	MetaCost             = "cost"
	MetaDurationMs       = "duration_ms"
	MetaBestEffortFailed = "best_effort_failed"
)

// resolvePlanner picks the worker that plans this mission
func (c *Coordinator) resolvePlanner(r *run) (worker.Worker, bool) {
	if r.req.Oracle != nil {
		return planner.NewWorker("plan-oracle", r.req.Oracle), true
	}
	if c.plannerName != "" {
		if w, ok := c.registry.Get(c.plannerName); ok {
			return w, true
		}
	}
	if w, ok := c.registry.FindBest([]string{planner.Skill}); ok {
		return w, true
	}
	if c.oracle != nil {
		return planner.NewWorker("planner", c.oracle), true
	}
	return nil, false
}

func (c *Coordinator) plan(ctx context.Context, r *run) *Failure {
	pw, ok := c.resolvePlanner(r)
	if !ok {
		return &Failure{Kind: FailurePlanning, Reason: "no planner available"}
	}
	name := pw.Spec().Name

	plan, mode, err := worker.PlanSafely(ctx, pw, worker.Context{
		UserID:    r.mission.UserID,
		MissionID: r.mission.ID,
		Goal:      r.mission.Goal,
		Sink:      worker.WithPrefix(r.req.Sink, "plan"),
	})
	if err != nil {
		return &Failure{Kind: FailurePlanning, Worker: name, Reason: fmt.Sprintf("planner %s failed: %v", name, err), Err: err}
	}
	if err := plan.Validate(); err != nil {
		return &Failure{Kind: FailurePlanning, Worker: name, Reason: fmt.Sprintf("invalid plan: %v", err), Err: err}
	}

	r.mu.Lock()
	r.mission.Plan = plan
	r.mu.Unlock()
	r.logger.Info("mission planned", "planner", name, "mode", mode, "steps", len(plan.Steps), "estimated_cost", plan.EstimatedCost)
	return nil
}

// resolveStep finds the worker for a step: the designated one, else the best
// skill match
func (c *Coordinator) resolveStep(step models.PlanStep) (worker.Worker, bool) {
	if step.Worker != "" {
		return c.registry.Get(step.Worker)
	}
	return c.registry.FindBest(step.SkillSet())
}

// buildGraph resolves every step to a worker before creating any task, then
// creates the umbrella task and one task per step
func (c *Coordinator) buildGraph(r *run) *Failure {
	plan := r.mission.Plan
	for _, step := range plan.Steps {
		w, ok := c.resolveStep(step)
		if !ok {
			want := step.Worker
			if want == "" {
				want = "skills [" + strings.Join(step.SkillSet(), ", ") + "]"
			}
			return &Failure{
				Kind:   FailureSkillUnavailable,
				StepID: step.ID,
				Reason: fmt.Sprintf("no worker for step %s (%s)", step.ID, want),
			}
		}
		r.workers[step.ID] = w
	}

	g := taskgraph.New()
	umbrella, err := g.Create(&models.Task{
		Title:    r.mission.Goal,
		Priority: models.PriorityMedium,
		Metadata: map[string]string{"mission": r.mission.ID},
	})
	if err != nil {
		return &Failure{Kind: FailureExecution, Reason: "failed to create umbrella task", Err: err}
	}
	// Started up front so the umbrella never shows up as ready work
	if err := g.Start(umbrella.ID); err != nil {
		return &Failure{Kind: FailureExecution, Reason: "failed to start umbrella task", Err: err}
	}

	// Validate guarantees dependencies name earlier steps, so every task a
	// step depends on exists by the time the step is created
	for i, step := range plan.Steps {
		deps := step.DependsOn
		if i > 0 && !r.workers[step.ID].Spec().ParallelSafe {
			deps = append(append([]string(nil), deps...), plan.Steps[i-1].ID)
		}
		depTasks := make([]string, 0, len(deps))
		for _, dep := range deps {
			depTasks = append(depTasks, r.taskOf[dep])
		}

		title := step.Action
		if title == "" {
			title = step.ID
		}
		t, err := g.Create(&models.Task{
			Title:        title,
			Description:  step.Action,
			ParentID:     umbrella.ID,
			Dependencies: depTasks,
			Priority:     step.Priority,
			Assignee:     r.workers[step.ID].Spec().Name,
			BestEffort:   step.BestEffort,
			Metadata:     map[string]string{MetaStep: step.ID},
		})
		if err != nil {
			kind := FailureExecution
			if errors.Is(err, taskgraph.ErrDependencyCycle) {
				kind = FailureDependencyCycle
			}
			return &Failure{Kind: kind, StepID: step.ID, Reason: fmt.Sprintf("cannot add step %s: %v", step.ID, err), Err: err}
		}
		r.taskOf[step.ID] = t.ID
		r.steps[t.ID] = step
	}

	r.mu.Lock()
	r.graph = g
	r.umbrellaID = umbrella.ID
	r.mission.UmbrellaTaskID = umbrella.ID
	r.mu.Unlock()
	return nil
}

type outcome struct {
	taskID string
	step   models.PlanStep
	worker worker.Worker
	ex     worker.Execution
}

// execute is the pull loop. Ready tasks are dispatched to goroutines; their
// results come back over a channel and only this goroutine touches the graph
// and the cost totals.
func (c *Coordinator) execute(ctx context.Context, r *run) *Failure {
	g := r.graph
	results := make(chan outcome, c.maxConcurrent)

	var eg errgroup.Group
	eg.SetLimit(c.maxConcurrent)

	var failure *Failure
	inflight := 0
	stopped := false
	cancelCh := r.cancelled
	doneCh := ctx.Done()

	stop := func(f *Failure) {
		if failure == nil {
			failure = f
		}
		stopped = true
	}
	onCancel := func(f *Failure) {
		cancelCh, doneCh = nil, nil
		if stopped {
			return
		}
		c.transition(ctx, r, models.MissionCancelling)
		r.logger.Info("mission cancelling", "in_flight", inflight)
		stop(f)
	}

	for {
		if !stopped {
			if f := r.checkCancelled(ctx); f != nil {
				onCancel(f)
			}
		}
		if !stopped {
			for _, t := range g.GetReady() {
				if inflight >= c.maxConcurrent {
					break
				}
				if f := c.dispatch(ctx, r, &eg, t.ID, results); f != nil {
					stop(f)
					break
				}
				inflight++
			}
		}

		if inflight == 0 {
			break
		}

		select {
		case out := <-results:
			inflight--
			if f := c.handle(ctx, r, out); f != nil {
				stop(f)
			}
		case <-cancelCh:
			onCancel(r.cancelFailure())
		case <-doneCh:
			onCancel(&Failure{Kind: FailureCancelled, Reason: "cancelled: " + ctx.Err().Error(), Err: ctx.Err()})
		}
	}
	eg.Wait()

	if failure != nil {
		return failure
	}
	if pending := g.List(taskgraph.Filter{ParentID: r.umbrellaID}); len(pending) > 0 {
		for _, t := range pending {
			if t.Status != models.TaskStatusCompleted {
				return &Failure{
					Kind:   FailureExecution,
					StepID: t.Metadata[MetaStep],
					Reason: fmt.Sprintf("step %s can never run (status %s)", t.Metadata[MetaStep], t.Status),
				}
			}
		}
	}
	return nil
}

// dispatch checks the wallet, starts the task and runs its worker in the
// errgroup
func (c *Coordinator) dispatch(ctx context.Context, r *run, eg *errgroup.Group, taskID string, results chan<- outcome) *Failure {
	step := r.steps[taskID]
	w := r.workers[step.ID]
	name := w.Spec().Name

	var required int64
	if c.wallet != nil {
		required = max(step.EstimatedCost, 1)
		// Steps still running have not been deducted yet, so their
		// estimates count against the balance too
		bal, err := c.wallet.CheckBalance(ctx, r.mission.UserID, required+r.reserved)
		if err != nil {
			return &Failure{Kind: FailureQuotaExceeded, StepID: step.ID, Worker: name,
				Reason: fmt.Sprintf("cannot check balance for step %s", step.ID), Err: err}
		}
		if !bal.Allowed {
			return &Failure{Kind: FailureQuotaExceeded, StepID: step.ID, Worker: name,
				Reason: fmt.Sprintf("step %s needs %d credits, %d remaining with %d held by running steps",
					step.ID, required, bal.Remaining, r.reserved)}
		}
	}

	if err := r.graph.Start(taskID); err != nil {
		return &Failure{Kind: FailureExecution, StepID: step.ID, Worker: name, Reason: "cannot start task", Err: err}
	}
	r.setCurrent(step.ID, true)
	r.reserved += required
	r.held[taskID] = required
	if c.roster != nil {
		if err := c.roster.MarkBusy(name, r.mission.ID, step.ID); err != nil {
			r.logger.Debug("roster update failed", "worker", name, "error", err)
		}
	}
	r.logger.Info("step dispatched", "step", step.ID, "task", taskID, "worker", name)

	mc := r.workerContext(step)
	timeout := c.stepTimeout
	eg.Go(func() error {
		ex := worker.ExecuteWithTimeout(ctx, w, step, mc, timeout)
		results <- outcome{taskID: taskID, step: step, worker: w, ex: ex}
		return nil
	})
	return nil
}

// handle folds one result into the graph, costs, wallet and tracker
func (c *Coordinator) handle(ctx context.Context, r *run, out outcome) *Failure {
	step, res := out.step, out.ex.Result
	name := out.worker.Spec().Name

	r.setCurrent(step.ID, false)
	r.reserved -= r.held[out.taskID]
	delete(r.held, out.taskID)
	r.addCost(name, res)
	r.results[step.ID] = out.ex
	if c.tracker != nil {
		c.tracker.RecordResult(r.mission.UserID, name, res)
	}
	if c.wallet != nil && res.Cost > 0 {
		reason := fmt.Sprintf("mission %s step %s", r.mission.ID, step.ID)
		if err := c.wallet.Deduct(context.WithoutCancel(ctx), r.mission.UserID, res.Cost, reason); err != nil {
			r.logger.Warn("failed to deduct credits", "step", step.ID, "cost", res.Cost, "error", err)
		}
	}
	if c.roster != nil {
		if err := c.roster.MarkIdle(name, r.mission.ID); err != nil {
			r.logger.Debug("roster update failed", "worker", name, "error", err)
		}
	}

	meta := map[string]string{
		MetaWorker:     name,
		MetaCost:       strconv.FormatInt(res.Cost, 10),
		MetaDurationMs: strconv.FormatInt(res.DurationMs, 10),
	}

	var failure *Failure
	switch {
	case res.Success:
		meta[MetaResult] = summarize(res.Data)
		r.graph.Annotate(out.taskID, meta)
		r.graph.Complete(out.taskID)
		r.logger.Info("step completed", "step", step.ID, "worker", name, "mode", out.ex.Mode, "cost", res.Cost)

	case step.BestEffort:
		meta[MetaBestEffortFailed] = "true"
		meta[MetaError] = res.Error
		meta[MetaReason] = res.Reason
		r.graph.Annotate(out.taskID, meta)
		r.graph.Complete(out.taskID)
		r.logger.Warn("best-effort step failed", "step", step.ID, "worker", name, "error", res.Error)

	default:
		// The task stays in_progress so nothing downstream becomes ready
		meta[MetaError] = res.Error
		meta[MetaReason] = res.Reason
		r.graph.Annotate(out.taskID, meta)
		r.logger.Warn("step failed", "step", step.ID, "worker", name, "mode", out.ex.Mode, "reason", res.Reason, "error", res.Error)
		failure = &Failure{
			Kind:   kindForReason(res.Reason),
			StepID: step.ID,
			Worker: name,
			Reason: fmt.Sprintf("step %s failed: %s", step.ID, res.Error),
		}
	}

	c.persist(ctx, r)
	c.evaluate(context.WithoutCancel(ctx), r, len(r.graph.GetReady()))
	return failure
}

// verify checks every executed step, independently when it declared
// criteria, and merges the step reports into the mission report
func (c *Coordinator) verify(ctx context.Context, r *run) *Failure {
	var reports []verify.StepReport
	for _, step := range r.mission.Plan.Steps {
		if f := r.checkCancelled(ctx); f != nil {
			c.transition(ctx, r, models.MissionCancelling)
			return f
		}
		ex, ok := r.results[step.ID]
		if !ok {
			continue
		}

		if !ex.Result.Success && step.BestEffort {
			reports = append(reports, verify.StepReport{StepID: step.ID, Report: models.VerificationReport{
				Passed: true,
				Source: models.SourceSelf,
				Checks: []models.Check{{
					Name:    MetaBestEffortFailed,
					Passed:  true,
					Message: ex.Result.Error,
				}},
				Recommendations: []string{fmt.Sprintf("best-effort step %s failed and was skipped", step.ID)},
			}})
			continue
		}

		w := r.workers[step.ID]
		mc := r.workerContext(step)
		var self *models.VerificationReport
		report, mode, err := worker.VerifySafely(ctx, w, ex.Result, mc)
		if err != nil {
			r.logger.Warn("self verification failed", "step", step.ID, "worker", w.Spec().Name, "error", err)
		} else {
			self = &report
		}

		declared := len(ex.Output.Criteria) > 0
		var independent models.VerificationReport
		if declared {
			independent = c.checker.Check(ctx, ex.Output)
		}
		final := verify.Combine(self, independent, declared)
		r.logger.Info("step verified", "step", step.ID, "mode", mode, "passed", final.Passed, "source", final.Source,
			"reduced_confidence", final.ReducedConfidence)
		reports = append(reports, verify.StepReport{StepID: step.ID, Report: final})
	}

	merged := verify.Merge(reports)
	r.mu.Lock()
	r.mission.Report = &merged
	r.mu.Unlock()

	if merged.Passed {
		return nil
	}
	f := &Failure{Kind: FailureVerification, Reason: "verification failed"}
	if check, ok := merged.FirstFailed(); ok {
		stepID, name, _ := strings.Cut(check.Name, "/")
		f.StepID = stepID
		f.Check = name
		if w, ok := r.workers[stepID]; ok {
			f.Worker = w.Spec().Name
		}
		f.Reason = fmt.Sprintf("step %s failed check %s", stepID, name)
		if check.Message != "" {
			f.Reason += ": " + check.Message
		}
	}
	return f
}

// summarize renders result data as a short metadata string
func summarize(data any) string {
	if data == nil {
		return ""
	}
	s := strings.TrimSpace(fmt.Sprint(data))
	const limit = 200
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
