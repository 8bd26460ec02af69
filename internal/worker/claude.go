package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabe/crew/internal/agent"
	"github.com/gabe/crew/internal/models"
)

// Runner is the part of agent.Client the claude worker needs
type Runner interface {
	Run(ctx context.Context, prompt string, onLine agent.LineFunc) (*agent.Response, error)
}

// CostFunc converts token usage into credits
type CostFunc func(promptTokens, completionTokens int) int64

// Claude executes steps by prompting the claude CLI
type Claude struct {
	spec   models.WorkerSpec
	runner Runner
	cost   CostFunc
}

// NewClaude creates a claude-backed worker
func NewClaude(spec models.WorkerSpec, runner Runner, cost CostFunc) *Claude {
	return &Claude{spec: spec, runner: runner, cost: cost}
}

func (c *Claude) Spec() models.WorkerSpec { return c.spec }

func (c *Claude) Plan(ctx context.Context, mc Context) (*models.Plan, models.Mode, error) {
	return nil, models.ModePlanning, ErrPlanningUnsupported
}

// stepReport is the JSON trailer the worker prompt asks for
type stepReport struct {
	Summary  string                       `json:"summary"`
	Outputs  []models.ReportedOutput      `json:"outputs"`
	Criteria []models.CompletionCriterion `json:"criteria"`
}

func (c *Claude) Execute(ctx context.Context, step models.PlanStep, mc Context) (Execution, models.Mode) {
	start := time.Now()

	declared, err := DeclaredOutput(step)
	if err != nil {
		return Failed(models.ReasonError, "%v", err), models.ModeExecution
	}

	resp, err := c.runner.Run(ctx, buildStepPrompt(step, mc), func(stream, line string) {
		if stream == "stderr" {
			mc.Emit("stderr: %s", line)
		}
	})

	result := models.AgentResult{DurationMs: time.Since(start).Milliseconds()}
	if resp != nil {
		result.PromptTokens = resp.InputTokens
		result.CompletionTokens = resp.OutputTokens
		if c.cost != nil {
			result.Cost = c.cost(resp.InputTokens, resp.OutputTokens)
		}
		if resp.DurationMs > 0 {
			result.DurationMs = resp.DurationMs
		}
	}
	if err != nil {
		result.Reason = models.ReasonError
		if errors.Is(err, context.DeadlineExceeded) {
			result.Reason = models.ReasonTimeout
		}
		result.Error = err.Error()
		return Execution{Result: result, Output: declared}, models.ModeExecution
	}

	text := resp.GetText()
	mc.Emit("%s", text)
	result.Success = true
	result.Data = text

	output := declared
	if raw, ok := agent.ExtractJSON(text); ok {
		var rep stepReport
		if json.Unmarshal([]byte(raw), &rep) == nil {
			if rep.Summary != "" {
				result.Data = rep.Summary
			}
			output.Outputs = append(output.Outputs, rep.Outputs...)
			output.Criteria = append(output.Criteria, rep.Criteria...)
		}
	}
	result.Artifacts = artifactsFor(output)

	return Execution{Result: result, Output: output}, models.ModeExecution
}

func (c *Claude) Verify(ctx context.Context, res models.AgentResult, mc Context) (models.VerificationReport, models.Mode, error) {
	return SelfVerify(res), models.ModeVerification, nil
}

func buildStepPrompt(step models.PlanStep, mc Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mission goal: %s\n\n", mc.Goal)
	fmt.Fprintf(&sb, "Your step (%s): %s\n", step.ID, step.Action)
	if prompt := payloadString(step.Payload, PayloadPrompt); prompt != "" {
		fmt.Fprintf(&sb, "\n%s\n", prompt)
	}
	if len(step.DependsOn) > 0 && len(mc.PriorResults) > 0 {
		sb.WriteString("\nResults of earlier steps:\n")
		for _, dep := range step.DependsOn {
			if res, ok := mc.PriorResults[dep]; ok {
				fmt.Fprintf(&sb, "- %s: %v\n", dep, res.Data)
			}
		}
	}
	return sb.String()
}
