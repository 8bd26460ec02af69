// Package planner turns a goal into a plan through a pluggable oracle and
// exposes any oracle as a planning worker.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gabe/crew/internal/agent"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/worker"
)

// Skill is the capability tag planning workers advertise
const Skill = "planning"

// Oracle produces a plan for a goal
type Oracle interface {
	Plan(ctx context.Context, goal string) (*models.Plan, error)
}

// Func adapts a function to the Oracle interface
type Func func(ctx context.Context, goal string) (*models.Plan, error)

func (f Func) Plan(ctx context.Context, goal string) (*models.Plan, error) { return f(ctx, goal) }

// Parse decodes a JSON plan and validates it
func Parse(data []byte) (*models.Plan, error) {
	var plan models.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.EstimatedCost == 0 {
		for _, s := range plan.Steps {
			plan.EstimatedCost += s.EstimatedCost
		}
	}
	return &plan, nil
}

// FileOracle reads a prepared plan from a JSON file, ignoring the goal
type FileOracle struct {
	Path string
}

func (o FileOracle) Plan(ctx context.Context, goal string) (*models.Plan, error) {
	data, err := os.ReadFile(o.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// ClaudeOracle asks the claude CLI for a JSON plan
type ClaudeOracle struct {
	runner worker.Runner
	skills []string
}

// NewClaudeOracle creates an oracle limited to the given skills
func NewClaudeOracle(runner worker.Runner, skills []string) *ClaudeOracle {
	return &ClaudeOracle{runner: runner, skills: skills}
}

func (o *ClaudeOracle) Plan(ctx context.Context, goal string) (*models.Plan, error) {
	skills := "any"
	if len(o.skills) > 0 {
		skills = strings.Join(o.skills, ", ")
	}
	prompt := fmt.Sprintf(agent.PlannerSystemPrompt, skills) + "\n\nGoal: " + goal

	resp, err := o.runner.Run(ctx, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}
	raw, ok := agent.ExtractJSON(resp.GetText())
	if !ok {
		return nil, fmt.Errorf("planner reply contained no JSON plan")
	}
	return Parse([]byte(raw))
}
