package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPlan is returned when a plan has no steps
	ErrEmptyPlan = errors.New("plan has no steps")
	// ErrForwardDependency is returned when a step depends on itself or on a
	// step listed after it
	ErrForwardDependency = errors.New("step depends on a later step")
)

// PlanStep is a single unit of work in a plan
type PlanStep struct {
	ID            string         `json:"id"`
	Action        string         `json:"action"`
	Tool          string         `json:"tool,omitempty"`
	Worker        string         `json:"worker,omitempty"` // designated worker, empty = resolve by skills
	Skills        []string       `json:"skills,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	BestEffort    bool           `json:"best_effort,omitempty"`
	EstimatedCost int64          `json:"estimated_cost,omitempty"`
	Priority      Priority       `json:"priority,omitempty"`
}

// SkillSet returns the skills used to look up a worker for this step.
// The tool name counts as a skill.
func (s PlanStep) SkillSet() []string {
	skills := make([]string, 0, len(s.Skills)+1)
	if s.Tool != "" {
		skills = append(skills, s.Tool)
	}
	return append(skills, s.Skills...)
}

// Plan is the output of a worker's planning phase
type Plan struct {
	Steps          []PlanStep `json:"steps"`
	EstimatedCost  int64      `json:"estimated_cost"`
	RequiredSkills []string   `json:"required_skills,omitempty"`
	Reasoning      string     `json:"reasoning,omitempty"`
}

// Validate checks step ids are unique and every dependency names an earlier
// step of the plan, which also rules out cycles
func (p *Plan) Validate() error {
	if p == nil || len(p.Steps) == 0 {
		return ErrEmptyPlan
	}
	index := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if _, dup := index[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		index[step.ID] = i
	}
	for i, step := range p.Steps {
		for _, dep := range step.DependsOn {
			j, ok := index[dep]
			if !ok {
				return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
			if j >= i {
				return fmt.Errorf("%w: %q on %q", ErrForwardDependency, step.ID, dep)
			}
		}
	}
	return nil
}

// Step returns the step with the given id
func (p *Plan) Step(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}
