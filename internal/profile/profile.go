// Package profile stores worker definitions as one TOML file per worker and
// turns them into registered workers.
package profile

import (
	"errors"
	"fmt"
	"time"

	"github.com/gabe/crew/internal/models"
)

// ErrProfileNotFound is returned for unknown worker names
var ErrProfileNotFound = errors.New("worker profile not found")

// Kind selects the worker implementation a profile builds
type Kind string

const (
	KindCommand Kind = "command"
	KindClaude  Kind = "claude"
)

// Profile is the on-disk definition of one worker
type Profile struct {
	Name           string    `toml:"name"`
	Description    string    `toml:"description"`
	Kind           Kind      `toml:"kind"`
	Capabilities   []string  `toml:"capabilities"`
	RequiredSkills []string  `toml:"required_skills,omitempty"`
	ParallelSafe   bool      `toml:"parallel_safe"`
	Timeout        string    `toml:"timeout,omitempty"`
	Command        string    `toml:"command,omitempty"`
	Args           []string  `toml:"args,omitempty"`
	Dir            string    `toml:"dir,omitempty"`
	Model          string    `toml:"model,omitempty"`
	SystemPrompt   string    `toml:"system_prompt,omitempty"`
	CreatedAt      time.Time `toml:"created_at"`
}

// Validate checks the fields the chosen kind needs
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("worker name required")
	}
	switch p.Kind {
	case KindCommand:
		if p.Command == "" {
			return fmt.Errorf("worker %q: command workers need a command", p.Name)
		}
	case KindClaude:
	default:
		return fmt.Errorf("worker %q: unknown kind %q", p.Name, p.Kind)
	}
	if p.Timeout != "" {
		if _, err := time.ParseDuration(p.Timeout); err != nil {
			return fmt.Errorf("worker %q: invalid timeout: %w", p.Name, err)
		}
	}
	return nil
}

// Spec converts the profile into a worker spec
func (p *Profile) Spec() models.WorkerSpec {
	spec := models.WorkerSpec{
		Name:           p.Name,
		Description:    p.Description,
		Capabilities:   p.Capabilities,
		RequiredSkills: p.RequiredSkills,
		ParallelSafe:   p.ParallelSafe,
	}
	if d, err := time.ParseDuration(p.Timeout); err == nil {
		spec.Timeout = d
	}
	return spec
}
