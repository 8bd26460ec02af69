package models

import "time"

// Mode is the lifecycle phase a worker call runs in
type Mode string

const (
	ModePlanning     Mode = "planning"
	ModeExecution    Mode = "execution"
	ModeVerification Mode = "verification"
)

// WorkerSpec describes a worker's identity and capability tags
type WorkerSpec struct {
	Name           string        `json:"name" toml:"name"`
	Description    string        `json:"description" toml:"description"`
	Capabilities   []string      `json:"capabilities" toml:"capabilities"`
	RequiredSkills []string      `json:"required_skills,omitempty" toml:"required_skills,omitempty"`
	ParallelSafe   bool          `json:"parallel_safe" toml:"parallel_safe"`         // steps for this worker get no implicit predecessor dependency
	Timeout        time.Duration `json:"timeout,omitempty" toml:"timeout,omitempty"` // per execute call, zero = coordinator default
}

// Tags returns capabilities and required skills as one deduplicated set
func (s WorkerSpec) Tags() map[string]bool {
	tags := make(map[string]bool, len(s.Capabilities)+len(s.RequiredSkills))
	for _, c := range s.Capabilities {
		tags[c] = true
	}
	for _, r := range s.RequiredSkills {
		tags[r] = true
	}
	return tags
}
