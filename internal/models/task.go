package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the status of a task graph node
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Priority orders ready tasks, lower value first
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name to its ordinal
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent":
		return PriorityUrgent, nil
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// Task is a node in the task graph
type Task struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	ParentID     string            `json:"parent_id,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Priority     Priority          `json:"priority"`
	Assignee     string            `json:"assignee,omitempty"`
	Status       TaskStatus        `json:"status"`
	BestEffort   bool              `json:"best_effort,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Seq          int64             `json:"seq"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate graph state
func (t *Task) Clone() *Task {
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
