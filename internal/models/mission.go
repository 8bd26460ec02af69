package models

import "time"

// MissionState is a node in the mission state machine
type MissionState string

const (
	MissionCreated    MissionState = "CREATED"
	MissionPlanning   MissionState = "PLANNING"
	MissionExecuting  MissionState = "EXECUTING"
	MissionVerifying  MissionState = "VERIFYING"
	MissionCancelling MissionState = "CANCELLING"
	MissionCompleted  MissionState = "COMPLETED"
	MissionFailed     MissionState = "FAILED"
)

// Terminal reports whether no further transition is possible
func (s MissionState) Terminal() bool {
	return s == MissionCompleted || s == MissionFailed
}

// Mission is the durable record of a mission run
type Mission struct {
	ID               string              `json:"id" gorm:"primaryKey;size:64"`
	UserID           string              `json:"user_id" gorm:"index;size:64"`
	Goal             string              `json:"goal"`
	State            MissionState        `json:"state" gorm:"size:16"`
	Reason           string              `json:"reason,omitempty"`
	FailureKind      string              `json:"failure_kind,omitempty" gorm:"size:32"`
	FailedStep       string              `json:"failed_step,omitempty"`
	FailedWorker     string              `json:"failed_worker,omitempty"`
	FailedCheck      string              `json:"failed_check,omitempty"`
	Plan             *Plan               `json:"plan,omitempty" gorm:"serializer:json"`
	UmbrellaTaskID   string              `json:"umbrella_task_id,omitempty"`
	TotalCost        int64               `json:"total_cost"`
	CostByWorker     map[string]int64    `json:"cost_by_worker,omitempty" gorm:"serializer:json"`
	PromptTokens     int64               `json:"prompt_tokens"`
	CompletionTokens int64               `json:"completion_tokens"`
	Report           *VerificationReport `json:"report,omitempty" gorm:"serializer:json"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	FinishedAt       *time.Time          `json:"finished_at,omitempty"`
}

// Clone returns a copy whose maps and pointers are not shared
func (m *Mission) Clone() *Mission {
	c := *m
	if m.CostByWorker != nil {
		c.CostByWorker = make(map[string]int64, len(m.CostByWorker))
		for k, v := range m.CostByWorker {
			c.CostByWorker[k] = v
		}
	}
	if m.Report != nil {
		r := *m.Report
		r.Checks = append([]Check(nil), m.Report.Checks...)
		r.Recommendations = append([]string(nil), m.Report.Recommendations...)
		c.Report = &r
	}
	if m.FinishedAt != nil {
		at := *m.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}
