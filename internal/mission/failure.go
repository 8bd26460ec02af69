package mission

import (
	"errors"
	"fmt"

	"github.com/gabe/crew/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid mission transition")
	ErrMissionNotFound   = errors.New("mission not found")
	ErrMissionNotRunning = errors.New("mission is not running")
	ErrMissionRunning    = errors.New("mission already running")
)

// FailureKind classifies why a mission failed
type FailureKind string

const (
	FailurePlanning         FailureKind = "planning_failure"
	FailureDependencyCycle  FailureKind = "dependency_cycle"
	FailureSkillUnavailable FailureKind = "skill_unavailable"
	FailureExecution        FailureKind = "execution_failure"
	FailureVerification     FailureKind = "verification_failure"
	FailureQuotaExceeded    FailureKind = "quota_exceeded"
	FailureTimeout          FailureKind = "timeout"
	FailureCancelled        FailureKind = "cancelled"
)

// Failure is the terminal error of a FAILED mission
type Failure struct {
	Kind   FailureKind
	StepID string
	Worker string
	Check  string
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// kindForReason maps a failed step's reason code to a failure kind
func kindForReason(reason string) FailureKind {
	switch reason {
	case models.ReasonTimeout:
		return FailureTimeout
	case models.ReasonCancelled:
		return FailureCancelled
	}
	return FailureExecution
}

var transitions = map[models.MissionState][]models.MissionState{
	models.MissionCreated:    {models.MissionPlanning, models.MissionCancelling, models.MissionFailed},
	models.MissionPlanning:   {models.MissionExecuting, models.MissionCancelling, models.MissionFailed},
	models.MissionExecuting:  {models.MissionVerifying, models.MissionCancelling, models.MissionFailed},
	models.MissionVerifying:  {models.MissionCompleted, models.MissionCancelling, models.MissionFailed},
	models.MissionCancelling: {models.MissionFailed},
}

// CanTransition reports whether from -> to is an edge of the state machine
func CanTransition(from, to models.MissionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
