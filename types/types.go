package types

import "errors"

// Status is the lifecycle status of a process instance.
type Status string

// Instance statuses
const (
	StatusRunning            Status = "RUNNING"
	StatusWaitingOnTask      Status = "WAITING_ON_TASK"
	StatusCompleted          Status = "COMPLETED"
	StatusTerminatedRejected Status = "TERMINATED_REJECTED"
	StatusTerminatedFailed   Status = "TERMINATED_FAILED"
)

// StateFinished is reported by state queries when a claim has no active instance.
const StateFinished = "FINISHED"

// IsTerminal reports whether the status ends the instance.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusTerminatedRejected, StatusTerminatedFailed:
		return true
	default:
		return false
	}
}

// IsActive reports whether the status holds the claim's business key.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusWaitingOnTask
}

// StepID names a step of the claim graph.
type StepID string

// StepOutcome classifies a single step attempt in the instance log.
type StepOutcome string

// Step attempt outcomes
const (
	OutcomeSucceeded      StepOutcome = "succeeded"
	OutcomeTransientError StepOutcome = "transient_error"
	OutcomeFailed         StepOutcome = "failed"
	OutcomeParked         StepOutcome = "parked"
	OutcomeCancelled      StepOutcome = "cancelled"
)

// ErrFieldAlreadySet is returned when a step tries to overwrite a context field.
var ErrFieldAlreadySet = errors.New("context field already set")

// StepLogEntry records one executed attempt of a step.
type StepLogEntry struct {
	StepID    StepID      `json:"step_id"`
	Attempt   int         `json:"attempt"`
	EnteredAt int64       `json:"entered_at"`
	ExitedAt  int64       `json:"exited_at"`
	Outcome   StepOutcome `json:"outcome"`
	Summary   string      `json:"summary,omitempty"`
}

// Decision is the terminal verdict pushed to the claim store.
type Decision struct {
	Status  ClaimStatus `json:"status"`
	Message string      `json:"message"`
}

// ProcessInstance is the execution state of one claim adjudication run.
type ProcessInstance struct {
	ID                string         `json:"id"`
	BusinessKey       string         `json:"business_key,omitempty"`
	CurrentStepID     StepID         `json:"current_step_id"`
	Status            Status         `json:"status"`
	Context           ClaimContext   `json:"context"`
	Log               []StepLogEntry `json:"log"`
	Decision          *Decision      `json:"decision,omitempty"`
	ActiveTaskID      string         `json:"active_task_id,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	ReconcileRequired bool           `json:"reconcile_required,omitempty"`
	CreatedAt         int64          `json:"created_at"`
	UpdatedAt         int64          `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out to readers.
func (p ProcessInstance) Clone() ProcessInstance {
	res := p
	res.Context = p.Context.Clone()
	if p.Log != nil {
		res.Log = append([]StepLogEntry(nil), p.Log...)
	}
	if p.Decision != nil {
		d := *p.Decision
		res.Decision = &d
	}
	return res
}

// ManualTask is a step awaiting an external completion call.
type ManualTask struct {
	ID                string `json:"id"`
	ProcessInstanceID string `json:"process_instance_id"`
	BusinessKey       string `json:"business_key,omitempty"`
	StepID            StepID `json:"step_id"`
	Name              string `json:"name"`
	CreatedAt         int64  `json:"created_at"`
}

// StateView is the read-only state of the active instance of a claim.
type StateView struct {
	ClaimID           string   `json:"claim_id"`
	State             string   `json:"state"`
	ProcessInstanceID string   `json:"process_instance_id,omitempty"`
	CurrentStepID     StepID   `json:"current_step_id,omitempty"`
	ActiveStepIDs     []StepID `json:"active_step_ids,omitempty"`
}
