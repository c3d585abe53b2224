package workflow

import "errors"

// Standard error definitions
var (
	ErrInvalidSubmission       = errors.New("invalid submission")
	ErrTransientStep           = errors.New("transient step failure")
	ErrClaimStoreInconsistency = errors.New("claim store inconsistency")
	ErrStatusPushFailure       = errors.New("status push failed")
	ErrInstanceNotFound        = errors.New("instance not found")
	ErrTaskNotFound            = errors.New("task not found")
	ErrClaimActive             = errors.New("claim already has an active instance")
	ErrInstanceTerminal        = errors.New("instance is terminal")
	ErrUnknownStep             = errors.New("unknown step")
	ErrCancelled               = errors.New("instance cancelled")
	ErrDecisionAlreadySet      = errors.New("decision already set")
	ErrEngineStopped           = errors.New("engine is stopped")
	ErrInvalidGraph            = errors.New("invalid step graph")
)
