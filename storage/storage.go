package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/claimflow/types"
)

// Errors
var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrKeyNotHeld       = errors.New("business key not held by instance")
)

// Storage persists process instance snapshots and arbitrates which instance
// holds a claim's business key.
type Storage interface {
	// SaveInstance saves a process instance snapshot.
	SaveInstance(ctx context.Context, inst types.ProcessInstance) error

	// GetInstance retrieves a process instance by ID.
	GetInstance(ctx context.Context, id string) (types.ProcessInstance, error)

	// ReserveKey binds businessKey to instanceID unless another instance
	// holds it. Reserving a key already held by instanceID succeeds.
	ReserveKey(ctx context.Context, businessKey, instanceID string) (bool, error)

	// ReleaseKey frees businessKey if instanceID holds it.
	ReleaseKey(ctx context.Context, businessKey, instanceID string) error

	// ClearCompleted removes terminal instances.
	ClearCompleted(ctx context.Context) error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
