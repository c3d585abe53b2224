package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/songzhibin97/claimflow/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	instances map[string]types.ProcessInstance
	keys      map[string]string
	mu        sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		instances: make(map[string]types.ProcessInstance),
		keys:      make(map[string]string),
	}
}

// SaveInstance saves a process instance to memory.
func (s *MemoryStorage) SaveInstance(ctx context.Context, inst types.ProcessInstance) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.instances[inst.ID] = inst.Clone()
		return nil
	})
}

// GetInstance retrieves a process instance from memory.
func (s *MemoryStorage) GetInstance(ctx context.Context, id string) (types.ProcessInstance, error) {
	return withContext(ctx, func() (types.ProcessInstance, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		inst, ok := s.instances[id]
		if !ok {
			return types.ProcessInstance{}, fmt.Errorf("%w: id=%s", ErrInstanceNotFound, id)
		}
		return inst.Clone(), nil
	})
}

// ReserveKey binds a business key to an instance.
func (s *MemoryStorage) ReserveKey(ctx context.Context, businessKey, instanceID string) (bool, error) {
	return withContext(ctx, func() (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if holder, ok := s.keys[businessKey]; ok {
			return holder == instanceID, nil
		}
		s.keys[businessKey] = instanceID
		return true, nil
	})
}

// ReleaseKey frees a business key held by the instance.
func (s *MemoryStorage) ReleaseKey(ctx context.Context, businessKey, instanceID string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.keys[businessKey] != instanceID {
			return fmt.Errorf("%w: key=%s", ErrKeyNotHeld, businessKey)
		}
		delete(s.keys, businessKey)
		return nil
	})
}

// ClearCompleted removes terminal instances.
func (s *MemoryStorage) ClearCompleted(ctx context.Context) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, inst := range s.instances {
			if inst.Status.IsTerminal() {
				delete(s.instances, id)
			}
		}
		return nil
	})
}
