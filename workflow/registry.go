package workflow

import (
	"sort"
	"sync"

	"github.com/songzhibin97/claimflow/types"
)

// TaskRegistry holds the manual tasks of waiting instances.
type TaskRegistry struct {
	mu         sync.RWMutex
	byID       map[string]types.ManualTask
	byInstance map[string]map[string]struct{}
	byKey      map[string]map[string]struct{}
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		byID:       make(map[string]types.ManualTask),
		byInstance: make(map[string]map[string]struct{}),
		byKey:      make(map[string]map[string]struct{}),
	}
}

// Register adds or replaces a task.
func (r *TaskRegistry) Register(t types.ManualTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[t.ID]; ok {
		r.unindex(old)
	}
	r.byID[t.ID] = t
	addTo(r.byInstance, t.ProcessInstanceID, t.ID)
	if t.BusinessKey != "" {
		addTo(r.byKey, t.BusinessKey, t.ID)
	}
}

// Get returns a task by ID.
func (r *TaskRegistry) Get(id string) (types.ManualTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// Remove deletes a task and reports whether it existed.
func (r *TaskRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return false
	}
	r.unindex(t)
	return true
}

// RemoveForInstance deletes every task of an instance.
func (r *TaskRegistry) RemoveForInstance(instanceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byInstance[instanceID]
	n := 0
	for id := range ids {
		if t, ok := r.byID[id]; ok {
			r.unindex(t)
			n++
		}
	}
	return n
}

// List returns all tasks, oldest first.
func (r *TaskRegistry) List() []types.ManualTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]types.ManualTask, 0, len(r.byID))
	for _, t := range r.byID {
		res = append(res, t)
	}
	sortTasks(res)
	return res
}

// ForClaim returns the tasks bound to a business key.
func (r *TaskRegistry) ForClaim(businessKey string) []types.ManualTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byKey[businessKey])
}

// ForInstance returns the tasks of a process instance.
func (r *TaskRegistry) ForInstance(instanceID string) []types.ManualTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byInstance[instanceID])
}

func (r *TaskRegistry) collect(ids map[string]struct{}) []types.ManualTask {
	res := make([]types.ManualTask, 0, len(ids))
	for id := range ids {
		res = append(res, r.byID[id])
	}
	sortTasks(res)
	return res
}

func (r *TaskRegistry) unindex(t types.ManualTask) {
	delete(r.byID, t.ID)
	removeFrom(r.byInstance, t.ProcessInstanceID, t.ID)
	removeFrom(r.byKey, t.BusinessKey, t.ID)
}

func addTo(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

func sortTasks(tasks []types.ManualTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt != tasks[j].CreatedAt {
			return tasks[i].CreatedAt < tasks[j].CreatedAt
		}
		return tasks[i].ID < tasks[j].ID
	})
}
