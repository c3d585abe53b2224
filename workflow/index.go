package workflow

import (
	"context"
	"sync"

	"github.com/songzhibin97/claimflow/types"
)

type (
	// entry owns one instance. mu serializes runs; inst is only touched
	// while mu is held. Readers use snapshot.
	entry struct {
		mu   sync.Mutex
		inst types.ProcessInstance

		stateMu      sync.RWMutex
		snapshot     types.ProcessInstance
		cancel       context.CancelFunc
		cancelReason string
	}

	// instanceIndex maps process instance IDs to entries and business keys
	// to the single active instance holding them.
	instanceIndex struct {
		mu        sync.RWMutex
		instances map[string]*entry
		byKey     map[string]string
	}
)

func newEntry(inst types.ProcessInstance) *entry {
	return &entry{
		inst:     inst,
		snapshot: inst.Clone(),
	}
}

// publish copies the working instance into the snapshot readers see.
func (en *entry) publish() types.ProcessInstance {
	snap := en.inst.Clone()
	en.stateMu.Lock()
	en.snapshot = snap
	en.stateMu.Unlock()
	return snap
}

func (en *entry) view() types.ProcessInstance {
	en.stateMu.RLock()
	defer en.stateMu.RUnlock()
	return en.snapshot.Clone()
}

// beginRun derives the context of a run that Cancel can interrupt.
func (en *entry) beginRun(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	en.stateMu.Lock()
	en.cancel = cancel
	en.stateMu.Unlock()
	return ctx, func() {
		en.stateMu.Lock()
		en.cancel = nil
		en.stateMu.Unlock()
		cancel()
	}
}

// requestCancel records the first cancel reason and interrupts a run in
// flight.
func (en *entry) requestCancel(reason string) {
	en.stateMu.Lock()
	defer en.stateMu.Unlock()
	if en.cancelReason == "" {
		en.cancelReason = reason
	}
	if en.cancel != nil {
		en.cancel()
	}
}

func (en *entry) cancelled() (string, bool) {
	en.stateMu.RLock()
	defer en.stateMu.RUnlock()
	return en.cancelReason, en.cancelReason != ""
}

func newInstanceIndex() *instanceIndex {
	return &instanceIndex{
		instances: make(map[string]*entry),
		byKey:     make(map[string]string),
	}
}

func (ix *instanceIndex) get(id string) (*entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	en, ok := ix.instances[id]
	return en, ok
}

// put adds en unless an entry with the same ID exists, returning the
// entry that is indexed.
func (ix *instanceIndex) put(id string, en *entry) *entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cur, ok := ix.instances[id]; ok {
		return cur
	}
	ix.instances[id] = en
	return en
}

func (ix *instanceIndex) remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.instances, id)
}

// bind maps key to id unless another instance holds it.
func (ix *instanceIndex) bind(key, id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cur, ok := ix.byKey[key]; ok {
		return cur == id
	}
	ix.byKey[key] = id
	return true
}

func (ix *instanceIndex) unbind(key, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.byKey[key] == id {
		delete(ix.byKey, key)
	}
}

func (ix *instanceIndex) active(key string) (*entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.byKey[key]
	if !ok {
		return nil, false
	}
	en, ok := ix.instances[id]
	return en, ok
}

// pruneTerminal drops terminal instances and returns how many went.
func (ix *instanceIndex) pruneTerminal() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := 0
	for id, en := range ix.instances {
		if en.view().Status.IsTerminal() {
			delete(ix.instances, id)
			n++
		}
	}
	return n
}

func (ix *instanceIndex) size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.instances)
}
