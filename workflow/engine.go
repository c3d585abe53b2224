package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/events"
	"github.com/songzhibin97/claimflow/log"
	"github.com/songzhibin97/claimflow/storage"
	"github.com/songzhibin97/claimflow/types"
)

// Archiver stores the snapshot of a terminated instance.
type Archiver interface {
	Archive(ctx context.Context, inst types.ProcessInstance, archivedAt int64) error
}

// ClaimEngine drives claims through the step graph. Each instance runs
// under its own lock; different instances advance independently.
type ClaimEngine struct {
	generate generator.Generator
	storage  storage.Storage
	graph    *Graph
	executor *Executor
	tasks    *TaskRegistry
	index    *instanceIndex
	eventBus *events.Bus
	archiver Archiver
	logger   *slog.Logger

	baseCtx context.Context
	halt    context.CancelFunc
	lifeMu  sync.Mutex
	stopped bool
	runs    sync.WaitGroup
}

// NewClaimEngine creates a ClaimEngine. A nil store selects memory storage.
func NewClaimEngine(
	generate generator.Generator, store storage.Storage, collab clients.Set,
	opts ...Option,
) (*ClaimEngine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}

	if store == nil {
		store = storage.NewMemoryStorage()
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	graph := s.graph
	if graph == nil {
		var err error
		graph, err = NewClaimGraph(collab, s.thresholds, s.fraudRule, s.manualReview)
		if err != nil {
			return nil, err
		}
	}

	baseCtx, halt := context.WithCancel(context.Background())
	return &ClaimEngine{
		generate: generate,
		storage:  store,
		graph:    graph,
		executor: NewExecutor(s.retry, s.logger),
		tasks:    NewTaskRegistry(),
		index:    newInstanceIndex(),
		eventBus: events.NewBus(events.WithLogger(s.logger)),
		archiver: s.archiver,
		logger:   s.logger,
		baseCtx:  baseCtx,
		halt:     halt,
	}, nil
}

// SubscribeEvent subscribes an event handler to a specific event type, or
// to every type with events.All. The returned func unsubscribes.
func (e *ClaimEngine) SubscribeEvent(eventType events.Type, handler events.Handler) func() {
	return e.eventBus.Subscribe(eventType, handler)
}

// EventStats reports event delivery counters
func (e *ClaimEngine) EventStats() events.Stats {
	return e.eventBus.Stats()
}

// GenerateID generates a unique process instance ID.
func (e *ClaimEngine) GenerateID() (string, error) {
	id, err := e.generate.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 10), nil
}

// Start validates the submission, creates a process instance and drives it
// until it parks on a manual step or terminates. Only invalid input, a
// claim that already has an active instance, and engine shutdown are
// returned as errors; every other outcome is recorded on the instance.
func (e *ClaimEngine) Start(ctx context.Context, sub types.Submission) (types.ProcessInstance, error) {
	select {
	case <-ctx.Done():
		return types.ProcessInstance{}, ctx.Err()
	default:
	}

	if err := e.enter(); err != nil {
		return types.ProcessInstance{}, err
	}
	defer e.runs.Done()

	if err := ValidateSubmission(sub); err != nil {
		return types.ProcessInstance{}, err
	}

	id, err := e.GenerateID()
	if err != nil {
		return types.ProcessInstance{}, fmt.Errorf("failed to generate ID: %w", err)
	}

	now := time.Now().UnixMilli()
	inst := types.ProcessInstance{
		ID:            id,
		CurrentStepID: e.graph.Start(),
		Status:        types.StatusRunning,
		Context:       types.NewClaimContext(sub),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	claimID := strings.TrimSpace(sub.ClaimID)
	if claimID != "" {
		inst.BusinessKey = claimID
		inst.Context.ClaimID = claimID
	}

	// indexed before the key is bound, so a bound key always has an entry
	en := newEntry(inst)
	en.mu.Lock()
	defer en.mu.Unlock()
	e.index.put(id, en)

	if claimID != "" {
		if err := e.bindKey(ctx, claimID, id); err != nil {
			e.index.remove(id)
			return types.ProcessInstance{}, err
		}
	}

	e.saveInstance(ctx, en)
	e.publishEvent(events.StateChanged, &en.inst, map[string]interface{}{
		"status":       en.inst.Status,
		"current_step": en.inst.CurrentStepID,
	})
	e.logger.Info("Claim process started",
		log.ProcessID(id), log.ClaimID(inst.BusinessKey))

	e.run(ctx, en)
	return en.inst.Clone(), nil
}

// ValidateSubmission checks the required submission fields.
func ValidateSubmission(sub types.Submission) error {
	var missing []string
	for name, v := range map[string]string{
		"customer_id":   sub.CustomerID,
		"full_name":     sub.FullName,
		"policy_number": sub.PolicyNumber,
		"claim_type":    sub.ClaimType,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidSubmission, strings.Join(missing, ", "))
	}
	if !sub.ClaimedAmount.IsPositive() {
		return fmt.Errorf("%w: claimed_amount must be positive, got %s",
			ErrInvalidSubmission, sub.ClaimedAmount)
	}
	return nil
}

// Advance resumes a RUNNING instance, for example one recovered from
// storage after a restart. Waiting instances are left untouched.
func (e *ClaimEngine) Advance(ctx context.Context, id string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.runs.Done()

	en, err := e.entry(ctx, id)
	if err != nil {
		return err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	switch {
	case en.inst.Status.IsTerminal():
		return fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, id, en.inst.Status)
	case en.inst.Status == types.StatusWaitingOnTask:
		return nil
	}
	e.run(ctx, en)
	return nil
}

// CompleteTask merges variables into the instance of the task, removes the
// task and resumes the instance from the task's step.
func (e *ClaimEngine) CompleteTask(
	ctx context.Context, taskID string, variables map[string]interface{},
) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.runs.Done()

	task, ok := e.tasks.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	en, err := e.entry(ctx, task.ProcessInstanceID)
	if err != nil {
		return err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	inst := &en.inst
	if inst.Status != types.StatusWaitingOnTask || inst.ActiveTaskID != taskID {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	step, ok := e.graph.Step(task.StepID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, task.StepID)
	}
	if err := inst.Context.SetVariables(variables); err != nil {
		return err
	}

	e.tasks.Remove(taskID)
	now := time.Now().UnixMilli()
	inst.Log = append(inst.Log, types.StepLogEntry{
		StepID:    step.ID,
		Attempt:   1,
		EnteredAt: task.CreatedAt,
		ExitedAt:  now,
		Outcome:   types.OutcomeSucceeded,
		Summary:   "task completed: " + task.Name,
	})
	inst.ActiveTaskID = ""
	inst.Status = types.StatusRunning
	inst.UpdatedAt = now
	e.publishEvent(events.TaskCompleted, inst, map[string]interface{}{
		"task_id": taskID,
		"step_id": step.ID,
	})

	if err := e.transition(ctx, en, step); err != nil {
		e.fail(ctx, en, err)
		return nil
	}
	e.run(ctx, en)
	return nil
}

// Cancel aborts an instance. A step call in flight gets its context
// cancelled; the instance ends TERMINATED_FAILED with reason either way.
func (e *ClaimEngine) Cancel(ctx context.Context, id, reason string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.runs.Done()

	en, err := e.entry(ctx, id)
	if err != nil {
		return err
	}
	if en.view().Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrInstanceTerminal, id)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by operator"
	}
	en.requestCancel(reason)

	en.mu.Lock()
	defer en.mu.Unlock()
	if en.inst.Status.IsTerminal() {
		return nil
	}
	e.fail(ctx, en, fmt.Errorf("%w: %s", ErrCancelled, reason))
	return nil
}

// GetState reports the active instance of a claim, or FINISHED when there
// is none.
func (e *ClaimEngine) GetState(_ context.Context, businessKey string) types.StateView {
	en, ok := e.index.active(businessKey)
	if !ok {
		return types.StateView{ClaimID: businessKey, State: types.StateFinished}
	}
	inst := en.view()
	if !inst.Status.IsActive() {
		return types.StateView{ClaimID: businessKey, State: types.StateFinished}
	}
	return types.StateView{
		ClaimID:           businessKey,
		State:             string(inst.Status),
		ProcessInstanceID: inst.ID,
		CurrentStepID:     inst.CurrentStepID,
		ActiveStepIDs:     []types.StepID{inst.CurrentStepID},
	}
}

// ListActiveTasks returns every open manual task.
func (e *ClaimEngine) ListActiveTasks() []types.ManualTask {
	return e.tasks.List()
}

// TasksForClaim returns the open tasks of a claim.
func (e *ClaimEngine) TasksForClaim(businessKey string) []types.ManualTask {
	return e.tasks.ForClaim(businessKey)
}

// TasksForInstance returns the open tasks of a process instance.
func (e *ClaimEngine) TasksForInstance(id string) []types.ManualTask {
	return e.tasks.ForInstance(id)
}

// GetInstance returns a copy of an instance, checking memory then storage.
func (e *ClaimEngine) GetInstance(ctx context.Context, id string) (types.ProcessInstance, error) {
	select {
	case <-ctx.Done():
		return types.ProcessInstance{}, ctx.Err()
	default:
	}
	if en, ok := e.index.get(id); ok {
		return en.view(), nil
	}
	inst, err := e.storage.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrInstanceNotFound) {
			return types.ProcessInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return types.ProcessInstance{}, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// PruneFinished drops terminal instances from memory and storage.
func (e *ClaimEngine) PruneFinished(ctx context.Context) (int, error) {
	n := e.index.pruneTerminal()
	if err := e.storage.ClearCompleted(ctx); err != nil {
		return n, fmt.Errorf("failed to clear completed instances: %w", err)
	}
	return n, nil
}

// Stop refuses new work and waits for runs in flight. When ctx ends first
// the runs are interrupted and their instances stay RUNNING so Advance can
// resume them later.
func (e *ClaimEngine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	e.stopped = true
	e.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.runs.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.halt()
		<-done
	}
	e.halt()
	e.eventBus.Stop()
	return err
}

// enter counts an operation that may write instance state. Stop waits for
// every counted operation; once Stop has begun nothing more is counted.
func (e *ClaimEngine) enter() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}
	e.runs.Add(1)
	return nil
}

// run drives an instance until it parks, terminates or is interrupted.
// The caller holds en.mu and has entered.
func (e *ClaimEngine) run(ctx context.Context, en *entry) {
	parent, stopParent := mergeCancel(context.WithoutCancel(ctx), e.baseCtx)
	defer stopParent()
	runCtx, end := en.beginRun(parent)
	defer end()

	for {
		inst := &en.inst
		if inst.Status.IsTerminal() {
			return
		}
		if runCtx.Err() != nil || e.isCancelled(en) {
			e.interrupted(ctx, en)
			return
		}

		step, ok := e.graph.Step(inst.CurrentStepID)
		if !ok {
			e.fail(ctx, en, fmt.Errorf("%w: %s", ErrUnknownStep, inst.CurrentStepID))
			return
		}
		if step.Kind == StepManual {
			e.park(ctx, en, step)
			return
		}

		out := e.executor.Execute(runCtx, step, Input{
			ProcessInstanceID: inst.ID,
			BusinessKey:       inst.BusinessKey,
			Context:           inst.Context.Clone(),
			Decision:          cloneDecision(inst.Decision),
		})
		inst.Log = append(inst.Log, out.Attempts...)
		inst.UpdatedAt = time.Now().UnixMilli()
		for _, a := range out.Attempts {
			e.publishEvent(events.StepExecuted, inst, map[string]interface{}{
				"step_id": a.StepID,
				"attempt": a.Attempt,
				"outcome": a.Outcome,
			})
		}

		if !out.Success() {
			if runCtx.Err() != nil {
				e.interrupted(ctx, en)
				return
			}
			if step.Final {
				e.finalFailed(ctx, en, out.Err)
				return
			}
			e.fail(ctx, en, out.Err)
			return
		}

		if err := inst.Context.Apply(out.Result.Fields); err != nil {
			e.fail(ctx, en, err)
			return
		}
		if inst.BusinessKey == "" && inst.Context.ClaimID != "" {
			if err := e.bindKey(runCtx, inst.Context.ClaimID, inst.ID); err != nil {
				e.fail(ctx, en, err)
				return
			}
			inst.BusinessKey = inst.Context.ClaimID
		}

		if step.Final {
			e.finish(ctx, en, terminalStatus(inst.Decision), "")
			return
		}
		if err := e.transition(ctx, en, step); err != nil {
			e.fail(ctx, en, err)
			return
		}
	}
}

// transition applies the route of a completed step.
func (e *ClaimEngine) transition(ctx context.Context, en *entry, step Step) error {
	inst := &en.inst
	route, err := step.Route(inst.Context)
	if err != nil {
		return fmt.Errorf("routing %s: %w", step.ID, err)
	}
	if route.Decision != nil {
		if inst.Decision != nil {
			return fmt.Errorf("%w: %s", ErrDecisionAlreadySet, inst.Decision.Status)
		}
		inst.Decision = cloneDecision(route.Decision)
	}
	if _, ok := e.graph.Step(route.Next); !ok {
		return fmt.Errorf("%w: %s routes to %s", ErrUnknownStep, step.ID, route.Next)
	}

	inst.CurrentStepID = route.Next
	inst.UpdatedAt = time.Now().UnixMilli()
	e.saveInstance(ctx, en)
	data := map[string]interface{}{
		"status":       inst.Status,
		"current_step": inst.CurrentStepID,
	}
	if route.Decision != nil {
		data["decision"] = route.Decision.Status
		data["message"] = route.Decision.Message
	}
	e.publishEvent(events.StateChanged, inst, data)
	return nil
}

// park registers a manual task and leaves the instance waiting on it.
func (e *ClaimEngine) park(ctx context.Context, en *entry, step Step) {
	inst := &en.inst
	now := time.Now().UnixMilli()
	task := types.ManualTask{
		ID:                uuid.NewString(),
		ProcessInstanceID: inst.ID,
		BusinessKey:       inst.BusinessKey,
		StepID:            step.ID,
		Name:              step.Name,
		CreatedAt:         now,
	}
	e.tasks.Register(task)

	inst.Status = types.StatusWaitingOnTask
	inst.ActiveTaskID = task.ID
	inst.UpdatedAt = now
	inst.Log = append(inst.Log, types.StepLogEntry{
		StepID:    step.ID,
		Attempt:   1,
		EnteredAt: now,
		ExitedAt:  now,
		Outcome:   types.OutcomeParked,
		Summary:   "waiting on task: " + step.Name,
	})
	e.saveInstance(ctx, en)

	e.publishEvent(events.TaskCreated, inst, map[string]interface{}{
		"task_id": task.ID,
		"step_id": step.ID,
		"name":    step.Name,
	})
	e.publishEvent(events.StateChanged, inst, map[string]interface{}{
		"status":       inst.Status,
		"current_step": inst.CurrentStepID,
	})
	e.logger.Info("Claim process waiting on task",
		log.ProcessID(inst.ID),
		log.ClaimID(inst.BusinessKey),
		log.TaskID(task.ID),
		log.StepID(step.ID))
}

func (e *ClaimEngine) isCancelled(en *entry) bool {
	_, ok := en.cancelled()
	return ok
}

// interrupted ends a run whose context was cancelled. An operator cancel
// fails the instance; a shutdown suspends it.
func (e *ClaimEngine) interrupted(ctx context.Context, en *entry) {
	if reason, ok := en.cancelled(); ok {
		e.fail(ctx, en, fmt.Errorf("%w: %s", ErrCancelled, reason))
		return
	}
	e.suspend(ctx, en)
}

// suspend leaves an interrupted instance RUNNING for a later Advance.
func (e *ClaimEngine) suspend(ctx context.Context, en *entry) {
	en.inst.UpdatedAt = time.Now().UnixMilli()
	e.saveInstance(ctx, en)
	e.logger.Warn("Claim process suspended by shutdown",
		log.ProcessID(en.inst.ID),
		log.StepID(en.inst.CurrentStepID))
}

// finalFailed handles a status push that did not go through.
func (e *ClaimEngine) finalFailed(ctx context.Context, en *entry, err error) {
	inst := &en.inst
	if errors.Is(err, clients.ErrNotFound) {
		e.fail(ctx, en, err)
		return
	}

	pushErr := fmt.Errorf("%w: %v", ErrStatusPushFailure, err)
	inst.ReconcileRequired = true
	e.logger.Warn("Claim status push failed, reconciliation required",
		log.ProcessID(inst.ID),
		log.ClaimID(inst.BusinessKey),
		log.Error(pushErr))
	data := map[string]interface{}{"error": pushErr.Error()}
	if inst.Decision != nil {
		data["status"] = inst.Decision.Status
		data["message"] = inst.Decision.Message
	}
	e.publishEvent(events.StatusPushFailed, inst, data)
	e.finish(ctx, en, terminalStatus(inst.Decision), pushErr.Error())
}

// fail terminates an instance as TERMINATED_FAILED.
func (e *ClaimEngine) fail(ctx context.Context, en *entry, err error) {
	if errors.Is(err, clients.ErrNotFound) {
		err = fmt.Errorf("%w: %v", ErrClaimStoreInconsistency, err)
	}
	e.logger.Error("Claim process failed",
		log.ProcessID(en.inst.ID),
		log.ClaimID(en.inst.BusinessKey),
		log.StepID(en.inst.CurrentStepID),
		log.Error(err))
	e.finish(ctx, en, types.StatusTerminatedFailed, redact(err.Error(), en.inst.Context))
}

// finish moves an instance to a terminal status and releases everything it
// holds.
func (e *ClaimEngine) finish(
	ctx context.Context, en *entry, status types.Status, reason string,
) {
	inst := &en.inst
	inst.Status = status
	inst.FailureReason = reason
	inst.ActiveTaskID = ""
	inst.UpdatedAt = time.Now().UnixMilli()

	e.tasks.RemoveForInstance(inst.ID)
	if inst.BusinessKey != "" {
		e.releaseKey(ctx, inst.BusinessKey, inst.ID)
	}
	snap := e.saveInstance(ctx, en)

	if e.archiver != nil {
		actx := context.WithoutCancel(ctx)
		if err := e.archiver.Archive(actx, snap, inst.UpdatedAt); err != nil {
			e.logger.Error("Failed to archive instance",
				log.ProcessID(inst.ID), log.Error(err))
		}
	}

	data := map[string]interface{}{
		"status": inst.Status,
	}
	if inst.Decision != nil {
		data["decision"] = inst.Decision.Status
		data["message"] = inst.Decision.Message
	}
	if reason != "" {
		data["reason"] = reason
	}
	e.publishEvent(events.StateChanged, inst, data)
	e.publishEvent(events.InstanceTerminated, inst, data)
	e.logger.Info("Claim process terminated",
		log.ProcessID(inst.ID),
		log.ClaimID(inst.BusinessKey),
		log.Status(inst.Status))
}

// entry returns the indexed entry of id, loading it from storage if needed.
func (e *ClaimEngine) entry(ctx context.Context, id string) (*entry, error) {
	if en, ok := e.index.get(id); ok {
		return en, nil
	}

	inst, err := e.storage.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	en := newEntry(inst)
	if cur := e.index.put(id, en); cur != en {
		return cur, nil
	}
	e.restore(ctx, inst)
	return en, nil
}

// restore rebuilds the key binding and open task of a loaded instance.
func (e *ClaimEngine) restore(ctx context.Context, inst types.ProcessInstance) {
	if !inst.Status.IsActive() {
		return
	}
	if inst.BusinessKey != "" {
		if err := e.bindKey(ctx, inst.BusinessKey, inst.ID); err != nil {
			e.logger.Warn("Restored instance lost its claim binding",
				log.ProcessID(inst.ID), log.Error(err))
		}
	}
	if inst.Status == types.StatusWaitingOnTask && inst.ActiveTaskID != "" {
		step, _ := e.graph.Step(inst.CurrentStepID)
		e.tasks.Register(types.ManualTask{
			ID:                inst.ActiveTaskID,
			ProcessInstanceID: inst.ID,
			BusinessKey:       inst.BusinessKey,
			StepID:            inst.CurrentStepID,
			Name:              step.Name,
			CreatedAt:         inst.UpdatedAt,
		})
	}
}

// bindKey reserves a business key in memory and in storage.
func (e *ClaimEngine) bindKey(ctx context.Context, key, id string) error {
	if !e.index.bind(key, id) {
		return fmt.Errorf("%w: %s", ErrClaimActive, key)
	}
	ok, err := e.storage.ReserveKey(ctx, key, id)
	if err != nil {
		e.index.unbind(key, id)
		return fmt.Errorf("failed to reserve claim %s: %w", key, err)
	}
	if !ok {
		e.index.unbind(key, id)
		return fmt.Errorf("%w: %s", ErrClaimActive, key)
	}
	return nil
}

func (e *ClaimEngine) releaseKey(ctx context.Context, key, id string) {
	e.index.unbind(key, id)
	if err := e.storage.ReleaseKey(context.WithoutCancel(ctx), key, id); err != nil {
		e.logger.Warn("Failed to release claim binding",
			log.ProcessID(id), log.ClaimID(key), log.Error(err))
	}
}

// saveInstance publishes the working copy to readers and persists it.
// Storage errors are logged; the in-memory instance stays authoritative.
func (e *ClaimEngine) saveInstance(ctx context.Context, en *entry) types.ProcessInstance {
	snap := en.publish()
	if err := e.storage.SaveInstance(context.WithoutCancel(ctx), snap); err != nil {
		e.logger.Error("Failed to save instance",
			log.ProcessID(snap.ID), log.Error(err))
	}
	return snap
}

// publishEvent publishes an event asynchronously to the event bus.
func (e *ClaimEngine) publishEvent(
	eventType events.Type, inst *types.ProcessInstance, data map[string]interface{},
) {
	err := e.eventBus.Publish(context.Background(), events.Event{
		Type:              eventType,
		ProcessInstanceID: inst.ID,
		BusinessKey:       inst.BusinessKey,
		Data:              data,
	})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.logger.Debug("Event not published",
			slog.String("event_type", string(eventType)),
			log.ProcessID(inst.ID),
			log.Error(err))
	}
}

func terminalStatus(d *types.Decision) types.Status {
	if d != nil && d.Status == types.ClaimApproved {
		return types.StatusCompleted
	}
	return types.StatusTerminatedRejected
}

func cloneDecision(d *types.Decision) *types.Decision {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// mergeCancel returns a context cancelled when either ctx or other is.
func mergeCancel(ctx, other context.Context) (context.Context, func()) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
