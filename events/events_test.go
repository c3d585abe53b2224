package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder collects delivered events in arrival order
type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) seen() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func claimEvent(typ Type, instance string) Event {
	return Event{
		Type:              typ,
		ProcessInstanceID: instance,
		BusinessKey:       "CLM-" + instance,
	}
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	rec := &recorder{}
	b.Subscribe(StepExecuted, rec)

	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4"} {
		if err := b.Publish(ctx, claimEvent(StepExecuted, id)); err != nil {
			t.Fatalf("Publish %s failed: %v", id, err)
		}
	}

	waitFor(t, func() bool { return len(rec.seen()) == 4 })
	for i, ev := range rec.seen() {
		want := string(rune('1' + i))
		if ev.ProcessInstanceID != want {
			t.Fatalf("event %d: expected instance %s, got %s", i, want, ev.ProcessInstanceID)
		}
		if ev.Timestamp == 0 {
			t.Errorf("event %d: expected timestamp to be stamped on publish", i)
		}
	}
}

func TestBus_KeepsCallerTimestamp(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	rec := &recorder{}
	b.Subscribe(TaskCreated, rec)

	ev := claimEvent(TaskCreated, "7")
	ev.Timestamp = 1234
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, func() bool { return len(rec.seen()) == 1 })
	if got := rec.seen()[0].Timestamp; got != 1234 {
		t.Errorf("Expected timestamp 1234, got %d", got)
	}
}

func TestBus_WildcardSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	all := &recorder{}
	terminal := &recorder{}
	b.Subscribe(All, all)
	b.Subscribe(InstanceTerminated, terminal)

	ctx := context.Background()
	for _, typ := range []Type{StateChanged, TaskCompleted, InstanceTerminated} {
		if err := b.Publish(ctx, claimEvent(typ, "9")); err != nil {
			t.Fatalf("Publish %s failed: %v", typ, err)
		}
	}

	waitFor(t, func() bool { return len(all.seen()) == 3 })
	waitFor(t, func() bool { return len(terminal.seen()) == 1 })
	if got := terminal.seen()[0].Type; got != InstanceTerminated {
		t.Errorf("Expected %s, got %s", InstanceTerminated, got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	first := &recorder{}
	second := &recorder{}
	cancelFirst := b.Subscribe(StatusPushFailed, first)
	b.Subscribe(StatusPushFailed, second)

	cancelFirst()
	cancelFirst()

	if err := b.Publish(context.Background(), claimEvent(StatusPushFailed, "3")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, func() bool { return len(second.seen()) == 1 })
	if n := len(first.seen()); n != 0 {
		t.Errorf("Expected removed handler to see nothing, got %d events", n)
	}

	b.mu.RLock()
	n := len(b.subs[StatusPushFailed])
	b.mu.RUnlock()
	if n != 1 {
		t.Errorf("Expected 1 remaining subscription, got %d", n)
	}
}

func TestBus_PublishNoHandlers(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	err := b.Publish(context.Background(), claimEvent(StateChanged, "1"))
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Expected ErrNoHandler, got %v", err)
	}

	cancel := b.Subscribe(StateChanged, &recorder{})
	cancel()
	err = b.Publish(context.Background(), claimEvent(StateChanged, "1"))
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Expected ErrNoHandler after unsubscribe, got %v", err)
	}
}

func TestBus_PublishAfterStop(t *testing.T) {
	b := NewBus()
	b.Subscribe(StateChanged, &recorder{})
	b.Stop()
	b.Stop()

	err := b.Publish(context.Background(), claimEvent(StateChanged, "1"))
	if !errors.Is(err, ErrBusClosed) {
		t.Fatalf("Expected ErrBusClosed, got %v", err)
	}
}

func TestBus_CancelledContext(t *testing.T) {
	b := NewBus()
	defer b.Stop()
	b.Subscribe(StateChanged, &recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Publish(ctx, claimEvent(StateChanged, "1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestBus_StopDeliversQueued(t *testing.T) {
	b := NewBus(WithBufferSize(10))

	release := make(chan struct{})
	rec := &recorder{}
	b.Subscribe(StepExecuted, HandlerFunc(func(ctx context.Context, ev Event) error {
		<-release
		return rec.Handle(ctx, ev)
	}))

	for _, id := range []string{"1", "2", "3"} {
		if err := b.Publish(context.Background(), claimEvent(StepExecuted, id)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	close(release)
	b.Stop()

	if n := len(rec.seen()); n != 3 {
		t.Fatalf("Expected 3 delivered events after Stop, got %d", n)
	}
	if s := b.Stats(); s.Delivered != 3 || s.Pending != 0 {
		t.Errorf("Unexpected stats after Stop: %+v", s)
	}
}

func TestBus_ChannelFullDrops(t *testing.T) {
	b := NewBus(WithBufferSize(1))

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	b.Subscribe(StepExecuted, HandlerFunc(func(context.Context, Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}))

	ctx := context.Background()
	if err := b.Publish(ctx, claimEvent(StepExecuted, "1")); err != nil {
		t.Fatalf("first Publish failed: %v", err)
	}
	<-started
	if err := b.Publish(ctx, claimEvent(StepExecuted, "2")); err != nil {
		t.Fatalf("second Publish failed: %v", err)
	}
	err := b.Publish(ctx, claimEvent(StepExecuted, "3"))
	if !errors.Is(err, ErrChannelFull) {
		t.Fatalf("Expected ErrChannelFull, got %v", err)
	}
	if s := b.Stats(); s.Dropped != 1 || s.Pending != 1 {
		t.Errorf("Unexpected stats: %+v", s)
	}

	close(block)
	b.Stop()
}

func TestBus_HandlerFailures(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []error
	)
	b := NewBus(WithErrorHandler(func(_ Event, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, err)
	}))

	after := &recorder{}
	b.Subscribe(TaskCompleted, &recorder{err: errors.New("sink unavailable")})
	b.Subscribe(TaskCompleted, HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))
	b.Subscribe(TaskCompleted, after)

	if err := b.Publish(context.Background(), claimEvent(TaskCompleted, "5")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 2 {
		t.Fatalf("Expected 2 handler failures, got %d: %v", len(failed), failed)
	}
	if failed[0].Error() != "sink unavailable" {
		t.Errorf("Unexpected first error: %v", failed[0])
	}
	if failed[1].Error() != "event handler panic: boom" {
		t.Errorf("Unexpected second error: %v", failed[1])
	}
	if len(after.seen()) != 1 {
		t.Error("Expected later handlers to run after a failing one")
	}
}

func TestBus_HandlerTimeout(t *testing.T) {
	errs := make(chan error, 1)
	b := NewBus(
		WithHandlerTimeout(10*time.Millisecond),
		WithErrorHandler(func(_ Event, err error) { errs <- err }),
	)
	defer b.Stop()

	b.Subscribe(StateChanged, HandlerFunc(func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	if err := b.Publish(context.Background(), claimEvent(StateChanged, "1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not bounded by its timeout")
	}
}
