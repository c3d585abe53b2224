// Package events delivers process instance lifecycle notifications to
// subscribers off the engine's hot path.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/songzhibin97/claimflow/log"
)

var (
	// ErrBusClosed indicates the event bus has been stopped.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the queue is full and the event was dropped.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates nobody listens for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Type names a lifecycle event
type Type string

const (
	StateChanged       Type = "state_changed"
	StepExecuted       Type = "step_executed"
	TaskCreated        Type = "task_created"
	TaskCompleted      Type = "task_completed"
	InstanceTerminated Type = "instance_terminated"
	StatusPushFailed   Type = "status_push_failed"

	// All receives every event regardless of type
	All Type = "*"
)

const (
	defaultBufferSize     = 100
	defaultHandlerTimeout = 5 * time.Second
)

type (
	// Event is one lifecycle notification for a process instance
	Event struct {
		Type              Type                   `json:"type"`
		ProcessInstanceID string                 `json:"process_instance_id"`
		BusinessKey       string                 `json:"business_key,omitempty"`
		Timestamp         int64                  `json:"timestamp"`
		Data              map[string]interface{} `json:"data,omitempty"`
	}

	// Handler consumes events
	Handler interface {
		Handle(ctx context.Context, event Event) error
	}

	// HandlerFunc adapts a function to Handler
	HandlerFunc func(ctx context.Context, event Event) error

	// Stats counts what the bus has done since it was created
	Stats struct {
		Delivered uint64 `json:"delivered"`
		Dropped   uint64 `json:"dropped"`
		Pending   int    `json:"pending"`
	}

	// Option configures a Bus
	Option func(*Bus)

	// Bus queues published events and hands them to subscribers from a
	// single goroutine, so each subscriber sees events in publish order
	Bus struct {
		mu      sync.RWMutex
		subs    map[Type][]subscription
		nextSub uint64

		queue   chan Event
		onError func(Event, error)
		logger  *slog.Logger
		timeout time.Duration

		delivered atomic.Uint64
		dropped   atomic.Uint64

		closeMu sync.RWMutex
		closed  bool
		wg      sync.WaitGroup
	}

	subscription struct {
		id      uint64
		handler Handler
	}
)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// WithBufferSize sets how many events may wait for delivery
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.queue = make(chan Event, size)
		}
	}
}

// WithErrorHandler replaces the default of logging handler failures
func WithErrorHandler(fn func(event Event, err error)) Option {
	return func(b *Bus) {
		if fn != nil {
			b.onError = fn
		}
	}
}

// WithLogger sets the logger used for handler failures
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithHandlerTimeout bounds a single handler invocation
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBus creates a Bus and starts its delivery goroutine
func NewBus(options ...Option) *Bus {
	b := &Bus{
		subs:    map[Type][]subscription{},
		queue:   make(chan Event, defaultBufferSize),
		logger:  slog.Default(),
		timeout: defaultHandlerTimeout,
	}
	b.onError = b.logError

	for _, opt := range options {
		opt(b)
	}

	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers handler for typ and returns a function that removes
// the registration again. Subscribing to All receives every event.
func (b *Bus) Subscribe(typ Type, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	id := b.nextSub
	b.subs[typ] = append(b.subs[typ], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(typ, id) })
	}
}

func (b *Bus) unsubscribe(typ Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[typ]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		rest := make([]subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(b.subs, typ)
		} else {
			b.subs[typ] = rest
		}
		return
	}
}

// Publish queues event for delivery without waiting for handlers. A full
// queue drops the event and reports ErrChannelFull.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	if len(b.handlersFor(event.Type)) == 0 {
		return ErrNoHandler
	}

	select {
	case b.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		b.dropped.Add(1)
		return ErrChannelFull
	}
}

// Stats reports delivery counters
func (b *Bus) Stats() Stats {
	return Stats{
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Pending:   len(b.queue),
	}
}

// Stop refuses new events and waits until queued ones are delivered
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

func (b *Bus) run() {
	defer b.wg.Done()
	for event := range b.queue {
		for _, h := range b.handlersFor(event.Type) {
			if err := b.call(h, event); err != nil {
				b.onError(event, err)
			}
		}
		b.delivered.Add(1)
	}
}

// handlersFor returns type subscribers followed by wildcard ones
func (b *Bus) handlersFor(typ Type) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res := make([]Handler, 0, len(b.subs[typ])+len(b.subs[All]))
	for _, s := range b.subs[typ] {
		res = append(res, s.handler)
	}
	if typ != All {
		for _, s := range b.subs[All] {
			res = append(res, s.handler)
		}
	}
	return res
}

func (b *Bus) call(h Handler, event Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}

func (b *Bus) logError(event Event, err error) {
	b.logger.Error("Event handler failed",
		slog.String("event_type", string(event.Type)),
		log.ProcessID(event.ProcessInstanceID),
		log.ClaimID(event.BusinessKey),
		log.Error(err))
}
