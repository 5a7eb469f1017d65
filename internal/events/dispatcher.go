package events

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/oshokin/drowsy-alarm/internal/domain/alarm"
	"github.com/oshokin/drowsy-alarm/internal/logger"
	"github.com/oshokin/drowsy-alarm/internal/service/common"
)

const (
	// DefaultQueueSize bounds the number of undelivered events.
	DefaultQueueSize = 64
	// DefaultHandleTimeout bounds a single handler call.
	DefaultHandleTimeout = 3 * time.Second

	warnInterval = 10 * time.Second
)

// Handler consumes events.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Handlers []Handler
	// Actor tags every event. Optional.
	Actor *common.Actor
	// QueueSize overrides DefaultQueueSize.
	QueueSize int
	// HandleTimeout overrides DefaultHandleTimeout.
	HandleTimeout time.Duration
	// Now returns the event time. Defaults to time.Now.
	Now func() time.Time
}

// Dispatcher delivers events to handlers on a background goroutine.
type Dispatcher struct {
	handlers []Handler
	actor    *common.Actor
	timeout  time.Duration
	now      func() time.Time
	warn     *logger.Throttle

	// mu guards closed against concurrent publishers and Close.
	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

var (
	// ErrQueueFull is reported when an event is dropped.
	ErrQueueFull = errors.New("event queue is full")
	// ErrClosed is reported when publishing after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// NewDispatcher starts the delivery goroutine. ctx carries the logger used
// for delivery failures; its cancellation does not stop delivery, Close does.
func NewDispatcher(ctx context.Context, opts DispatcherOptions) *Dispatcher {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	timeout := opts.HandleTimeout
	if timeout <= 0 {
		timeout = DefaultHandleTimeout
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	d := &Dispatcher{
		handlers: opts.Handlers,
		actor:    opts.Actor,
		timeout:  timeout,
		now:      now,
		warn:     logger.NewThrottle(warnInterval, 1),
		queue:    make(chan Event, size),
		done:     make(chan struct{}),
	}

	go d.run(context.WithoutCancel(logger.WithName(ctx, "events")))

	return d
}

// IncidentOpened queues an alarm.fired event.
func (d *Dispatcher) IncidentOpened(ctx context.Context, incident *domain.Incident) {
	d.publish(ctx, KindAlarmFired, incident)
}

// IncidentClosed queues an alarm.recovered event.
func (d *Dispatcher) IncidentClosed(ctx context.Context, incident *domain.Incident) {
	d.publish(ctx, KindAlarmRecovered, incident)
}

// Publish queues an event without blocking.
func (d *Dispatcher) Publish(event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	if event.Actor == nil {
		event.Actor = d.actor
	}

	select {
	case d.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish snapshots the incident and queues it, logging drops.
func (d *Dispatcher) publish(ctx context.Context, kind Kind, incident *domain.Incident) {
	err := d.Publish(Event{
		Kind:     kind,
		At:       d.now(),
		Incident: incident.Clone(),
	})
	if err != nil {
		d.warn.WarnKV(ctx, "Alarm event dropped", "kind", string(kind), "error", err)
	}
}

// run delivers events until the queue is closed.
func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for event := range d.queue {
		for _, handler := range d.handlers {
			d.deliver(ctx, handler, event)
		}
	}
}

// deliver calls one handler with a timeout and recovers its panics.
func (d *Dispatcher) deliver(ctx context.Context, handler Handler, event Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorKV(ctx, "Event handler panicked", "handler", handler.Name(), "panic", r)
		}
	}()

	if err := handler.Handle(ctx, event); err != nil {
		d.warn.WarnKV(ctx, "Event handler failed",
			"handler", handler.Name(),
			"kind", string(event.Kind),
			"error", err,
		)
	}
}
