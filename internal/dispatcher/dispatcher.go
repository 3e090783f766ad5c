// Package dispatcher serializes engine events. Any goroutine may Post; a
// single goroutine running Run executes the handlers, so handlers never race
// each other on engine state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geochirp/globe-engine/internal/channel"
)

// DefaultQueueSize is the event loop buffer used when none is given.
const DefaultQueueSize = 1024

var (
	// ErrQueueFull is returned by Post when a non-blocking event is dropped.
	ErrQueueFull = errors.New("event queue full")
	// ErrStopped is returned by Post after the loop has exited.
	ErrStopped = errors.New("event loop stopped")
	// ErrUnknownCommand is returned for commands without a handler.
	ErrUnknownCommand = errors.New("unknown command")
)

// Event is a unit of work for the event loop.
type Event struct {
	Command   string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger is the subset of a structured logger the dispatcher needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*registration)

// Blocking makes Post wait for room in the queue instead of dropping the
// event. Use it for events that must not be lost.
func Blocking() Option {
	return func(r *registration) { r.blocking = true }
}

// Logged wraps the handler with debug timing logs and error logging.
func Logged() Option {
	return func(r *registration) { r.logged = true }
}

type registration struct {
	handler  HandlerFunc
	blocking bool
	logged   bool
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]registration
	logger   Logger

	queue   channel.Channel[Event]
	done    chan struct{}
	stopped sync.Once
	metrics *loopMetrics
}

// New creates a Dispatcher whose loop buffers up to queueSize events.
func New(logger Logger, queueSize int) (*Dispatcher, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		handlers: make(map[string]registration),
		logger:   logger,
		queue:    channel.New[Event](queueSize),
		done:     make(chan struct{}),
	}
	lm, err := newLoopMetrics(d.queue.Len)
	if err != nil {
		return nil, err
	}
	d.metrics = lm
	return d, nil
}

// Register installs the handler for command, replacing any previous one.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	r := registration{handler: h}
	for _, opt := range opts {
		opt(&r)
	}
	if r.logged {
		r.handler = d.withLogging(command, h)
	}

	d.mu.Lock()
	d.handlers[command] = r
	d.mu.Unlock()
}

func (d *Dispatcher) lookup(command string) (registration, error) {
	d.mu.RLock()
	r, ok := d.handlers[command]
	d.mu.RUnlock()
	if !ok {
		return r, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	return r, nil
}

// Dispatch runs the handler for e on the caller's goroutine.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	r, err := d.lookup(e.Command)
	if err != nil {
		return nil, err
	}
	return r.handler(e)
}

// Post enqueues e for the loop. Events of Blocking handlers wait for room;
// the rest fail with ErrQueueFull when the queue is full.
func (d *Dispatcher) Post(e Event) error {
	r, err := d.lookup(e.Command)
	if err != nil {
		return err
	}
	select {
	case <-d.done:
		return ErrStopped
	default:
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	switch {
	case r.blocking:
		if !d.queue.SendUntil(e, d.done) {
			return ErrStopped
		}
	case !d.queue.TrySend(e):
		d.metrics.drop(e.Command)
		return fmt.Errorf("%w: %s", ErrQueueFull, e.Command)
	}
	return nil
}

// Run executes posted events in order until ctx is done. Once Run returns,
// Post fails with ErrStopped.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.stopped.Do(func() { close(d.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-d.queue.Receive():
			// errors were already logged by Logged handlers
			_, _ = d.Dispatch(e)
			d.metrics.ran(e.Command)
		}
	}
}

// HasHandler reports whether command has a handler.
func (d *Dispatcher) HasHandler(command string) bool {
	_, err := d.lookup(command)
	return err == nil
}

// QueueLen returns the number of events waiting for the loop.
func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "payload", fmt.Sprintf("%T", e.Payload))

		result, err := h(e)
		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
			return result, err
		}
		d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		return result, nil
	}
}
