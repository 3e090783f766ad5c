package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func (l *testLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func newTestDispatcher(t *testing.T, queueSize int) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger, queueSize)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func runLoop(t *testing.T, d *Dispatcher) (cancel func()) {
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("loop did not stop")
		}
	}
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t, 0)

	called := false
	d.Register(":TEST:", func(e Event) (any, error) {
		called = true
		return "result", nil
	})

	result, err := d.Dispatch(Event{Command: ":TEST:", Payload: "arg1"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if result != "result" {
		t.Errorf("expected 'result', got %v", result)
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t, 0)

	_, err := d.Dispatch(Event{Command: ":UNKNOWN:"})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
	if err := d.Post(Event{Command: ":UNKNOWN:"}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand posting, got %v", err)
	}
	if d.HasHandler(":UNKNOWN:") {
		t.Error("HasHandler reported an unregistered command")
	}
}

func TestDispatcher_PostRunsInOrder(t *testing.T) {
	d, _ := newTestDispatcher(t, 16)

	var mu sync.Mutex
	var got []int
	all := make(chan struct{})

	d.Register(":STEP:", func(e Event) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Payload.(int))
		if len(got) == 10 {
			close(all)
		}
		return nil, nil
	})

	for i := 0; i < 10; i++ {
		if err := d.Post(Event{Command: ":STEP:", Payload: i}); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}

	stop := runLoop(t, d)
	defer stop()

	select {
	case <-all:
	case <-time.After(time.Second):
		t.Fatal("events not processed")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d out of order: got %d", i, v)
		}
	}
}

func TestDispatcher_PostStampsTimestamp(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)

	stamped := make(chan time.Time, 1)
	d.Register(":STAMP:", func(e Event) (any, error) {
		stamped <- e.Timestamp
		return nil, nil
	})

	stop := runLoop(t, d)
	defer stop()

	if err := d.Post(Event{Command: ":STAMP:"}); err != nil {
		t.Fatalf("post: %v", err)
	}

	select {
	case ts := <-stamped:
		if ts.IsZero() {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("event not processed")
	}
}

func TestDispatcher_QueueFullDrops(t *testing.T) {
	d, _ := newTestDispatcher(t, 1)

	d.Register(":DROP:", func(e Event) (any, error) { return nil, nil })

	if err := d.Post(Event{Command: ":DROP:"}); err != nil {
		t.Fatalf("first post: %v", err)
	}

	err := d.Post(Event{Command: ":DROP:"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if d.QueueLen() != 1 {
		t.Errorf("expected 1 queued event, got %d", d.QueueLen())
	}
}

func TestDispatcher_BlockingWaitsForRoom(t *testing.T) {
	d, _ := newTestDispatcher(t, 1)

	processed := make(chan struct{}, 2)
	d.Register(":BLOCK:", func(e Event) (any, error) {
		processed <- struct{}{}
		return nil, nil
	}, Blocking())

	if err := d.Post(Event{Command: ":BLOCK:"}); err != nil {
		t.Fatalf("first post: %v", err)
	}

	posted := make(chan error, 1)
	go func() {
		posted <- d.Post(Event{Command: ":BLOCK:"})
	}()

	select {
	case <-posted:
		t.Fatal("blocking post returned before room was available")
	case <-time.After(50 * time.Millisecond):
	}

	stop := runLoop(t, d)
	defer stop()

	select {
	case err := <-posted:
		if err != nil {
			t.Fatalf("blocking post: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocking post never completed")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-processed:
		case <-time.After(time.Second):
			t.Fatal("event not processed")
		}
	}
}

func TestDispatcher_PostAfterStop(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)

	d.Register(":LATE:", func(e Event) (any, error) { return nil, nil }, Blocking())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := d.Post(Event{Command: ":LATE:"}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestDispatcher_HandlerErrorDoesNotStopLoop(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)

	ok := make(chan struct{}, 1)
	d.Register(":FAIL:", func(e Event) (any, error) {
		return nil, errors.New("boom")
	})
	d.Register(":OK:", func(e Event) (any, error) {
		ok <- struct{}{}
		return nil, nil
	})

	stop := runLoop(t, d)
	defer stop()

	_ = d.Post(Event{Command: ":FAIL:"})
	_ = d.Post(Event{Command: ":OK:"})

	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after handler error")
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t, 0)

	d.Register(":LOGGED:", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())
	d.Register(":LOGGED:FAIL:", func(e Event) (any, error) {
		return nil, errors.New("nope")
	}, Logged())

	_, _ = d.Dispatch(Event{Command: ":LOGGED:"})
	_, _ = d.Dispatch(Event{Command: ":LOGGED:FAIL:"})

	messages := logger.snapshot()

	var handling, complete, failed bool
	for _, msg := range messages {
		switch {
		case strings.Contains(msg, "handling event"):
			handling = true
		case strings.Contains(msg, "event complete"):
			complete = true
		case strings.HasPrefix(msg, "ERROR: event failed"):
			failed = true
		}
	}

	if !handling || !complete || !failed {
		t.Errorf("missing log lines, got %v", messages)
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t, 0)

	d.Register(":EXISTS:", func(e Event) (any, error) { return nil, nil })

	if !d.HasHandler(":EXISTS:") {
		t.Error("expected HasHandler to return true")
	}
	if d.HasHandler(":NOPE:") {
		t.Error("expected HasHandler to return false")
	}
}
