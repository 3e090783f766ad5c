// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geochirp/globe-engine/internal/storage"
	"github.com/geochirp/globe-engine/pkg/core"
)

var _ storage.Backend = (*Backend)(nil)

type subscriber struct {
	window int
	fn     storage.SnapshotFunc
}

// Backend keeps records in process memory, newest first. Publish notifies
// subscribers synchronously.
type Backend struct {
	mu      sync.RWMutex
	records []core.RawRecord
	subs    map[uint64]*subscriber
	nextSub uint64
	closed  bool
	now     func() time.Time
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		subs: make(map[uint64]*subscriber),
		now:  time.Now,
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close drops every subscriber.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[uint64]*subscriber)
	return nil
}

// Seed places records, given newest first, ahead of the existing ones and
// notifies subscribers once.
func (b *Backend) Seed(records ...core.RawRecord) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return storage.ErrClosed
	}
	b.records = append(append([]core.RawRecord(nil), records...), b.records...)
	b.mu.Unlock()

	b.notify()
	return nil
}

// Publish stores rec as the newest record.
func (b *Backend) Publish(ctx context.Context, rec core.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Seed(rec)
}

// Subscribe delivers the current window immediately and again after every
// Publish until ctx ends or the subscription is cancelled.
func (b *Backend) Subscribe(ctx context.Context, window int, fn storage.SnapshotFunc) (storage.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, storage.ErrClosed
	}
	b.nextSub++
	id := b.nextSub
	s := &subscriber{window: window, fn: fn}
	b.subs[id] = s
	snap := b.snapshotLocked(window)
	b.mu.Unlock()

	sub := &Subscription{backend: b, id: id, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-sub.done:
		}
	}()

	fn(snap)
	return sub, nil
}

// RecentByAuthor returns up to limit records by uid, newest first.
func (b *Backend) RecentByAuthor(ctx context.Context, uid string, limit int) ([]core.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.RawRecord, 0, limit)
	for _, r := range b.records {
		if limit > 0 && len(out) == limit {
			break
		}
		if r.Author != nil && r.Author.UID == uid {
			out = append(out, r)
		}
	}
	return out, nil
}

// Records returns a copy of every stored record, newest first.
func (b *Backend) Records() []core.RawRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.RawRecord(nil), b.records...)
}

// Subscribers returns the number of active subscriptions.
func (b *Backend) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Backend) notify() {
	type delivery struct {
		fn   storage.SnapshotFunc
		snap core.Snapshot
	}

	b.mu.RLock()
	pending := make([]delivery, 0, len(b.subs))
	for _, s := range b.subs {
		pending = append(pending, delivery{fn: s.fn, snap: b.snapshotLocked(s.window)})
	}
	b.mu.RUnlock()

	for _, d := range pending {
		d.fn(d.snap)
	}
}

func (b *Backend) snapshotLocked(window int) core.Snapshot {
	n := len(b.records)
	if window > 0 && n > window {
		n = window
	}
	return core.Snapshot{
		Records:    append([]core.RawRecord(nil), b.records[:n]...),
		ReceivedAt: b.now(),
	}
}

var _ storage.Subscription = (*Subscription)(nil)

// Subscription is an active memory subscription.
type Subscription struct {
	backend *Backend
	id      uint64
	once    sync.Once
	done    chan struct{}
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.backend.mu.Lock()
		delete(s.backend.subs, s.id)
		s.backend.mu.Unlock()
		close(s.done)
	})
	return nil
}
