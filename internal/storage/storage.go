// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/geochirp/globe-engine/pkg/core"
)

// ErrClosed is returned by operations on a backend after Close.
var ErrClosed = errors.New("storage backend closed")

// SnapshotFunc receives a full replacement window of records, newest first.
// It is called from a backend goroutine and must not block for long.
type SnapshotFunc func(core.Snapshot)

// Subscription is an active snapshot stream.
type Subscription interface {
	Unsubscribe() error
}

// Source pushes snapshots of the most recent records.
type Source interface {
	// Subscribe starts delivering snapshots of at most window records to fn.
	// Delivery stops when ctx ends or the subscription is cancelled.
	Subscribe(ctx context.Context, window int, fn SnapshotFunc) (Subscription, error)
}

// ProfileFetcher loads an author's recent records.
type ProfileFetcher interface {
	RecentByAuthor(ctx context.Context, uid string, limit int) ([]core.RawRecord, error)
}

// Publisher stores a new record.
type Publisher interface {
	Publish(ctx context.Context, rec core.RawRecord) error
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	Source
	ProfileFetcher
	Publisher
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() error {
	return f()
}
