// Package gormstorage implements storage.Backend on a GORM database. Writes
// are queued and flushed in batches; subscribers poll the newest window and
// receive a snapshot whenever its contents change.
package gormstorage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/geochirp/globe-engine/internal/database"
	"github.com/geochirp/globe-engine/internal/model"
	"github.com/geochirp/globe-engine/internal/model/convert"
	"github.com/geochirp/globe-engine/internal/queue"
	"github.com/geochirp/globe-engine/internal/storage"
	"github.com/geochirp/globe-engine/pkg/core"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPollInterval is used when Dependencies.PollInterval is not set.
const DefaultPollInterval = 2 * time.Second

// Dependencies holds everything the backend needs.
type Dependencies struct {
	DB           *gorm.DB
	Logger       *slog.Logger
	PollInterval time.Duration
}

// Backend stores messages through GORM.
type Backend struct {
	db           *gorm.DB
	log          *slog.Logger
	pollInterval time.Duration

	writes   *queue.Queue[model.MessageRecord]
	flushMu  sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	closed   bool
	mu       sync.Mutex
	now      func() time.Time
}

var _ storage.Backend = (*Backend)(nil)

// New creates a GORM backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	return &Backend{
		db:           deps.DB,
		log:          deps.Logger,
		pollInterval: deps.PollInterval,
		writes:       queue.New[model.MessageRecord](),
		stopChan:     make(chan struct{}),
		now:          time.Now,
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema and starts the write loop.
func (b *Backend) Init() error {
	if err := database.Migrate(b.db); err != nil {
		return err
	}

	b.wg.Add(1)
	go b.writeLoop()
	return nil
}

// Close stops every goroutine and flushes pending writes.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	return b.Flush()
}

// Publish queues rec for the next batch write.
func (b *Backend) Publish(ctx context.Context, rec core.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return storage.ErrClosed
	}

	row, err := convert.CoreToMessage(rec)
	if err != nil {
		return err
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = b.now()
	}
	b.writes.Push(row)
	return nil
}

// Flush writes every queued record. Records whose id already exists are
// skipped.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.writes.Empty() {
		return nil
	}
	rows := b.writes.GetAndEmpty()

	start := time.Now()
	err := b.db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 500).Error
	if err != nil {
		b.writes.Push(rows...)
		return fmt.Errorf("write messages: %w", err)
	}
	b.log.Debug("flushed messages", "count", len(rows), "duration", time.Since(start))
	return nil
}

// Pending returns the number of queued writes.
func (b *Backend) Pending() int {
	return b.writes.Len()
}

// Subscribe polls the newest window every interval and calls fn when the set
// of ids in it changes. The first poll always delivers.
func (b *Backend) Subscribe(ctx context.Context, window int, fn storage.SnapshotFunc) (storage.Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, storage.ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.pollLoop(ctx, window, fn)
	}()

	var once sync.Once
	return storage.SubscriptionFunc(func() error {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
		return nil
	}), nil
}

// RecentByAuthor returns up to limit records by uid, newest first.
func (b *Backend) RecentByAuthor(ctx context.Context, uid string, limit int) ([]core.RawRecord, error) {
	var rows []model.MessageRecord
	q := b.db.WithContext(ctx).
		Where("author_uid = ?", uid).
		Order("created_at desc").
		Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query author %s: %w", uid, err)
	}
	return convert.MessagesToCore(rows), nil
}

// Window returns the newest window records.
func (b *Backend) Window(ctx context.Context, window int) ([]core.RawRecord, error) {
	var rows []model.MessageRecord
	q := b.db.WithContext(ctx).
		Order("created_at desc").
		Order("id desc")
	if window > 0 {
		q = q.Limit(window)
	}
	err := q.Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}
	return convert.MessagesToCore(rows), nil
}

func (b *Backend) pollLoop(ctx context.Context, window int, fn storage.SnapshotFunc) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	last := ""
	first := true
	poll := func() {
		records, err := b.Window(ctx, window)
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn("poll failed", "error", err)
			}
			return
		}
		fp := fingerprint(records)
		if !first && fp == last {
			return
		}
		first = false
		last = fp
		fn(core.Snapshot{Records: records, ReceivedAt: b.now()})
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		case <-ticker.C:
			poll()
		}
	}
}

func (b *Backend) writeLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Warn("flush failed, will retry", "error", err)
			}
		}
	}
}

func fingerprint(records []core.RawRecord) string {
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(r.ID)
		sb.WriteByte(0)
	}
	return sb.String()
}
