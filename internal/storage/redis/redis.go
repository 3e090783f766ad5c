// Package redisstorage implements storage.Backend on a Redis list. New
// records are pushed to the head of the list, which is trimmed to a retention
// cap; a pub/sub channel announces every change.
package redisstorage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geochirp/globe-engine/internal/storage"
	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention is the list length kept when Config.Retention is unset.
const DefaultRetention = 1000

// Config holds Redis backend configuration.
type Config struct {
	URL       string
	Key       string
	Channel   string
	Retention int
}

// Backend stores records in Redis.
type Backend struct {
	rdb *redis.Client
	cfg Config
	log *slog.Logger
	now func() time.Time
}

var _ storage.Backend = (*Backend)(nil)

// New creates a Redis backend. The connection is verified by Init.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		rdb: redis.NewClient(opts),
		cfg: cfg,
		log: logger,
		now: time.Now,
	}, nil
}

// Init pings the server.
func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.rdb.Close()
}

// Publish pushes rec to the head of the list, trims it and announces the
// change.
func (b *Backend) Publish(ctx context.Context, rec core.RawRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = b.now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, b.cfg.Key, data)
		pipe.LTrim(ctx, b.cfg.Key, 0, int64(b.cfg.Retention-1))
		pipe.Publish(ctx, b.cfg.Channel, rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish record %s: %w", rec.ID, err)
	}
	return nil
}

// Subscribe delivers the newest window records now and after every change
// notification.
func (b *Backend) Subscribe(ctx context.Context, window int, fn storage.SnapshotFunc) (storage.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, b.cfg.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.cfg.Channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	deliver := func() {
		records, err := b.window(ctx, window)
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn("redis window load failed", "error", err)
			}
			return
		}
		fn(core.Snapshot{Records: records, ReceivedAt: b.now()})
	}

	deliver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()

	var once sync.Once
	var closeErr error
	return storage.SubscriptionFunc(func() error {
		once.Do(func() {
			cancel()
			closeErr = ps.Close()
			wg.Wait()
		})
		return closeErr
	}), nil
}

// RecentByAuthor scans the retained list for uid.
func (b *Backend) RecentByAuthor(ctx context.Context, uid string, limit int) ([]core.RawRecord, error) {
	records, err := b.window(ctx, 0)
	if err != nil {
		return nil, err
	}
	return filterAuthor(records, uid, limit), nil
}

func (b *Backend) window(ctx context.Context, window int) ([]core.RawRecord, error) {
	stop := int64(-1)
	if window > 0 {
		stop = int64(window - 1)
	}
	raw, err := b.rdb.LRange(ctx, b.cfg.Key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", b.cfg.Key, err)
	}
	return b.decode(raw), nil
}

// decode parses list entries, skipping the ones that are not records.
func (b *Backend) decode(raw []string) []core.RawRecord {
	out := make([]core.RawRecord, 0, len(raw))
	for _, item := range raw {
		var rec core.RawRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			b.log.Debug("skipping undecodable list entry", "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func filterAuthor(records []core.RawRecord, uid string, limit int) []core.RawRecord {
	out := make([]core.RawRecord, 0, limit)
	for _, r := range records {
		if limit > 0 && len(out) == limit {
			break
		}
		if r.Author != nil && r.Author.UID == uid {
			out = append(out, r)
		}
	}
	return out
}
