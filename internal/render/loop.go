package render

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/geochirp/globe-engine/internal/queue"
)

const (
	// DefaultFPS is the drain rate used when none is configured.
	DefaultFPS = 30
	// DefaultMaxPending bounds frames waiting for the adapter. The oldest
	// frames are discarded first; Visible in the newest frame is always
	// complete.
	DefaultMaxPending = 256
)

// Loop hands submitted frames to an adapter at a fixed rate.
type Loop struct {
	adapter  Adapter
	frames   *queue.Queue[Frame]
	interval time.Duration
	logger   *slog.Logger

	applied atomic.Uint64
	failed  atomic.Uint64
}

// NewLoop creates a render loop draining at fps frames per second.
func NewLoop(adapter Adapter, fps int, logger *slog.Logger) *Loop {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		adapter:  adapter,
		frames:   queue.NewBounded[Frame](DefaultMaxPending),
		interval: time.Second / time.Duration(fps),
		logger:   logger,
	}
}

// Submit queues a frame. It never blocks.
func (l *Loop) Submit(f Frame) {
	if n := l.frames.Push(f); n > 0 {
		l.logger.Warn("render backlog full, discarded frames", "count", n, "seq", f.Seq)
	}
}

// Flush applies every pending frame in submission order and returns how many
// were applied.
func (l *Loop) Flush(ctx context.Context) int {
	pending := l.frames.GetAndEmpty()
	for _, f := range pending {
		if err := l.adapter.Apply(ctx, f); err != nil {
			l.failed.Add(1)
			l.logger.Warn("render adapter failed", "seq", f.Seq, "error", err)
			continue
		}
		l.applied.Add(1)
	}
	return len(pending)
}

// Run drains the queue on every tick until ctx is done. Pending frames are
// flushed once more before returning.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			l.Flush(ctx)
		}
	}
}

// Pending returns the number of frames waiting for the adapter.
func (l *Loop) Pending() int {
	return l.frames.Len()
}

// Applied returns the number of frames the adapter accepted.
func (l *Loop) Applied() uint64 {
	return l.applied.Load()
}

// Failed returns the number of frames the adapter rejected.
func (l *Loop) Failed() uint64 {
	return l.failed.Load()
}

// Discarded returns the number of frames dropped from a full backlog.
func (l *Loop) Discarded() uint64 {
	return l.frames.Dropped()
}
