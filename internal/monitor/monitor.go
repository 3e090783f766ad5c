package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/geochirp/globe-engine/internal/influx"
	"github.com/geochirp/globe-engine/internal/model"
	"github.com/geochirp/globe-engine/internal/worker"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"gorm.io/gorm"
)

// Measurement is the InfluxDB measurement engine samples are written to.
const Measurement = "engine_stats"

const defaultInterval = 5 * time.Second

// StatsProvider returns the current engine summary. *worker.Manager
// satisfies it.
type StatsProvider interface {
	Stats() worker.Stats
}

// Dependencies holds all dependencies for the monitor service. Influx, DB
// and StatusFile are optional sinks.
type Dependencies struct {
	Stats      StatsProvider
	Influx     *influx.Manager
	DB         *gorm.DB
	Logger     *slog.Logger
	Session    string
	Interval   time.Duration
	StatusFile string
}

// Service periodically samples engine stats into its sinks.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	now       func() time.Time
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps: deps,
		now:  time.Now,
	}
}

// IsRunning returns whether the sampling loop is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Sample builds one engine sample from the current stats.
func (s *Service) Sample() model.EngineSample {
	st := s.deps.Stats.Stats()
	return model.EngineSample{
		Time:          s.now().UTC(),
		Session:       s.deps.Session,
		CacheSize:     st.CacheSize,
		Rejected:      st.Rejected,
		ViewSize:      st.ViewSize,
		Markers:       st.Markers,
		ReadCount:     st.ReadCount,
		QueueLength:   st.QueueLength,
		FramesPending: st.FramesPending,
	}
}

// Point converts a sample to an InfluxDB point.
func Point(sample model.EngineSample) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(
		Measurement,
		map[string]string{"session": sample.Session},
		map[string]any{
			"cache_size":     int64(sample.CacheSize),
			"rejected":       int64(sample.Rejected),
			"view_size":      int64(sample.ViewSize),
			"markers":        int64(sample.Markers),
			"read_count":     int64(sample.ReadCount),
			"queue_length":   int64(sample.QueueLength),
			"frames_pending": int64(sample.FramesPending),
		},
		sample.Time,
	)
}

// Record takes one sample and writes it to every configured sink. Sink
// errors are joined; a failing sink does not skip the others.
func (s *Service) Record(ctx context.Context) error {
	sample := s.Sample()
	var errs []error

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(ctx, Point(sample)); err != nil {
			errs = append(errs, err)
		}
	}
	if s.deps.DB != nil {
		if err := s.deps.DB.WithContext(ctx).Create(&sample).Error; err != nil {
			errs = append(errs, err)
		}
	}
	if s.deps.StatusFile != "" {
		if err := writeStatus(s.deps.StatusFile, sample); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeStatus(path string, sample model.EngineSample) error {
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Start starts the sampling goroutine
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.isRunning = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			close(s.done)
			s.mu.Unlock()
		}()

		logger := s.deps.Logger.With("component", "monitor")
		logger.Debug("Starting engine monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Record(ctx); err != nil && ctx.Err() == nil {
					logger.Error("Error recording engine sample", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the sampling goroutine and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
