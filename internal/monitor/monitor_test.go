package monitor

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/database"
	"github.com/geochirp/globe-engine/internal/influx"
	"github.com/geochirp/globe-engine/internal/model"
	"github.com/geochirp/globe-engine/internal/worker"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	calls atomic.Int32
	stats worker.Stats
}

func (f *fakeStats) Stats() worker.Stats {
	f.calls.Add(1)
	return f.stats
}

var at = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newService(deps Dependencies) *Service {
	s := NewService(deps)
	s.now = func() time.Time { return at }
	return s
}

func TestSample(t *testing.T) {
	stats := &fakeStats{stats: worker.Stats{CacheSize: 3, Rejected: 1, ViewSize: 2, Markers: 4, ReadCount: 1, QueueLength: 7, FramesPending: 2}}
	s := newService(Dependencies{Stats: stats, Session: "s1"})

	got := s.Sample()
	assert.Equal(t, model.EngineSample{
		Time: at, Session: "s1", CacheSize: 3, Rejected: 1, ViewSize: 2,
		Markers: 4, ReadCount: 1, QueueLength: 7, FramesPending: 2,
	}, got)
}

func TestPoint(t *testing.T) {
	p := Point(model.EngineSample{Time: at, Session: "s1", CacheSize: 3})
	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	assert.Equal(t,
		"engine_stats,session=s1 cache_size=3i,frames_pending=0i,markers=0i,queue_length=0i,read_count=0i,rejected=0i,view_size=0i 1792238400000000000\n",
		line)
}

func TestRecord_AllSinks(t *testing.T) {
	dir := t.TempDir()

	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	backup := filepath.Join(dir, "influx_backup.log.gz")
	im := influx.NewManager(zerolog.Nop(), backup)
	require.NoError(t, im.Connect(config.InfluxConfig{
		Enabled: true, Protocol: "http", Host: "127.0.0.1", Port: "1",
	}))

	status := filepath.Join(dir, "status.json")
	s := newService(Dependencies{
		Stats:      &fakeStats{stats: worker.Stats{Markers: 5}},
		Influx:     im,
		DB:         db,
		Session:    "s1",
		StatusFile: status,
	})

	require.NoError(t, s.Record(context.Background()))

	var rows []model.EngineSample
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].Markers)
	assert.Equal(t, "s1", rows[0].Session)

	data, err := os.ReadFile(status)
	require.NoError(t, err)
	var fromFile model.EngineSample
	require.NoError(t, json.Unmarshal(data, &fromFile))
	assert.Equal(t, 5, fromFile.Markers)

	require.NoError(t, im.Close())
	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	line, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(line), "markers=5i")
}

func TestRecord_NoSinks(t *testing.T) {
	s := newService(Dependencies{Stats: &fakeStats{}})
	assert.NoError(t, s.Record(context.Background()))
}

func TestRecord_SinkErrorsJoined(t *testing.T) {
	s := newService(Dependencies{
		Stats:      &fakeStats{},
		Influx:     influx.NewManager(zerolog.Nop(), ""),
		StatusFile: filepath.Join(t.TempDir(), "missing", "status.json"),
	})
	err := s.Record(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup writer not available")
	assert.Contains(t, err.Error(), "status.json")
}

func TestStartStop(t *testing.T) {
	stats := &fakeStats{}
	s := NewService(Dependencies{Stats: stats, Interval: 5 * time.Millisecond})
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return stats.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestStop_NotStarted(t *testing.T) {
	s := NewService(Dependencies{Stats: &fakeStats{}})
	s.Stop()
	assert.False(t, s.IsRunning())
}
