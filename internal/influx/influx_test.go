package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geochirp/globe-engine/internal/config"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), filepath.Join(t.TempDir(), "backup.gz"))
	assert.ErrorIs(t, m.Connect(config.InfluxConfig{}), ErrDisabled)
	assert.NoError(t, m.Close())
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	p := influxdb2.NewPointWithMeasurement("engine_stats").AddField("markers", 1)
	assert.Error(t, m.WritePoint(context.Background(), p))
}

func TestConnect_UnreachableUsesBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(zerolog.Nop(), backup)

	err := m.Connect(config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     "1",
		Org:      "globe-engine",
		Bucket:   "engine",
	})
	require.NoError(t, err)
	assert.False(t, m.IsValid)

	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	p := influxdb2.NewPoint("engine_stats",
		map[string]string{"session": "s1"},
		map[string]any{"cache_size": 3},
		at,
	)
	require.NoError(t, m.WritePoint(context.Background(), p))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	assert.Equal(t, "engine_stats,session=s1 cache_size=3i 1792238400000000000\n", string(data))
}

func TestWritePoint_CanceledContext(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := influxdb2.NewPointWithMeasurement("engine_stats").AddField("markers", 1)
	assert.ErrorIs(t, m.WritePoint(ctx, p), context.Canceled)
}
