package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingHandler accepts every level and fails every record.
type failingHandler struct {
	slog.Handler
}

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("sink unavailable")
}

func textAt(buf *bytes.Buffer, lvl slog.Level) slog.Handler {
	return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: lvl})
}

func TestMultiHandler_Fanout(t *testing.T) {
	var file, remote bytes.Buffer
	log := slog.New(NewMultiHandler(nil, textAt(&file, slog.LevelInfo), textAt(&remote, slog.LevelWarn)))

	log.Info("snapshot applied", "records", 3)
	log.Warn("render backlog full")

	assert.Contains(t, file.String(), "snapshot applied")
	assert.Contains(t, file.String(), "render backlog full")
	assert.NotContains(t, remote.String(), "snapshot applied")
	assert.Contains(t, remote.String(), "render backlog full")
}

func TestMultiHandler_Enabled(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	assert.False(t, NewMultiHandler().Enabled(ctx, slog.LevelError))

	infoOnly := NewMultiHandler(textAt(&buf, slog.LevelInfo))
	assert.False(t, infoOnly.Enabled(ctx, slog.LevelDebug))

	mixed := NewMultiHandler(textAt(&buf, slog.LevelInfo), textAt(&buf, slog.LevelDebug))
	assert.True(t, mixed.Enabled(ctx, slog.LevelDebug))
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	m := NewMultiHandler(textAt(&buf, slog.LevelInfo))

	assert.Same(t, m, m.WithGroup(""))

	log := slog.New(m.WithAttrs([]slog.Attr{slog.String("component", "worker")}).WithGroup("marker"))
	log.Info("created", "id", "m1")

	assert.Contains(t, buf.String(), "component=worker")
	assert.Contains(t, buf.String(), "marker.id=m1")
}

func TestMultiHandler_FailingSinkDoesNotBlockOthers(t *testing.T) {
	var buf bytes.Buffer
	m := NewMultiHandler(failingHandler{}, textAt(&buf, slog.LevelInfo))
	require.Equal(t, 2, m.Len())

	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "still delivered", 0)
	err := m.Handle(context.Background(), r)

	assert.ErrorContains(t, err, "sink unavailable")
	assert.Contains(t, buf.String(), "still delivered")
}
