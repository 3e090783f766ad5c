package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(seq uint64) Frame {
	return Frame{
		Seq: seq,
		Commands: []Command{
			{Kind: CommandCreate, ID: "a"},
			{Kind: CommandUpdate, ID: "b"},
			{Kind: CommandCreate, ID: "c"},
		},
		Visible: []MarkerView{
			{
				ID:       "a",
				Location: core.Coordinate{Lat: 10, Lon: 20},
				Payload: core.MarkerPayload{
					Text:          "hola",
					Category:      "GENERAL",
					Author:        core.AuthorRef{UID: "u1", DisplayName: "Ana"},
					LocationLabel: "10.00°N 20.00°E",
				},
				IsNearby: true,
				Revision: 2,
			},
		},
	}
}

func TestFrame_CreatedUpdated(t *testing.T) {
	f := testFrame(1)
	assert.Equal(t, []string{"a", "c"}, f.Created())
	assert.Equal(t, []string{"b"}, f.Updated())
	assert.Empty(t, Frame{}.Created())
}

func TestCommandKind_String(t *testing.T) {
	assert.Equal(t, "create", CommandCreate.String())
	assert.Equal(t, "update", CommandUpdate.String())
	assert.Equal(t, "unknown", CommandKind(9).String())
}

func TestLoop_FlushInOrder(t *testing.T) {
	rec := NewRecorder()
	l := NewLoop(rec, 60, slog.New(slog.DiscardHandler))

	for i := uint64(1); i <= 3; i++ {
		l.Submit(testFrame(i))
	}
	assert.Equal(t, 3, l.Pending())

	n := l.Flush(context.Background())
	assert.Equal(t, 3, n)
	assert.Zero(t, l.Pending())
	assert.Equal(t, uint64(3), l.Applied())

	frames := rec.Frames()
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Seq)
	}
}

func TestLoop_AdapterFailureIsCountedNotFatal(t *testing.T) {
	rec := NewRecorder()
	rec.FailWith(errors.New("surface gone"))
	l := NewLoop(rec, 0, slog.New(slog.DiscardHandler))

	l.Submit(testFrame(1))
	l.Flush(context.Background())
	assert.Equal(t, uint64(1), l.Failed())
	assert.Zero(t, rec.Len())

	rec.FailWith(nil)
	l.Submit(testFrame(2))
	l.Flush(context.Background())
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.Seq)
}

func TestLoop_BacklogDiscardsOldest(t *testing.T) {
	rec := NewRecorder()
	l := NewLoop(rec, 30, slog.New(slog.DiscardHandler))

	for i := uint64(1); i <= DefaultMaxPending+5; i++ {
		l.Submit(testFrame(i))
	}
	assert.Equal(t, uint64(5), l.Discarded())

	l.Flush(context.Background())
	frames := rec.Frames()
	require.Len(t, frames, DefaultMaxPending)
	assert.Equal(t, uint64(6), frames[0].Seq)
}

func TestLoop_RunDrainsAndStops(t *testing.T) {
	rec := NewRecorder()
	l := NewLoop(rec, 100, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	l.Submit(testFrame(1))
	require.Eventually(t, func() bool { return rec.Len() == 1 }, time.Second, 5*time.Millisecond)

	l.Submit(testFrame(2))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("render loop did not stop")
	}
	assert.Equal(t, 2, rec.Len(), "pending frame flushed on shutdown")
}

func TestLogAdapter_Apply(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewLogAdapter(logger)

	f := testFrame(7)
	f.Query = "amo"
	f.Zoom = &core.ZoomRequest{Altitude: 0.6}
	f.Profile = &ProfileView{Author: core.AuthorRef{UID: "u1"}, Loading: true}

	require.NoError(t, a.Apply(context.Background(), f))

	out := buf.String()
	assert.Contains(t, out, "msg=frame")
	assert.Contains(t, out, "seq=7")
	assert.Contains(t, out, "created=2")
	assert.Contains(t, out, "query=amo")
	assert.Contains(t, out, "zoomAltitude=0.6")
	assert.Contains(t, out, "profile=u1")
	assert.Contains(t, out, "kind=update")
}

func TestEncodeFeatures(t *testing.T) {
	fc := EncodeFeatures(testFrame(1))
	require.Len(t, fc.Features, 1)

	feat := fc.Features[0]
	assert.Equal(t, "a", feat.ID)
	assert.Equal(t, []float64{20, 10}, feat.Geometry.Point)
	assert.Equal(t, "hola", feat.PropertyMustString("text"))
	assert.Equal(t, "u1", feat.PropertyMustString("authorUid"))
	assert.True(t, feat.PropertyMustBool("nearby"))
	assert.False(t, feat.PropertyMustBool("selected"))
	_, hasAvatar := feat.Properties["authorAvatar"]
	assert.False(t, hasAvatar)

	raw, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"FeatureCollection"`)
	assert.Contains(t, string(raw), `"coordinates":[20,10]`)
}

func TestEncodeFeatures_EmptyFrame(t *testing.T) {
	raw, err := json.Marshal(EncodeFeatures(Frame{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(raw))
}
