package wsrender

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geochirp/globe-engine/internal/render"
	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/geochirp/globe-engine/pkg/streaming"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedInteractions struct {
	mu    sync.Mutex
	calls []string
	last  any
}

func (r *recordedInteractions) record(name string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	r.last = v
}

func (r *recordedInteractions) snapshot() ([]string, any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), r.last
}

func (r *recordedInteractions) MarkerActivated(id string)         { r.record("marker", id) }
func (r *recordedInteractions) BackgroundActivated()              { r.record("background", nil) }
func (r *recordedInteractions) DetailClosed()                     { r.record("close", nil) }
func (r *recordedInteractions) ProfileRequested(a core.AuthorRef) { r.record("profile", a) }
func (r *recordedInteractions) ProfileDismissed()                 { r.record("dismiss", nil) }
func (r *recordedInteractions) SearchChanged(q string)            { r.record("search", q) }
func (r *recordedInteractions) CameraMoved(alt float64)           { r.record("camera", alt) }
func (r *recordedInteractions) PickingChanged(on bool)            { r.record("picking", on) }
func (r *recordedInteractions) LocationPicked(c core.Coordinate)  { r.record("picked", c) }

func newTestHub(t *testing.T) (*Hub, *recordedInteractions, string) {
	t.Helper()
	rec := &recordedInteractions{}
	hub := NewHub(rec, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, rec, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) FramePayload {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, streaming.TypeFrame, env.Type)

	var p FramePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func sampleFrame(seq uint64) render.Frame {
	return render.Frame{
		Seq:      seq,
		Commands: []render.Command{{Kind: render.CommandCreate, ID: "m1"}},
		Visible: []render.MarkerView{{
			ID:       "m1",
			Location: core.Coordinate{Lat: 1, Lon: 2},
			Payload:  core.MarkerPayload{Text: "hola", Category: "GENERAL"},
		}},
		Query: "ho",
	}
}

func TestHub_BroadcastsFrames(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Apply(context.Background(), sampleFrame(1)))

	p := readFrame(t, conn)
	assert.Equal(t, uint64(1), p.Seq)
	assert.Equal(t, "ho", p.Query)
	require.Len(t, p.Commands, 1)
	assert.Equal(t, render.CommandCreate, p.Commands[0].Kind)
	require.NotNil(t, p.Features)
	require.Len(t, p.Features.Features, 1)
	assert.Equal(t, []float64{2, 1}, p.Features.Features[0].Geometry.Point)
}

func TestHub_PolarMarkerDoesNotBreakFrame(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	f := sampleFrame(1)
	f.Visible = append(f.Visible, render.MarkerView{ID: "pole", Location: core.Coordinate{Lat: 90, Lon: 0}})
	require.NoError(t, hub.Apply(context.Background(), f))

	p := readFrame(t, conn)
	require.Len(t, p.Features.Features, 2)
	assert.Equal(t, "pole", p.Features.Features[1].ID)
}

func TestHub_NewClientGetsLatestFrame(t *testing.T) {
	hub, _, url := newTestHub(t)

	require.NoError(t, hub.Apply(context.Background(), sampleFrame(4)))
	require.NoError(t, hub.Apply(context.Background(), sampleFrame(5)))

	conn := dial(t, url)
	p := readFrame(t, conn)
	assert.Equal(t, uint64(5), p.Seq)
}

func TestHub_DecodesInteractions(t *testing.T) {
	_, rec, url := newTestHub(t)
	conn := dial(t, url)

	send := func(typ string, payload any) {
		env := streaming.Envelope{Type: typ}
		if payload != nil {
			raw, err := json.Marshal(payload)
			require.NoError(t, err)
			env.Payload = raw
		}
		require.NoError(t, conn.WriteJSON(env))
	}

	send(streaming.TypeMarkerActivate, streaming.IDPayload{ID: "m1"})
	send(streaming.TypeBackgroundActivate, nil)
	send(streaming.TypeDetailClose, nil)
	send(streaming.TypeProfileRequest, streaming.AuthorPayload{Author: core.AuthorRef{UID: "u1"}})
	send(streaming.TypeProfileDismiss, nil)
	send(streaming.TypeSearch, streaming.SearchPayload{Query: "amo"})
	send(streaming.TypeCamera, streaming.CameraPayload{Altitude: 2.5})
	send(streaming.TypePicking, streaming.PickingPayload{Enabled: true})
	send("bogus", nil)
	send(streaming.TypeMarkerActivate, nil)
	send(streaming.TypeLocationPicked, streaming.LocationPayload{Location: core.Coordinate{Lat: 3, Lon: 4}})

	want := []string{"marker", "background", "close", "profile", "dismiss", "search", "camera", "picking", "picked"}
	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return len(calls) == len(want)
	}, 2*time.Second, 5*time.Millisecond)

	calls, last := rec.snapshot()
	assert.Equal(t, want, calls)
	assert.Equal(t, core.Coordinate{Lat: 3, Lon: 4}, last)
}

func TestHub_ClientDisconnectRemoves(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandleMessage_Errors(t *testing.T) {
	hub := NewHub(&recordedInteractions{}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_, err := hub.handleMessage(ctx, []byte("not json"))
	assert.Error(t, err)
	_, err = hub.handleMessage(ctx, []byte(`{"type":"nope"}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)
	_, err = hub.handleMessage(ctx, []byte(`{"type":"search","payload":{"query":5}}`))
	assert.Error(t, err)

	// compose without a composer
	_, err = hub.handleMessage(ctx, []byte(`{"type":"compose","payload":{"text":"hola"}}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

type fakeComposer struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeComposer) Compose(_ context.Context, text, category string) (core.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return core.RawRecord{}, f.err
	}
	f.texts = append(f.texts, text+"/"+category)
	return core.RawRecord{ID: "new-1"}, nil
}

func readResult(t *testing.T, conn *websocket.Conn) streaming.ComposeResultPayload {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, streaming.TypeComposeResult, env.Type)

	var p streaming.ComposeResultPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func TestHub_ComposeReplies(t *testing.T) {
	hub, _, url := newTestHub(t)
	composer := &fakeComposer{}
	hub.WithComposer(composer)
	conn := dial(t, url)

	payload, err := json.Marshal(streaming.ComposePayload{Text: "hola", Category: "MUSIC"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(streaming.Envelope{Type: streaming.TypeCompose, Payload: payload}))

	res := readResult(t, conn)
	assert.Equal(t, "new-1", res.ID)
	assert.Empty(t, res.Error)
	composer.mu.Lock()
	assert.Equal(t, []string{"hola/MUSIC"}, composer.texts)
	composer.err = errors.New("not authenticated")
	composer.mu.Unlock()
	require.NoError(t, conn.WriteJSON(streaming.Envelope{Type: streaming.TypeCompose, Payload: payload}))

	res = readResult(t, conn)
	assert.Empty(t, res.ID)
	assert.Equal(t, "not authenticated", res.Error)
}
