// Package wsrender serves render frames to browser globes over WebSocket and
// turns their pointer and input events back into engine interactions.
package wsrender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/geochirp/globe-engine/internal/render"
	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/geochirp/globe-engine/pkg/streaming"
	"github.com/gorilla/websocket"
	geojson "github.com/paulmach/go.geojson"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// ErrUnknownMessage is returned for client envelopes the hub does not handle.
var ErrUnknownMessage = errors.New("unknown message type")

// FramePayload is the payload of a frame envelope.
type FramePayload struct {
	Seq      uint64                     `json:"seq"`
	At       time.Time                  `json:"at"`
	Features *geojson.FeatureCollection `json:"features"`
	Commands []render.Command           `json:"commands"`
	Zoom     *core.ZoomRequest          `json:"zoom,omitempty"`
	Profile  *render.ProfileView        `json:"profile,omitempty"`
	Picking  bool                       `json:"picking"`
	Query    string                     `json:"query"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Composer publishes messages written on the render surface.
type Composer interface {
	Compose(ctx context.Context, text, category string) (core.RawRecord, error)
}

// Hub is both a render.Adapter and an http.Handler. Every connected client
// receives every frame; a new client receives the latest frame on connect.
type Hub struct {
	interactions render.Interactions
	composer     Composer
	logger       *slog.Logger
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

// NewHub creates a hub reporting client input to interactions.
func NewHub(interactions render.Interactions, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		interactions: interactions,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// WithComposer enables compose messages. Without a composer they are
// rejected.
func (h *Hub) WithComposer(c Composer) *Hub {
	h.composer = c
	return h
}

// Apply broadcasts f to every client. Clients that cannot keep up are
// disconnected.
func (h *Hub) Apply(_ context.Context, f render.Frame) error {
	payload, err := json.Marshal(FramePayload{
		Seq:      f.Seq,
		At:       f.At,
		Features: render.EncodeFeatures(f),
		Commands: f.Commands,
		Zoom:     f.Zoom,
		Profile:  f.Profile,
		Picking:  f.Picking,
		Query:    f.Query,
	})
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: streaming.TypeFrame, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("render client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	h.logger.Info("render client connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)

	defer func() {
		h.remove(c)
		conn.Close()
		h.logger.Info("render client disconnected", "remote", conn.RemoteAddr().String())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("render client closed unexpectedly", "error", err)
			}
			return
		}
		reply, err := h.handleMessage(r.Context(), data)
		if err != nil {
			h.logger.Debug("ignoring client message", "error", err)
		}
		if reply != nil {
			h.reply(c, reply)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// reply queues data for one client unless it has already been removed.
func (h *Hub) reply(c *client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("render client too slow, dropping reply", "remote", c.conn.RemoteAddr().String())
	}
}

func (h *Hub) writeLoop(c *client) {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("render client write failed", "error", err)
			c.conn.Close()
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.conn.Close()
}

// handleMessage decodes one client envelope. Only compose produces a reply.
func (h *Hub) handleMessage(ctx context.Context, data []byte) ([]byte, error) {
	var env streaming.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == streaming.TypeCompose {
		return h.compose(ctx, env)
	}
	return nil, h.interact(env)
}

func (h *Hub) compose(ctx context.Context, env streaming.Envelope) ([]byte, error) {
	if h.composer == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	var p streaming.ComposePayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}

	var result streaming.ComposeResultPayload
	rec, err := h.composer.Compose(ctx, p.Text, p.Category)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.ID = rec.ID
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		return nil, merr
	}
	data, merr := json.Marshal(streaming.Envelope{Type: streaming.TypeComposeResult, Payload: payload})
	if merr != nil {
		return nil, merr
	}
	return data, err
}

func (h *Hub) interact(env streaming.Envelope) error {
	switch env.Type {
	case streaming.TypeMarkerActivate:
		var p streaming.IDPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		h.interactions.MarkerActivated(p.ID)
	case streaming.TypeBackgroundActivate:
		h.interactions.BackgroundActivated()
	case streaming.TypeDetailClose:
		h.interactions.DetailClosed()
	case streaming.TypeProfileRequest:
		var p streaming.AuthorPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		h.interactions.ProfileRequested(p.Author)
	case streaming.TypeProfileDismiss:
		h.interactions.ProfileDismissed()
	case streaming.TypeSearch:
		var p streaming.SearchPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		h.interactions.SearchChanged(p.Query)
	case streaming.TypeCamera:
		var p streaming.CameraPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		h.interactions.CameraMoved(p.Altitude)
	case streaming.TypePicking:
		var p streaming.PickingPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		h.interactions.PickingChanged(p.Enabled)
	case streaming.TypeLocationPicked:
		var p streaming.LocationPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		h.interactions.LocationPicked(p.Location)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	return nil
}

func decode(env streaming.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}
