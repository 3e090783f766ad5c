package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/geochirp/globe-engine/internal/storage"
	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/geochirp/globe-engine/pkg/streaming"
	"github.com/google/uuid"
)

// ErrRemote wraps an error reported by the feed server.
var ErrRemote = errors.New("feed server error")

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend talks to a push feed server over WebSocket. Snapshots arrive as
// JSON text frames or CBOR binary frames.
type Backend struct {
	conn *connection
	cfg  Config
	log  *slog.Logger
	now  func() time.Time

	mu      sync.Mutex
	subFn   storage.SnapshotFunc
	subGen  uint64
	pending map[string]chan streaming.ProfileResultPayload
}

var _ storage.Backend = (*Backend)(nil)

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		cfg:     cfg,
		log:     logger,
		now:     time.Now,
		pending: make(map[string]chan streaming.ProfileResultPayload),
	}
	b.conn = newConnection(logger, b.handleFrame)
	return b
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelopeAndWait marshals the payload and waits for a server ack.
func (b *Backend) sendEnvelopeAndWait(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return b.conn.sendAndWait(data, msgType, ackTimeout)
}

// Subscribe asks the server for snapshots of window records and waits for
// the ack. The backend holds one subscription; a new one replaces it.
func (b *Backend) Subscribe(ctx context.Context, window int, fn storage.SnapshotFunc) (storage.Subscription, error) {
	data, err := marshalEnvelope(streaming.TypeSubscribe, streaming.SubscribePayload{Window: window})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.subGen++
	gen := b.subGen
	b.subFn = fn
	b.mu.Unlock()

	b.conn.cacheSubscribe(data)
	if err := b.conn.sendAndWait(data, streaming.TypeSubscribe, ackTimeout); err != nil {
		b.clearSubscription(gen)
		return nil, err
	}

	sub := &subscription{backend: b, gen: gen, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// RecentByAuthor sends a profile query and waits for the correlated result.
func (b *Backend) RecentByAuthor(ctx context.Context, uid string, limit int) ([]core.RawRecord, error) {
	reqID := uuid.NewString()
	ch := make(chan streaming.ProfileResultPayload, 1)

	b.mu.Lock()
	b.pending[reqID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
	}()

	data, err := marshalEnvelope(streaming.TypeProfileQuery, streaming.ProfileQueryPayload{
		RequestID: reqID,
		UID:       uid,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	if !b.conn.send(data) {
		return nil, fmt.Errorf("profile query for %s not sent", uid)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRemote, res.Error)
		}
		return res.Records, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.conn.done:
		return nil, storage.ErrClosed
	}
}

// Publish sends rec and waits for the server ack.
func (b *Backend) Publish(ctx context.Context, rec core.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.sendEnvelopeAndWait(streaming.TypePublish, rec)
}

func (b *Backend) clearSubscription(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subGen != gen || b.subFn == nil {
		return false
	}
	b.subFn = nil
	return true
}

func (b *Backend) handleFrame(f frame) {
	if f.binary {
		var env streaming.BinaryEnvelope
		if err := cbor.Unmarshal(f.data, &env); err != nil {
			b.log.Debug("Undecodable binary frame", "error", err)
			return
		}
		if env.Type != streaming.TypeSnapshot {
			b.log.Debug("Unhandled binary message", "type", env.Type)
			return
		}
		var p streaming.SnapshotPayload
		if err := cbor.Unmarshal(env.Payload, &p); err != nil {
			b.log.Warn("Bad snapshot payload", "error", err)
			return
		}
		b.deliver(p.Records)
		return
	}

	var env streaming.Envelope
	if err := json.Unmarshal(f.data, &env); err != nil {
		b.log.Debug("Undecodable text frame", "raw", string(f.data))
		return
	}

	switch env.Type {
	case streaming.TypeSnapshot:
		var p streaming.SnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			b.log.Warn("Bad snapshot payload", "error", err)
			return
		}
		b.deliver(p.Records)
	case streaming.TypeProfileResult:
		var p streaming.ProfileResultPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			b.log.Warn("Bad profile result payload", "error", err)
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[p.RequestID]
		b.mu.Unlock()
		if !ok {
			b.log.Debug("Profile result for unknown request", "requestId", p.RequestID)
			return
		}
		select {
		case ch <- p:
		default:
		}
	default:
		b.log.Debug("Unhandled message", "type", env.Type)
	}
}

func (b *Backend) deliver(records []core.RawRecord) {
	b.mu.Lock()
	fn := b.subFn
	b.mu.Unlock()
	if fn == nil {
		return
	}
	fn(core.Snapshot{Records: records, ReceivedAt: b.now()})
}

type subscription struct {
	backend *Backend
	gen     uint64
	once    sync.Once
	done    chan struct{}
	err     error
}

// Unsubscribe stops delivery and tells the server. It is safe to call more
// than once.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		defer close(s.done)
		if !s.backend.clearSubscription(s.gen) {
			return
		}
		s.backend.conn.cacheSubscribe(nil)
		data, err := marshalEnvelope(streaming.TypeUnsubscribe, struct{}{})
		if err != nil {
			s.err = err
			return
		}
		s.backend.conn.send(data)
	})
	return s.err
}
