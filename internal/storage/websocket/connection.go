package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/geochirp/globe-engine/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 1024
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

var (
	errSendFull = errors.New("send buffer full")
	errAckWait  = errors.New("no ack received")
)

// frame is one message read from the feed server.
type frame struct {
	binary bool
	data   []byte
}

// ackWaiters queues waiters per acknowledged message type. The server acks
// in order, so the oldest waiter for a type is resolved first.
type ackWaiters struct {
	mu     sync.Mutex
	byType map[string][]chan struct{}
}

func (a *ackWaiters) add(msgType string) chan struct{} {
	ch := make(chan struct{}, 1)
	a.mu.Lock()
	if a.byType == nil {
		a.byType = make(map[string][]chan struct{})
	}
	a.byType[msgType] = append(a.byType[msgType], ch)
	a.mu.Unlock()
	return ch
}

func (a *ackWaiters) resolve(msgType string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	pending := a.byType[msgType]
	if len(pending) == 0 {
		return false
	}
	pending[0] <- struct{}{}
	a.byType[msgType] = pending[1:]
	return true
}

func (a *ackWaiters) remove(msgType string, ch chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pending := a.byType[msgType]
	for i := range pending {
		if pending[i] == ch {
			a.byType[msgType] = append(pending[:i:i], pending[i+1:]...)
			return
		}
	}
}

// connection owns one live socket to the feed server. A single goroutine
// writes; a single goroutine reads. When either fails the connection redials
// and replays the cached subscription.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	closed bool
	// replay is re-sent after every successful redial.
	replay []byte

	sendCh chan []byte
	done   chan struct{}
	acks   ackWaiters

	target    string
	onMessage func(frame)
	backoff   time.Duration
	logger    *slog.Logger
}

func newConnection(logger *slog.Logger, onMessage func(frame)) *connection {
	return &connection{
		sendCh:    make(chan []byte, sendChSize),
		done:      make(chan struct{}),
		onMessage: onMessage,
		backoff:   time.Second,
		logger:    logger,
	}
}

// dial opens the first socket. The secret travels as a query parameter.
func (c *connection) dial(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	c.target = u.String()

	conn, err := c.open()
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

func (c *connection) open() (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.Dial(c.target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// attach makes conn current and starts its loops. It reports false when the
// connection was closed in the meantime.
func (c *connection) attach(conn *ws.Conn) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)
	return true
}

func (c *connection) current(conn *ws.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func writeText(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

func (c *connection) writeLoop(conn *ws.Conn) {
	for {
		var data []byte
		select {
		case <-c.done:
			return
		case data = <-c.sendCh:
		}

		if !c.current(conn) {
			// leave the message for the replacement socket
			select {
			case c.sendCh <- data:
			default:
			}
			return
		}
		if err := writeText(conn, data); err != nil {
			c.logger.Warn("WebSocket write error", "error", err)
			go c.reconnect(conn)
			return
		}
	}
}

func (c *connection) readLoop(conn *ws.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("WebSocket read error", "error", err)
				go c.reconnect(conn)
			}
			return
		}
		if kind == ws.TextMessage && c.handleAck(data) {
			continue
		}
		c.onMessage(frame{binary: kind == ws.BinaryMessage, data: data})
	}
}

func (c *connection) handleAck(data []byte) bool {
	var ack streaming.AckMessage
	if json.Unmarshal(data, &ack) != nil || ack.Type != streaming.TypeAck {
		return false
	}
	if !c.acks.resolve(ack.For) {
		c.logger.Debug("Unexpected ack", "for", ack.For)
	}
	return true
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

// reconnect replaces a broken socket. Only the loops of the current socket
// get to trigger it; later calls for the same socket are no-ops.
func (c *connection) reconnect(broken *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != broken {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = broken.Close()

	wait := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt, wait = attempt+1, nextBackoff(wait) {
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", wait)
		conn, err := c.open()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		replay := c.replay
		c.mu.Unlock()
		if replay != nil {
			if err := writeText(conn, replay); err != nil {
				c.logger.Warn("Subscription replay failed", "attempt", attempt, "error", err)
				_ = conn.Close()
				continue
			}
		}

		if c.attach(conn) {
			c.logger.Info("WebSocket reconnected", "attempt", attempt)
		}
		return
	}
	c.logger.Error("WebSocket reconnect gave up", "attempts", maxReconnect)
}

// send queues data without blocking and reports whether it was accepted.
func (c *connection) send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
		return false
	}
}

// sendAndWait sends data and blocks until the server acks msgType or the
// timeout expires.
func (c *connection) sendAndWait(data []byte, msgType string, timeout time.Duration) error {
	ch := c.acks.add(msgType)
	defer c.acks.remove(msgType, ch)

	if !c.send(data) {
		return fmt.Errorf("%s: %w", msgType, errSendFull)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: %w after %s", msgType, errAckWait, timeout)
	case <-c.done:
		return fmt.Errorf("%s: %w, connection closed", msgType, errAckWait)
	}
}

// cacheSubscribe sets the message replayed after a redial. nil clears it.
func (c *connection) cacheSubscribe(data []byte) {
	c.mu.Lock()
	c.replay = data
	c.mu.Unlock()
}

// close sends a normal close frame and stops both loops. Repeated calls are
// no-ops.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
	_ = conn.WriteControl(ws.CloseMessage, msg, time.Now().Add(writeWait))
	return conn.Close()
}
