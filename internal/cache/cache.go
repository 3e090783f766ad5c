package cache

import (
	"strings"
	"sync"

	"github.com/geochirp/globe-engine/internal/geo"
	"github.com/geochirp/globe-engine/internal/parser"
	"github.com/geochirp/globe-engine/internal/util"
	"github.com/geochirp/globe-engine/pkg/core"
)

// DefaultWindowSize is the number of most recent messages kept.
const DefaultWindowSize = 60

// MessageCache holds the latest window of normalized messages as delivered by
// the data source. Every snapshot replaces the whole window.
type MessageCache struct {
	mu       sync.RWMutex
	parser   *parser.Parser
	window   int
	messages []core.Message
	index    map[string]int
	rejected int
}

// NewMessageCache creates a cache keeping at most window messages.
func NewMessageCache(p *parser.Parser, window int) *MessageCache {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &MessageCache{
		parser: p,
		window: window,
		index:  make(map[string]int),
	}
}

// Replace swaps the window for the given snapshot, re-running normalization
// over each entry. Records past the window size are ignored.
func (c *MessageCache) Replace(snapshot []core.RawRecord) []parser.Rejection {
	if len(snapshot) > c.window {
		snapshot = snapshot[:c.window]
	}
	msgs, rejected := c.parser.NormalizeBatch(snapshot)

	index := make(map[string]int, len(msgs))
	kept := msgs[:0]
	for _, m := range msgs {
		if _, dup := index[m.ID]; dup {
			continue
		}
		index[m.ID] = len(kept)
		kept = append(kept, m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = kept
	c.index = index
	c.rejected = len(rejected)
	return rejected
}

// View returns the filtered, annotated projection of the window in arrival
// order. A blank query keeps every message; otherwise a message is kept when
// the query is a case-insensitive substring of its text or category.
func (c *MessageCache) View(query string, viewer *core.Coordinate, threshold float64) []core.AnnotatedMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := strings.TrimSpace(query)
	view := make([]core.AnnotatedMessage, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Location == nil {
			continue
		}
		if q != "" && !util.ContainsFold(m.Text, q) && !util.ContainsFold(m.Category, q) {
			continue
		}
		view = append(view, core.AnnotatedMessage{
			Message:  m,
			IsNearby: geo.IsNearby(m.Location, viewer, threshold),
		})
	}
	return view
}

// Get returns the cached message with the given id.
func (c *MessageCache) Get(id string) (core.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return core.Message{}, false
	}
	return c.messages[i], true
}

// Contains reports whether id is in the current window.
func (c *MessageCache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

// Len returns the number of messages in the window.
func (c *MessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Rejected returns how many records of the last snapshot were dropped.
func (c *MessageCache) Rejected() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejected
}

// Window returns the configured window size.
func (c *MessageCache) Window() int {
	return c.window
}
