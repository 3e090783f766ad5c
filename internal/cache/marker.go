package cache

import (
	"sync"

	"github.com/geochirp/globe-engine/pkg/core"
)

// MarkerArena maps message ids to their long-lived visual markers.
// Entries are never evicted for the lifetime of the arena.
type MarkerArena struct {
	mu      sync.RWMutex
	markers map[string]*core.VisualMarker
}

// NewMarkerArena creates a new MarkerArena
func NewMarkerArena() *MarkerArena {
	return &MarkerArena{
		markers: make(map[string]*core.VisualMarker),
	}
}

// Get retrieves the marker for a message id
func (a *MarkerArena) Get(id string) (*core.VisualMarker, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.markers[id]
	return m, ok
}

// Put stores a marker under its id. An existing entry is kept; the caller
// mutates it in place instead.
func (a *MarkerArena) Put(m *core.VisualMarker) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.markers[m.ID]; ok {
		return false
	}
	a.markers[m.ID] = m
	return true
}

// Len returns the number of markers ever created.
func (a *MarkerArena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.markers)
}
