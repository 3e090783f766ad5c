// Package selection owns which marker, if any, is expanded and which
// markers have been read this session.
package selection

import (
	"time"

	"github.com/geochirp/globe-engine/pkg/core"
)

// State names the machine state.
type State int

const (
	Idle State = iota
	Focused
)

func (s State) String() string {
	if s == Focused {
		return "focused"
	}
	return "idle"
}

// ZoomPolicy decides the camera move issued on activation. When the camera
// is above ThresholdAltitude it zooms in to TargetAltitude; otherwise it
// pans and keeps the current altitude.
type ZoomPolicy struct {
	ThresholdAltitude float64
	TargetAltitude    float64
	Duration          time.Duration
}

// Request returns the camera move for a marker at target.
func (p ZoomPolicy) Request(target core.Coordinate, currentAltitude float64) core.ZoomRequest {
	alt := currentAltitude
	if currentAltitude > p.ThresholdAltitude {
		alt = p.TargetAltitude
	}
	return core.ZoomRequest{Target: target, Altitude: alt, Duration: p.Duration}
}

// Machine is the selection state machine. It is not safe for concurrent
// use; the event loop is its only caller.
type Machine struct {
	state    State
	selected string
	read     map[string]struct{}
	order    []string
	zoom     ZoomPolicy
}

// New creates an idle machine with an empty read set.
func New(zoom ZoomPolicy) *Machine {
	return &Machine{
		read: make(map[string]struct{}),
		zoom: zoom,
	}
}

// Activate focuses id, marks it read and returns the zoom request. Every
// activation, including one that switches focus from another marker, takes
// this path. present reports whether id is in the current view; activation of
// an absent id is ignored.
func (m *Machine) Activate(id string, present bool, target core.Coordinate, altitude float64) (core.ZoomRequest, bool) {
	if id == "" || !present {
		return core.ZoomRequest{}, false
	}
	m.state = Focused
	m.selected = id
	if _, ok := m.read[id]; !ok {
		m.read[id] = struct{}{}
		m.order = append(m.order, id)
	}
	return m.zoom.Request(target, altitude), true
}

// Close handles the detail close button.
func (m *Machine) Close() bool {
	return m.clear()
}

// Background handles an activation on the render surface outside any marker.
func (m *Machine) Background() bool {
	return m.clear()
}

// Reconcile returns to Idle when the focused id left the view. It reports
// whether the state changed.
func (m *Machine) Reconcile(contains func(id string) bool) bool {
	if m.state != Focused || contains(m.selected) {
		return false
	}
	return m.clear()
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Selected returns the focused id.
func (m *Machine) Selected() (string, bool) {
	return m.selected, m.state == Focused
}

// IsRead reports whether id was activated this session.
func (m *Machine) IsRead(id string) bool {
	_, ok := m.read[id]
	return ok
}

// ReadIDs returns read ids in first-activation order.
func (m *Machine) ReadIDs() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Snapshot returns a copy of the state for readers.
func (m *Machine) Snapshot() core.SelectionState {
	read := make(map[string]struct{}, len(m.read))
	for id := range m.read {
		read[id] = struct{}{}
	}
	return core.SelectionState{SelectedID: m.selected, ReadIDs: read}
}

func (m *Machine) clear() bool {
	if m.state == Idle {
		return false
	}
	m.state = Idle
	m.selected = ""
	return true
}
