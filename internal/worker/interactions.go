package worker

import (
	"github.com/geochirp/globe-engine/internal/render"
	"github.com/geochirp/globe-engine/pkg/core"
)

var _ render.Interactions = (*Manager)(nil)

// MarkerActivated posts a marker activation.
func (m *Manager) MarkerActivated(id string) {
	m.post(CmdMarkerActivate, core.MarkerActivation{ID: id})
}

// BackgroundActivated posts an activation outside any marker.
func (m *Manager) BackgroundActivated() {
	m.post(CmdBackgroundActivate, nil)
}

// DetailClosed posts a detail close.
func (m *Manager) DetailClosed() {
	m.post(CmdDetailClose, nil)
}

// ProfileRequested posts a profile open for author.
func (m *Manager) ProfileRequested(author core.AuthorRef) {
	m.post(CmdProfileOpen, author)
}

// ProfileDismissed posts a profile dismiss.
func (m *Manager) ProfileDismissed() {
	m.post(CmdProfileDismiss, nil)
}

// SearchChanged updates the shared query store; the store listener
// registered by Start brings the change to the loop.
func (m *Manager) SearchChanged(q string) {
	m.deps.Query.Set(q)
}

// CameraMoved posts the camera altitude.
func (m *Manager) CameraMoved(altitude float64) {
	m.post(CmdCameraAltitude, altitude)
}

// PickingChanged posts a picking mode toggle.
func (m *Manager) PickingChanged(enabled bool) {
	m.post(CmdPickingSet, enabled)
}

// LocationPicked posts a coordinate picked on the globe.
func (m *Manager) LocationPicked(c core.Coordinate) {
	m.post(CmdLocationPicked, c)
}
