// pkg/core/marker.go
package core

// MarkerPayload is the last-known display content of a marker.
type MarkerPayload struct {
	Text          string    `json:"text"`
	Category      string    `json:"category"`
	Author        AuthorRef `json:"author"`
	LocationLabel string    `json:"locationLabel"`
}

// VisualMarker is the long-lived visual object for one message id.
// Only the marker manager mutates it.
type VisualMarker struct {
	ID         string
	Location   Coordinate
	Payload    MarkerPayload
	IsSelected bool
	IsRead     bool
	IsNearby   bool
	Revision   uint64 // in-place updates since creation
}

// SelectionState is a read-only view of the selection machine.
type SelectionState struct {
	SelectedID string // empty when idle
	ReadIDs    map[string]struct{}
}

// Focused reports whether a marker is currently expanded.
func (s SelectionState) Focused() bool {
	return s.SelectedID != ""
}

// IsRead reports whether id was ever activated this session.
func (s SelectionState) IsRead(id string) bool {
	_, ok := s.ReadIDs[id]
	return ok
}
