// Package render defines the boundary between the engine and a globe
// renderer. The engine hands adapters immutable frames; adapters report user
// interactions back through Interactions.
package render

import (
	"context"
	"time"

	"github.com/geochirp/globe-engine/pkg/core"
)

// CommandKind distinguishes marker creation from in-place updates.
type CommandKind int

const (
	CommandCreate CommandKind = iota
	CommandUpdate
)

func (k CommandKind) String() string {
	switch k {
	case CommandCreate:
		return "create"
	case CommandUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Command is one side effect the renderer executes against its element for
// a marker id.
type Command struct {
	Kind     CommandKind        `json:"kind"`
	ID       string             `json:"id"`
	Location core.Coordinate    `json:"location"`
	Payload  core.MarkerPayload `json:"payload"`
	Selected bool               `json:"selected"`
	Read     bool               `json:"read"`
	Nearby   bool               `json:"nearby"`
}

// MarkerView is a copy of a marker's state at frame time.
type MarkerView struct {
	ID         string             `json:"id"`
	Location   core.Coordinate    `json:"location"`
	Payload    core.MarkerPayload `json:"payload"`
	IsSelected bool               `json:"isSelected"`
	IsRead     bool               `json:"isRead"`
	IsNearby   bool               `json:"isNearby"`
	Revision   uint64             `json:"revision"`
}

// ViewOf copies a marker.
func ViewOf(m *core.VisualMarker) MarkerView {
	return MarkerView{
		ID:         m.ID,
		Location:   m.Location,
		Payload:    m.Payload,
		IsSelected: m.IsSelected,
		IsRead:     m.IsRead,
		IsNearby:   m.IsNearby,
		Revision:   m.Revision,
	}
}

// ProfileView is the state of the author overlay.
type ProfileView struct {
	Author   core.AuthorRef `json:"author"`
	Loading  bool           `json:"loading"`
	Failed   bool           `json:"failed"`
	Messages []core.Message `json:"messages"`
}

// Frame is everything a renderer needs for one pass. Visible is in z-order,
// back to front.
type Frame struct {
	Seq      uint64            `json:"seq"`
	At       time.Time         `json:"at"`
	Commands []Command         `json:"commands"`
	Visible  []MarkerView      `json:"visible"`
	Zoom     *core.ZoomRequest `json:"zoom,omitempty"`
	Profile  *ProfileView      `json:"profile,omitempty"`
	Picking  bool              `json:"picking"`
	Query    string            `json:"query"`
}

// Created returns the ids created in this frame.
func (f Frame) Created() []string {
	return f.idsOf(CommandCreate)
}

// Updated returns the ids updated in this frame.
func (f Frame) Updated() []string {
	return f.idsOf(CommandUpdate)
}

func (f Frame) idsOf(kind CommandKind) []string {
	var ids []string
	for _, c := range f.Commands {
		if c.Kind == kind {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Adapter displays frames. Implementations must not retain or mutate engine
// state beyond the frame they are given.
type Adapter interface {
	Apply(ctx context.Context, f Frame) error
}

// Interactions receives events from the render surface.
type Interactions interface {
	MarkerActivated(id string)
	BackgroundActivated()
	DetailClosed()
	ProfileRequested(author core.AuthorRef)
	ProfileDismissed()
	SearchChanged(query string)
	CameraMoved(altitude float64)
	PickingChanged(enabled bool)
	LocationPicked(c core.Coordinate)
}
