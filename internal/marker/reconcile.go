// Package marker keeps one long-lived visual marker per message id and
// reconciles it against each derived view.
package marker

import (
	"github.com/geochirp/globe-engine/internal/geo"
	"github.com/geochirp/globe-engine/internal/render"
	"github.com/geochirp/globe-engine/pkg/core"
)

// Reader is the read side of the marker arena.
type Reader interface {
	Get(id string) (*core.VisualMarker, bool)
}

// Writer is the write side of the marker arena.
type Writer interface {
	Reader
	Put(m *core.VisualMarker) bool
}

// Plan computes the commands that bring the arena in line with view. It
// does not modify the arena. Messages are visited in z-order (reverse of
// arrival order). Markers already matching their message produce no command.
func Plan(arena Reader, view []core.AnnotatedMessage, sel core.SelectionState) []render.Command {
	cmds := make([]render.Command, 0, len(view))
	planned := make(map[string]struct{}, len(view))

	for i := len(view) - 1; i >= 0; i-- {
		m := view[i]
		if m.Location == nil {
			continue
		}
		if _, dup := planned[m.ID]; dup {
			continue
		}
		planned[m.ID] = struct{}{}

		cmd := render.Command{
			Kind:     render.CommandUpdate,
			ID:       m.ID,
			Location: *m.Location,
			Payload:  payloadOf(m.Message),
			Selected: sel.SelectedID == m.ID,
			Read:     sel.IsRead(m.ID),
			Nearby:   m.IsNearby,
		}

		existing, ok := arena.Get(m.ID)
		if !ok {
			cmd.Kind = render.CommandCreate
			cmds = append(cmds, cmd)
			continue
		}
		if !matches(existing, cmd) {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Apply executes commands against the arena. Creates allocate a marker;
// updates mutate the existing marker in place.
func Apply(arena Writer, cmds []render.Command) {
	for _, cmd := range cmds {
		if existing, ok := arena.Get(cmd.ID); ok {
			assign(existing, cmd)
			existing.Revision++
			continue
		}
		m := &core.VisualMarker{ID: cmd.ID}
		assign(m, cmd)
		arena.Put(m)
	}
}

func payloadOf(m core.Message) core.MarkerPayload {
	p := core.MarkerPayload{
		Text:     m.Text,
		Category: m.Category,
		Author:   m.Author,
	}
	if m.Location != nil {
		p.LocationLabel = geo.Label(*m.Location)
	}
	return p
}

func matches(m *core.VisualMarker, cmd render.Command) bool {
	return m.Location == cmd.Location &&
		m.Payload == cmd.Payload &&
		m.IsSelected == cmd.Selected &&
		m.IsRead == cmd.Read &&
		m.IsNearby == cmd.Nearby
}

func assign(m *core.VisualMarker, cmd render.Command) {
	m.Location = cmd.Location
	m.Payload = cmd.Payload
	m.IsSelected = cmd.Selected
	m.IsRead = cmd.Read
	m.IsNearby = cmd.Nearby
}
