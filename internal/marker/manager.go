package marker

import (
	"time"

	"github.com/geochirp/globe-engine/internal/cache"
	"github.com/geochirp/globe-engine/internal/render"
	"github.com/geochirp/globe-engine/pkg/core"
)

// Manager owns the marker arena. It is not safe for concurrent use; the
// event loop is its only caller.
type Manager struct {
	arena *cache.MarkerArena
	seq   uint64
	now   func() time.Time
}

// NewManager creates a manager over arena.
func NewManager(arena *cache.MarkerArena) *Manager {
	return &Manager{
		arena: arena,
		now:   time.Now,
	}
}

// Render reconciles the arena with view and returns the resulting frame.
//
// Visible markers follow these rules, in order: in location-picking mode
// nothing is shown; with a focused message present in the view only that
// marker is shown; otherwise every marker in the view, in z-order.
func (m *Manager) Render(view []core.AnnotatedMessage, sel core.SelectionState, picking bool) render.Frame {
	cmds := Plan(m.arena, view, sel)
	Apply(m.arena, cmds)

	m.seq++
	return render.Frame{
		Seq:      m.seq,
		At:       m.now(),
		Commands: cmds,
		Visible:  m.visible(view, sel, picking),
		Picking:  picking,
	}
}

// Arena exposes the arena for read-only inspection.
func (m *Manager) Arena() Reader {
	return m.arena
}

// Len returns the number of markers ever created.
func (m *Manager) Len() int {
	return m.arena.Len()
}

func (m *Manager) visible(view []core.AnnotatedMessage, sel core.SelectionState, picking bool) []render.MarkerView {
	if picking {
		return []render.MarkerView{}
	}

	if sel.Focused() {
		for _, msg := range view {
			if msg.ID != sel.SelectedID {
				continue
			}
			if mk, ok := m.arena.Get(msg.ID); ok {
				return []render.MarkerView{render.ViewOf(mk)}
			}
		}
	}

	out := make([]render.MarkerView, 0, len(view))
	seen := make(map[string]struct{}, len(view))
	for i := len(view) - 1; i >= 0; i-- {
		id := view[i].ID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if mk, ok := m.arena.Get(id); ok {
			out = append(out, render.ViewOf(mk))
		}
	}
	return out
}
