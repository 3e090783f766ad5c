package worker

import (
	"context"
	"strings"
	"time"

	"github.com/geochirp/globe-engine/internal/geo"
	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/google/uuid"
)

// Compose builds a message from the session identity and the last picked
// location, or the viewer reading when nothing was picked, and publishes it
// in the background. The attached location is always obfuscated. The
// returned record is what was handed to the publisher.
func (m *Manager) Compose(ctx context.Context, text, category string) (core.RawRecord, error) {
	if m.deps.Identity == nil || m.deps.Identity.UID == "" {
		return core.RawRecord{}, ErrNotAuthenticated
	}

	m.originMu.RLock()
	var origin *core.RawLocationReading
	switch {
	case m.picked != nil:
		r := core.RawLocationReading(*m.picked)
		origin = &r
	case m.rawViewer != nil:
		r := *m.rawViewer
		origin = &r
	}
	m.originMu.RUnlock()
	if origin == nil {
		return core.RawRecord{}, ErrNoLocation
	}

	public := geo.ObfuscateReading(*origin, m.deps.Engine.PrivacyRadius, m.deps.Rand)
	author := *m.deps.Identity
	rec := core.RawRecord{
		ID:        uuid.NewString(),
		Text:      core.StringPtr(strings.TrimSpace(text)),
		Author:    &author,
		Location:  &public,
		CreatedAt: time.Now().UTC(),
	}
	if c := strings.TrimSpace(category); c != "" {
		rec.Category = core.StringPtr(c)
	}

	if _, err := m.parser.Normalize(rec); err != nil {
		return core.RawRecord{}, err
	}

	if m.deps.Publisher == nil {
		return rec, nil
	}

	ok := m.spawn(func() {
		if err := m.deps.Publisher.Publish(context.WithoutCancel(ctx), rec); err != nil {
			m.log.Warn("publish failed", "id", rec.ID, "error", err)
			return
		}
		m.log.Debug("message published", "id", rec.ID)
	})
	if !ok {
		return core.RawRecord{}, ErrStopped
	}
	return rec, nil
}
