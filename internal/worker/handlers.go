package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/geochirp/globe-engine/internal/dispatcher"
	"github.com/geochirp/globe-engine/internal/geo"
	"github.com/geochirp/globe-engine/internal/render"
	"github.com/geochirp/globe-engine/pkg/core"
)

// Event loop commands.
const (
	CmdSnapshot           = ":SNAPSHOT:"
	CmdViewerLocation     = ":VIEWER:LOCATION:"
	CmdMarkerActivate     = ":MARKER:ACTIVATE:"
	CmdBackgroundActivate = ":BACKGROUND:ACTIVATE:"
	CmdDetailClose        = ":DETAIL:CLOSE:"
	CmdProfileOpen        = ":PROFILE:OPEN:"
	CmdProfileResult      = ":PROFILE:RESULT:"
	CmdProfileDismiss     = ":PROFILE:DISMISS:"
	CmdSearchSet          = ":SEARCH:SET:"
	CmdCameraAltitude     = ":CAMERA:ALTITUDE:"
	CmdPickingSet         = ":PICKING:SET:"
	CmdLocationPicked     = ":LOCATION:PICKED:"
)

// RegisterHandlers registers all event handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	m.d = d

	// Data source and one-shot reads must not be lost to a full queue
	d.Register(CmdSnapshot, m.handleSnapshot, dispatcher.Blocking(), dispatcher.Logged())
	d.Register(CmdViewerLocation, m.handleViewerLocation, dispatcher.Blocking(), dispatcher.Logged())
	d.Register(CmdProfileResult, m.handleProfileResult, dispatcher.Blocking(), dispatcher.Logged())
	d.Register(CmdSearchSet, m.handleSearchSet, dispatcher.Blocking(), dispatcher.Logged())

	// User interactions - dropped when the loop is saturated
	d.Register(CmdMarkerActivate, m.handleMarkerActivate, dispatcher.Logged())
	d.Register(CmdBackgroundActivate, m.handleBackgroundActivate, dispatcher.Logged())
	d.Register(CmdDetailClose, m.handleDetailClose, dispatcher.Logged())
	d.Register(CmdProfileOpen, m.handleProfileOpen, dispatcher.Logged())
	d.Register(CmdProfileDismiss, m.handleProfileDismiss, dispatcher.Logged())
	d.Register(CmdCameraAltitude, m.handleCameraAltitude, dispatcher.Logged())
	d.Register(CmdPickingSet, m.handlePickingSet, dispatcher.Logged())
	d.Register(CmdLocationPicked, m.handleLocationPicked, dispatcher.Logged())
}

func payloadAs[T any](e dispatcher.Event) (T, error) {
	v, ok := e.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: unexpected payload %T", e.Command, e.Payload)
	}
	return v, nil
}

func (m *Manager) handleSnapshot(e dispatcher.Event) (any, error) {
	snap, err := payloadAs[core.Snapshot](e)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	rejected := m.cache.Replace(snap.Records)
	if len(rejected) > 0 {
		m.log.Debug("snapshot records rejected", "count", len(rejected), "received", len(snap.Records))
	}
	frame := m.refresh(nil)

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveSnapshot(len(rejected), time.Since(start).Seconds())
	}
	return frame, nil
}

func (m *Manager) handleViewerLocation(e dispatcher.Event) (any, error) {
	reading, err := payloadAs[core.RawLocationReading](e)
	if err != nil {
		return nil, err
	}

	m.originMu.Lock()
	m.rawViewer = &reading
	m.originMu.Unlock()

	viewer := core.Coordinate(reading)
	if m.deps.ObfuscateViewer {
		viewer = geo.ObfuscateReading(reading, m.deps.Engine.PrivacyRadius, m.deps.Rand)
	}
	m.viewer = &viewer
	return m.refresh(nil), nil
}

func (m *Manager) handleMarkerActivate(e dispatcher.Event) (any, error) {
	act, err := payloadAs[core.MarkerActivation](e)
	if err != nil {
		return nil, err
	}

	var target core.Coordinate
	present := false
	for _, msg := range m.view {
		if msg.ID == act.ID {
			present = true
			target = *msg.Location
			break
		}
	}

	zoom, ok := m.sel.Activate(act.ID, present, target, m.altitude)
	if !ok {
		m.log.Debug("activation ignored", "id", act.ID)
		return nil, nil
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.IncActivations()
	}
	return m.refresh(&zoom), nil
}

func (m *Manager) handleBackgroundActivate(e dispatcher.Event) (any, error) {
	if !m.sel.Background() {
		return nil, nil
	}
	return m.refresh(nil), nil
}

func (m *Manager) handleDetailClose(e dispatcher.Event) (any, error) {
	if !m.sel.Close() {
		return nil, nil
	}
	return m.refresh(nil), nil
}

func (m *Manager) handleProfileOpen(e dispatcher.Event) (any, error) {
	author, err := payloadAs[core.AuthorRef](e)
	if err != nil {
		return nil, err
	}
	if author.UID == "" {
		return nil, ErrNoAuthor
	}

	req := m.overlay.Open(author)
	ctx := m.runCtx
	if !m.spawn(func() { m.fetchProfile(ctx, req.Token, req.Author, req.Limit) }) {
		return nil, ErrStopped
	}

	return m.refresh(nil), nil
}

// fetchProfile runs off the loop and posts its outcome back with the token
// of the request that started it.
func (m *Manager) fetchProfile(ctx context.Context, token uint64, author core.AuthorRef, limit int) {
	ctx, cancel := context.WithTimeout(ctx, m.deps.Engine.Profile.Timeout)
	defer cancel()

	res := core.ProfileResult{Token: token, Author: author}
	records, err := m.deps.Fetcher.RecentByAuthor(ctx, author.UID, limit)
	if err != nil {
		m.log.Warn("profile fetch failed", "uid", author.UID, "error", err)
		res.Err = err
	} else {
		for _, r := range records {
			msg, err := m.parser.NormalizeListing(r)
			if err != nil {
				continue
			}
			res.Messages = append(res.Messages, msg)
		}
	}
	m.post(CmdProfileResult, res)
}

func (m *Manager) handleProfileResult(e dispatcher.Event) (any, error) {
	res, err := payloadAs[core.ProfileResult](e)
	if err != nil {
		return nil, err
	}
	if !m.overlay.Resolve(res.Token, res.Messages, res.Err) {
		m.log.Debug("stale profile result discarded", "token", res.Token, "uid", res.Author.UID)
		if m.deps.Metrics != nil {
			m.deps.Metrics.IncStaleProfiles()
		}
		return nil, nil
	}
	return m.refresh(nil), nil
}

func (m *Manager) handleProfileDismiss(e dispatcher.Event) (any, error) {
	if !m.overlay.Dismiss() {
		return nil, nil
	}
	return m.refresh(nil), nil
}

func (m *Manager) handleSearchSet(e dispatcher.Event) (any, error) {
	if _, err := payloadAs[string](e); err != nil {
		return nil, err
	}
	// the store holds the latest query; the payload may already be stale
	if m.deps.Query.Get() == m.query {
		return nil, nil
	}
	return m.refresh(nil), nil
}

func (m *Manager) handleCameraAltitude(e dispatcher.Event) (any, error) {
	alt, err := payloadAs[float64](e)
	if err != nil {
		return nil, err
	}
	m.altitude = alt
	return nil, nil
}

func (m *Manager) handlePickingSet(e dispatcher.Event) (any, error) {
	on, err := payloadAs[bool](e)
	if err != nil {
		return nil, err
	}
	if on == m.picking {
		return nil, nil
	}
	m.picking = on
	return m.refresh(nil), nil
}

func (m *Manager) handleLocationPicked(e dispatcher.Event) (any, error) {
	c, err := payloadAs[core.Coordinate](e)
	if err != nil {
		return nil, err
	}
	if !geo.Valid(c) {
		return nil, geo.ErrInvalidCoordinates
	}

	m.originMu.Lock()
	m.picked = &c
	m.originMu.Unlock()

	m.picking = false
	return m.refresh(nil), nil
}

// refresh recomputes the view, heals the selection, reconciles markers and
// submits the resulting frame.
func (m *Manager) refresh(zoom *core.ZoomRequest) render.Frame {
	m.query = m.deps.Query.Get()
	m.view = m.cache.View(m.query, m.viewer, m.deps.Engine.ProximityThreshold)

	inView := make(map[string]struct{}, len(m.view))
	for _, msg := range m.view {
		inView[msg.ID] = struct{}{}
	}
	if m.sel.Reconcile(func(id string) bool {
		_, ok := inView[id]
		return ok
	}) {
		m.log.Debug("selection cleared, message left the view")
	}

	frame := m.markers.Render(m.view, m.sel.Snapshot(), m.picking)
	frame.Zoom = zoom
	frame.Query = m.query
	frame.Profile = m.profileView()

	if m.deps.Renderer != nil {
		m.deps.Renderer.Submit(frame)
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.AddMarkerCommands(len(frame.Created()), len(frame.Updated()))
		m.deps.Metrics.IncFrames()
		m.deps.Metrics.SetViewSize(len(m.view))
	}
	m.updateStats()
	return frame
}

func (m *Manager) profileView() *render.ProfileView {
	if !m.overlay.Active() {
		return nil
	}
	return &render.ProfileView{
		Author:   m.overlay.Author(),
		Loading:  m.overlay.Loading(),
		Failed:   m.overlay.Failed(),
		Messages: m.overlay.Messages(),
	}
}

func (m *Manager) updateStats() {
	selected, _ := m.sel.Selected()
	s := Stats{
		CacheSize: m.cache.Len(),
		Rejected:  m.cache.Rejected(),
		ViewSize:  len(m.view),
		Markers:   m.markers.Len(),
		ReadCount: len(m.sel.ReadIDs()),
		Selected:  selected,
		Picking:   m.picking,
	}
	m.statsMu.Lock()
	m.stats = s
	m.statsMu.Unlock()
}
