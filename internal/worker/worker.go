package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geochirp/globe-engine/internal/cache"
	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/dispatcher"
	"github.com/geochirp/globe-engine/internal/geo"
	"github.com/geochirp/globe-engine/internal/locate"
	"github.com/geochirp/globe-engine/internal/marker"
	"github.com/geochirp/globe-engine/internal/metrics"
	"github.com/geochirp/globe-engine/internal/parser"
	"github.com/geochirp/globe-engine/internal/profile"
	"github.com/geochirp/globe-engine/internal/query"
	"github.com/geochirp/globe-engine/internal/render"
	"github.com/geochirp/globe-engine/internal/selection"
	"github.com/geochirp/globe-engine/internal/storage"
	"github.com/geochirp/globe-engine/pkg/core"
)

var (
	// ErrNotAuthenticated is returned by identity-gated actions without a
	// session identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoAuthor is returned for a profile request without an author uid.
	ErrNoAuthor = errors.New("profile request without author")
	// ErrNoLocation is returned when composing before any location is known.
	ErrNoLocation = errors.New("no location to attach")
	// ErrNotStarted is returned by Start when handlers were never registered.
	ErrNotStarted = errors.New("handlers not registered")
	// ErrStopped is returned by actions that need background work after Stop.
	ErrStopped = errors.New("worker stopped")
)

const defaultProfileTimeout = 10 * time.Second

// Renderer receives frames produced on the event loop. *render.Loop
// satisfies it.
type Renderer interface {
	Submit(f render.Frame)
	Pending() int
}

// Dependencies holds all dependencies for the worker manager. Locator,
// Publisher, Metrics and Identity may be nil.
type Dependencies struct {
	Source    storage.Source
	Fetcher   storage.ProfileFetcher
	Publisher storage.Publisher
	Locator   locate.Locator
	Renderer  Renderer
	Query     *query.Store
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Rand      geo.Rand

	Engine          config.EngineConfig
	ObfuscateViewer bool
	Identity        *core.AuthorRef
}

// Stats is a point-in-time summary of the engine state.
type Stats struct {
	CacheSize     int
	Rejected      int
	ViewSize      int
	Markers       int
	ReadCount     int
	Selected      string
	Picking       bool
	QueueLength   int
	FramesPending int
}

// Manager owns the engine state. Everything except Stats, Compose and the
// render.Interactions methods runs on the dispatcher's loop goroutine.
type Manager struct {
	deps   Dependencies
	log    *slog.Logger
	d      *dispatcher.Dispatcher
	parser *parser.Parser

	cache   *cache.MessageCache
	markers *marker.Manager
	sel     *selection.Machine
	overlay *profile.Overlay

	view     []core.AnnotatedMessage
	// query is the value the last frame was rendered with
	query    string
	viewer   *core.Coordinate
	picking  bool
	altitude float64

	// origin is read by Compose off the loop
	originMu  sync.RWMutex
	rawViewer *core.RawLocationReading
	picked    *core.Coordinate

	statsMu sync.RWMutex
	stats   Stats

	runCtx      context.Context
	cancel      context.CancelFunc
	sub         storage.Subscription
	unsubscribe func()

	// wg.Add must not race Stop's Wait
	goMu    sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewManager creates a new worker manager.
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Query == nil {
		deps.Query = query.NewStore()
	}
	eng := deps.Engine
	if eng.WindowSize <= 0 {
		eng.WindowSize = cache.DefaultWindowSize
	}
	if eng.Profile.Timeout <= 0 {
		eng.Profile.Timeout = defaultProfileTimeout
	}
	deps.Engine = eng

	p := parser.NewParser(deps.Logger)
	return &Manager{
		deps:    deps,
		log:     deps.Logger.With("component", "worker"),
		parser:  p,
		cache:   cache.NewMessageCache(p, eng.WindowSize),
		markers: marker.NewManager(cache.NewMarkerArena()),
		sel: selection.New(selection.ZoomPolicy{
			ThresholdAltitude: eng.Zoom.ThresholdAltitude,
			TargetAltitude:    eng.Zoom.TargetAltitude,
			Duration:          eng.Zoom.Duration,
		}),
		overlay: profile.New(eng.Profile.Limit),
		query:   deps.Query.Get(),
		runCtx:  context.Background(),
	}
}

// Start subscribes to the data source, follows the search query and
// launches the one-shot viewer location read. RegisterHandlers must have
// been called.
func (m *Manager) Start(ctx context.Context) error {
	if m.d == nil {
		return ErrNotStarted
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)

	m.unsubscribe = m.deps.Query.Subscribe(func(q string) {
		m.post(CmdSearchSet, q)
	})

	sub, err := m.deps.Source.Subscribe(m.runCtx, m.cache.Window(), func(s core.Snapshot) {
		m.post(CmdSnapshot, s)
	})
	if err != nil {
		m.cancel()
		m.unsubscribe()
		return fmt.Errorf("subscribe to source: %w", err)
	}
	m.sub = sub

	if m.deps.Locator != nil {
		runCtx := m.runCtx
		m.spawn(func() { m.locateViewer(runCtx) })
	}
	return nil
}

// Stop unsubscribes from the source and the query store and waits for
// in-flight reads to return.
func (m *Manager) Stop() error {
	m.goMu.Lock()
	m.stopped = true
	m.goMu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	var err error
	if m.sub != nil {
		err = m.sub.Unsubscribe()
		m.sub = nil
	}
	m.wg.Wait()
	return err
}

// spawn runs fn on a tracked goroutine. It reports false once Stop has
// begun.
func (m *Manager) spawn(fn func()) bool {
	m.goMu.Lock()
	defer m.goMu.Unlock()
	if m.stopped {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}

func (m *Manager) locateViewer(ctx context.Context) {
	c, err := m.deps.Locator.Locate(ctx)
	if err != nil {
		m.log.Warn("viewer location unavailable, proximity disabled", "error", err)
		return
	}
	m.post(CmdViewerLocation, core.RawLocationReading(c))
}

// Stats returns the latest engine summary. It is safe for concurrent use.
func (m *Manager) Stats() Stats {
	m.statsMu.RLock()
	s := m.stats
	m.statsMu.RUnlock()

	if m.d != nil {
		s.QueueLength = m.d.QueueLen()
	}
	if m.deps.Renderer != nil {
		s.FramesPending = m.deps.Renderer.Pending()
	}
	return s
}

func (m *Manager) post(command string, payload any) {
	if m.d == nil {
		return
	}
	if err := m.d.Post(dispatcher.Event{Command: command, Payload: payload}); err != nil {
		m.log.Warn("event not queued", "command", command, "error", err)
	}
}
