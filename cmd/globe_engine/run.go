package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/geochirp/globe-engine/internal/api"
	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/dispatcher"
	"github.com/geochirp/globe-engine/internal/influx"
	"github.com/geochirp/globe-engine/internal/locate"
	"github.com/geochirp/globe-engine/internal/logging"
	"github.com/geochirp/globe-engine/internal/metrics"
	"github.com/geochirp/globe-engine/internal/monitor"
	"github.com/geochirp/globe-engine/internal/parser"
	intOtel "github.com/geochirp/globe-engine/internal/otel"
	"github.com/geochirp/globe-engine/internal/query"
	"github.com/geochirp/globe-engine/internal/render"
	"github.com/geochirp/globe-engine/internal/render/wsrender"
	"github.com/geochirp/globe-engine/internal/storage"
	"github.com/geochirp/globe-engine/internal/storage/memory"
	"github.com/geochirp/globe-engine/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const shutdownTimeout = 10 * time.Second

// RunCmd runs the engine until interrupted.
type RunCmd struct {
	Seed string `help:"JSON array of records preloaded into the memory backend." type:"existingfile"`
}

// global variables
var (
	// SessionID tags log records and engine samples of this process.
	SessionID = uuid.NewString()

	SessionStartTime = time.Now()

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFile *os.File

	// Services
	eventDispatcher *dispatcher.Dispatcher
	workerManager   *worker.Manager
	monitorService  *monitor.Service
	influxManager   *influx.Manager
	renderLoop      *render.Loop
	storageBackend  storage.Backend
)

// Run wires every component, then blocks until SIGINT or SIGTERM.
func (c *RunCmd) Run(cli *CLI) error {
	cfgErr := config.Load(cli.ConfigDir)
	setupLogging()
	if cfgErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	} else {
		Logger.Info("Loaded config", "dir", cli.ConfigDir)
	}
	defer shutdownLogging()

	zlog := logging.NewZerolog(logWriter(), config.GetString("logLevel"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := met.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	if err := initStorage(zlog, c.Seed); err != nil {
		return err
	}
	defer func() {
		if err := storageBackend.Close(); err != nil {
			Logger.Error("Failed to close storage backend", "error", err)
		}
	}()

	locator, err := initLocator(ctx)
	if err != nil {
		return err
	}

	engineCfg := config.GetEngineConfig()
	eventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(zlog), engineCfg.QueueSize)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	deps := worker.Dependencies{
		Source:          storageBackend,
		Fetcher:         storageBackend,
		Publisher:       storageBackend,
		Locator:         locator,
		Query:           query.NewStore(),
		Metrics:         met,
		Logger:          Logger,
		Engine:          engineCfg,
		ObfuscateViewer: config.GetViewerConfig().Obfuscate,
	}
	if id, ok := config.GetSessionConfig().Identity(); ok {
		deps.Identity = &id
	}

	// the render loop and the worker reference each other through the
	// adapter, so the worker is created first and given the loop afterwards
	renderCfg := config.GetRenderConfig()
	var hub *wsrender.Hub
	var adapter render.Adapter
	lazy := &lazyRenderer{}
	deps.Renderer = lazy
	workerManager = worker.NewManager(deps)

	switch renderCfg.Adapter {
	case "log":
		adapter = render.NewLogAdapter(Logger)
	default:
		hub = wsrender.NewHub(workerManager, Logger)
		if deps.Identity != nil {
			hub.WithComposer(workerManager)
		}
		adapter = hub
	}
	renderLoop = render.NewLoop(adapter, renderCfg.FPS, Logger)
	lazy.set(renderLoop)

	workerManager.RegisterHandlers(eventDispatcher)
	Logger.Info("Worker handlers registered with dispatcher")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		if err := eventDispatcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			Logger.Error("Dispatcher stopped", "error", err)
		}
	}()
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		_ = renderLoop.Run(runCtx)
	}()

	if err := workerManager.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	initMonitor(runCtx, zlog)

	var servers []*http.Server
	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		servers = append(servers, serve("render", renderCfg.Address, mux))
	}
	if mc := config.GetMetricsConfig(); mc.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		servers = append(servers, serve("metrics", mc.Address, mux))
	}

	Logger.Info("Engine running", "version", Version, "session", SessionID)
	<-ctx.Done()
	Logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Logger.Error("Forced server shutdown", "addr", srv.Addr, "error", err)
		}
	}
	if hub != nil {
		hub.Close()
	}
	if err := workerManager.Stop(); err != nil {
		Logger.Warn("Failed to unsubscribe from storage", "error", err)
	}
	if monitorService != nil {
		monitorService.Stop()
	}
	cancelRun()
	<-renderDone
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Error("Failed to close influx", "error", err)
		}
	}
	Logger.Info("Engine stopped")
	return nil
}

// setupLogging opens the session log file and configures slog with the
// optional OTel bridge and Graylog sink.
func setupLogging() {
	level := config.GetString("logLevel")
	logsDir := config.GetString("logsDir")

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, level, nil)
	Logger = SlogManager.Logger()

	var err error
	LogFile, err = logging.OpenLogFile(logsDir, AppName, SessionStartTime)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "dir", logsDir)
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var w io.Writer
		if LogFile != nil {
			w = LogFile
		}
		OTelProvider, err = intOtel.New(otelCfg, w)
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	var remotes []io.Writer
	if config.GetBool("graylog.enabled") {
		addr := config.GetString("graylog.address")
		gw, err := logging.NewGraylogWriter(addr)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "address", addr, "error", err)
		} else {
			remotes = append(remotes, gw)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.WithContext(logging.SessionContext(SessionID, func() (string, bool) {
		if workerManager == nil {
			return "", false
		}
		id := workerManager.Stats().Selected
		return id, id != ""
	}))
	SlogManager.Setup(logWriter(), level, otelLogProvider, remotes...)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)
	if LogFile != nil {
		Logger.Info("Logging to file", "path", LogFile.Name())
	}
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flush logs: %v\n", err)
	}
	if err := OTelProvider.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown otel: %v\n", err)
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

// logWriter is the session log file, or nil to log to stdout.
func logWriter() io.Writer {
	if LogFile == nil {
		return nil
	}
	return LogFile
}

func initStorage(zlog zerolog.Logger, seedFile string) error {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(
		storageCfg,
		config.GetDBConfig(),
		config.GetString("logsDir"),
		SessionStartTime,
		Logger,
		zlog,
	)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return err
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "error", err)
		return err
	}
	storageBackend = backend

	if seedFile == "" {
		return nil
	}
	mem, ok := backend.(*memory.Backend)
	if !ok {
		Logger.Warn("Seed file ignored, only the memory backend is preloaded; use the seed command", "type", storageCfg.Type)
		return nil
	}
	records, err := readRecords(seedFile, parser.NewParser(Logger))
	if err != nil {
		return err
	}
	if err := mem.Seed(records...); err != nil {
		return err
	}
	Logger.Info("Memory backend seeded", "count", len(records), "stored", len(mem.Records()), "file", seedFile)
	return nil
}

func initLocator(ctx context.Context) (locate.Locator, error) {
	viewerCfg := config.GetViewerConfig()
	locator, err := locate.FromConfig(viewerCfg)
	if err != nil {
		Logger.Error("Failed to configure viewer location", "source", viewerCfg.Source, "error", err)
		return nil, err
	}
	if locator == nil {
		Logger.Info("Viewer location disabled, proximity highlighting off")
		return nil, nil
	}

	if viewerCfg.Source == "http" {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := api.New(viewerCfg.HTTPURL, "").Healthcheck(checkCtx); err != nil {
			Logger.Warn("Location service is offline", "url", viewerCfg.HTTPURL, "error", err)
		} else {
			Logger.Info("Location service is online", "url", viewerCfg.HTTPURL)
		}
	}
	return locator, nil
}

func initMonitor(ctx context.Context, zlog zerolog.Logger) {
	monitorCfg := config.GetMonitorConfig()
	deps := monitor.Dependencies{
		Stats:      workerManager,
		DB:         gormDB(storageBackend),
		Logger:     Logger,
		Session:    SessionID,
		Interval:   monitorCfg.Interval,
		StatusFile: monitorCfg.StatusFile,
	}

	influxManager = influx.NewManager(zlog, filepath.Join(
		config.GetString("logsDir"),
		fmt.Sprintf("%s_influx_%s.log.gz", AppName, SessionStartTime.Format("20060102_150405")),
	))
	if err := influxManager.Connect(config.GetInfluxConfig()); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			Logger.Error("Failed to set up InfluxDB", "error", err)
		}
		influxManager = nil
	} else {
		deps.Influx = influxManager
	}

	monitorService = monitor.NewService(deps)
	if !monitorService.IsRunning() {
		Logger.Debug("Monitor not running, starting it")
		_ = monitorService.Start(ctx)
	}
}

func serve(name, addr string, h http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		Logger.Info("Server starting", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Error("Server error", "server", name, "error", err)
		}
	}()
	return srv
}

// lazyRenderer forwards to a render loop set after construction.
type lazyRenderer struct {
	loop *render.Loop
}

func (r *lazyRenderer) set(l *render.Loop) { r.loop = l }

func (r *lazyRenderer) Submit(f render.Frame) {
	if r.loop != nil {
		r.loop.Submit(f)
	}
}

func (r *lazyRenderer) Pending() int {
	if r.loop == nil {
		return 0
	}
	return r.loop.Pending()
}

var _ worker.Renderer = (*lazyRenderer)(nil)
