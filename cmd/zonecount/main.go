package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/crowdcount/zonecount/internal/alerts"
	"github.com/crowdcount/zonecount/internal/analytics"
	"github.com/crowdcount/zonecount/internal/archive"
	"github.com/crowdcount/zonecount/internal/config"
	"github.com/crowdcount/zonecount/internal/logger"
	"github.com/crowdcount/zonecount/internal/metrics"
	"github.com/crowdcount/zonecount/internal/pipeline"
	"github.com/crowdcount/zonecount/internal/recorder"
	"github.com/crowdcount/zonecount/internal/source"
	"github.com/crowdcount/zonecount/internal/webmonitor"
	"github.com/crowdcount/zonecount/internal/webrtc"
	"github.com/crowdcount/zonecount/internal/zones"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Config file (yaml, json or toml)")
	envFile    = flag.String("env", ".env", "dotenv file loaded before the environment")
	logLevel   = flag.String("log-level", "", "Log level override (debug, info, warn, error, silent)")
	pprofAddr  = flag.String("pprof", "", "pprof server address (disabled when empty)")
)

// App wires the producer, the dashboard and the optional side services.
type App struct {
	cfg    *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics    *metrics.Metrics
	state      *analytics.State
	store      *zones.Store
	producer   *pipeline.Producer
	recorder   *recorder.Recorder
	dispatcher *alerts.Dispatcher
	archive    *archive.Archive
	webrtc     *webrtc.Server
	monitor    *webmonitor.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Logging.Color)

	logger.Info("Main", "Zone counter starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}
	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
}

// NewApp builds every component from cfg without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.New(),
		state:   analytics.New(cfg.Analytics.HistoryCapacity),
		store:   zones.NewStore(cfg.Zones.File),
	}

	if err := a.state.SetThreshold(cfg.Analytics.Threshold); err != nil {
		cancel()
		return nil, err
	}

	loaded := a.store.Load()
	if loaded.Recovered {
		logger.Warn("Main", "Zones file unusable, starting empty: %v", loaded.Reason)
	}
	logger.Info("Main", "Loaded %d zones from %s", loaded.Count, cfg.Zones.File)

	a.recorder = recorder.NewRecorder(cfg.Recording.OutputPath, a.metrics)

	if cfg.Telegram.Enabled {
		notifier, err := alerts.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, 3, time.Second)
		if err != nil {
			cancel()
			return nil, err
		}
		a.dispatcher = alerts.NewDispatcher(notifier, 16)
		logger.Info("Main", "Telegram alerts enabled")
	}

	if cfg.Archive.Enabled {
		arc, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			cancel()
			return nil, err
		}
		a.archive = arc
	}

	if cfg.WebRTC.Enabled {
		a.webrtc = webrtc.NewServer(cfg.WebRTC.STUN, cfg.WebRTC.MaxClients, a.metrics)
	}

	push := source.NewPushSource()
	drawer := zones.NewDrawer(a.store)

	pcfg := pipeline.DefaultConfig()
	pcfg.SourceURI = cfg.Source.URI
	pcfg.Policy = cfg.EntryPolicy()
	pcfg.Heatmap = cfg.HeatmapSettings()
	pcfg.JPEGQuality = cfg.Source.JPEGQuality

	a.producer = pipeline.New(pcfg, pipeline.Deps{
		State:  a.state,
		Store:  a.store,
		Drawer: drawer,
		Opener: &source.Opener{
			Push:       push,
			Options:    source.Options{FPS: cfg.Source.FPS, Loop: cfg.Source.Loop},
			ReplayRoot: cfg.Source.ReplayRoot,
		},
		Metrics:    a.metrics,
		Dispatcher: a.dispatcher,
		Sinks:      []pipeline.FrameSink{a.recorder},
	})

	deps := webmonitor.Deps{
		State:    a.state,
		Store:    a.store,
		Drawer:   drawer,
		Producer: a.producer,
		Metrics:  a.metrics,
		Push:     push,
		Recorder: a.recorder,
	}
	// typed nils must not reach the interface fields
	if a.webrtc != nil {
		deps.WebRTC = a.webrtc
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}

	wcfg := webmonitor.DefaultConfig()
	wcfg.Addr = cfg.HTTP.Addr
	wcfg.AssetsDir = cfg.HTTP.AssetsDir
	wcfg.MJPEGInterval = cfg.HTTP.MJPEGInterval
	wcfg.StatusInterval = cfg.Analytics.StatusInterval
	wcfg.MaxIngestBytes = int64(cfg.HTTP.MaxIngestMB) << 20

	a.monitor = webmonitor.NewServer(wcfg, deps)
	a.httpServer = &http.Server{
		Addr:              wcfg.Addr,
		Handler:           a.monitor.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Start launches the producer and every server.
func (a *App) Start() error {
	if err := a.producer.Start(a.ctx); err != nil {
		return err
	}
	logger.Info("Main", "Producer started on %s", a.cfg.Source.URI)

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if a.cfg.Metrics.Enabled {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", a.cfg.Metrics.Addr)
			if err := a.metrics.StartServer(a.cfg.Metrics.Addr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	if a.archive != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.archive.Run(a.ctx, a.state, a.cfg.Archive.Interval, func(err error) {
				logger.Warn("Main", "History archive flush failed: %v", err)
			})
		}()
		logger.Info("Main", "Archiving history to %s every %v (run %s)", a.cfg.Archive.Path, a.cfg.Archive.Interval, a.archive.RunID())
	}

	go func() {
		logger.Info("Main", "Dashboard listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the producer, flushes the archive and persists zones.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// streaming handlers end when the broadcasters close their channels
	a.monitor.Close()
	err := a.httpServer.Shutdown(ctx)

	a.producer.Stop()
	a.cancel()
	a.wg.Wait()

	if a.recorder.IsRecording() {
		if _, stopErr := a.recorder.Stop(); stopErr != nil {
			logger.Warn("Main", "Failed to stop recording: %v", stopErr)
		}
	}
	_ = a.recorder.Close()

	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.webrtc != nil {
		_ = a.webrtc.Close()
	}
	if a.archive != nil {
		if closeErr := a.archive.Close(); closeErr != nil {
			logger.Warn("Main", "Failed to close archive: %v", closeErr)
		}
	}
	if saveErr := a.store.Save(); saveErr != nil {
		logger.Error("Main", "Failed to save zones: %v", saveErr)
	}
	return err
}
