package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"imebridge/internal/bridge"
	"imebridge/internal/config"
	"imebridge/internal/dbusapi"
	"imebridge/internal/health"
	"imebridge/internal/journal"
	"imebridge/internal/logging"
	"imebridge/internal/metrics"
	"imebridge/internal/protocol"
)

// backlogLimit is the number of unanswered actions past which the engine is
// reported as falling behind.
const backlogLimit = 64

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file (default: "+config.ConfigPath()+")")
	socket := fs.String("socket", "", "Engine socket (overrides config)")
	noWatch := fs.Bool("no-watch", false, "Do not reload the configuration when it changes")
	fs.Parse(os.Args[2:])

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *socket != "" {
		cfg.Engine.Socket = *socket
	}

	if err := run(cfg, loader, !*noWatch); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, loader *config.Loader, watch bool) error {
	logOpts, err := cfg.LoggingOptions()
	if err != nil {
		return err
	}
	base, err := logging.New(logOpts)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer base.Close()

	// The journal names the run when enabled so logs and journal line up.
	var store *journal.Store
	runID := uuid.NewString()
	if cfg.Journal.Enabled {
		store, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		if runID, err = store.BeginRun(Version); err != nil {
			return err
		}
	}

	logger := base.WithRun(runID)
	logging.SetDefault(logger)
	crash := logging.NewCrashHandler(logging.DefaultCrashDir(), Version, runID, logger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry("imebridge", "bridge")
	bridgeMetrics := metrics.NewBridgeMetrics(registry)
	checker := health.NewChecker()
	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux(registry, checker), ReadHeaderTimeout: 5 * time.Second}
		go crash.Recover("metrics", func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "listen", cfg.Metrics.Listen)
	}

	conn, err := net.DialTimeout("unix", cfg.Engine.Socket, time.Duration(cfg.Engine.DialTimeoutSec)*time.Second)
	if err != nil {
		return fmt.Errorf("connect to engine: %w", err)
	}
	defer conn.Close()
	link := protocol.NewLink(conn,
		protocol.WithLogger(logger.WithComponent("link").Logger),
		protocol.WithDecodeErrorHandler(func(error) { bridgeMetrics.RecordViolation() }),
	)

	looper := bridge.NewLooper(logger.WithComponent("ui").Logger)
	looper.OnPanic(func(v any) { crash.HandlePanic("ui-loop", v, nil) })
	looper.Start()
	defer looper.Stop()

	var serving atomic.Bool
	linkUp := func() error {
		if !serving.Load() {
			return health.ErrNotServing
		}
		return nil
	}
	checker.ReadyWhen(linkUp)
	checker.RegisterFunc("engine-link", true, health.PingCheck("engine link", func(context.Context) error { return linkUp() }))
	checker.RegisterFunc("ui-loop", true, health.PingCheck("ui loop", func(ctx context.Context) error {
		return looper.Call(ctx, func() {})
	}))
	if store != nil {
		checker.RegisterFunc("journal", false, health.PingCheck("journal", store.Ping))
	}

	var listener bridge.Listener = bridge.NopListener{}
	if cfg.DBus.Enabled {
		svc := dbusapi.New(dbusapi.Options{
			Looper: looper,
			Path:   dbus.ObjectPath(cfg.DBus.Path),
			Logger: logger.Logger,
		})
		if err := svc.Connect(cfg.DBus.Bus, cfg.DBus.Name); err != nil {
			logger.Warn("D-Bus export unavailable", "error", err)
		} else {
			defer svc.Close()
			listener = svc
		}
	}

	var sender protocol.Sender = link
	var recorder *journal.Recorder
	if store != nil {
		recorder = journal.NewRecorder(store, cfg.Journal.RedactText, logger.Logger)
		sender = recorder.Sender(link)
	}

	opts := bridge.Options{
		Sender:     sender,
		Looper:     looper,
		Listener:   listener,
		Logger:     logger.WithComponent("bridge").Logger,
		Metrics:    bridgeMetrics,
		AutoUpdate: cfg.Bridge.AutoUpdate,
	}
	if cfg.Bridge.MaxTextLength > 0 {
		opts.Filters = []bridge.InputFilter{bridge.LengthFilter(cfg.Bridge.MaxTextLength)}
	}
	ctrl := bridge.NewController(opts)
	defer ctrl.Close()
	checker.RegisterFunc("session-backlog", false, health.BacklogCheck(ctrl.Backlog, backlogLimit))

	var handler protocol.Handler = ctrl
	if recorder != nil {
		handler = recorder.Handler(ctrl)
	}

	if watch {
		loader.OnChange(func(old, new *config.Config) {
			applyReload(logger, ctrl, old, new)
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("config hot reload unavailable", "error", err)
		} else {
			defer loader.Close()
			go crash.Recover("config-errors", func() {
				for {
					select {
					case err := <-loader.Errors():
						if errors.Is(err, config.ErrRestartRequired) {
							logger.Warn("config change needs a restart", "error", err)
							continue
						}
						logger.Warn("config reload rejected", "error", err)
					case <-ctx.Done():
						return
					}
				}
			})
		}
	}

	logger.Info("bridge started", "version", Version, "engine", cfg.Engine.Socket)

	var serveErr error
	serving.Store(true)
	crash.Recover("engine-loop", func() {
		serveErr = link.Serve(ctx, handler)
	})
	serving.Store(false)

	sent, received := link.Stats()
	logger.Info("bridge stopped", "sent", sent, "received", received)
	if recorder != nil && recorder.Failures() > 0 {
		logger.Warn("journal writes failed", "count", recorder.Failures())
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// applyReload applies the settings that can change without a restart.
func applyReload(logger *logging.Logger, ctrl *bridge.Controller, old, new *config.Config) {
	if level, err := logging.ParseLevel(new.Logging.Level); err == nil && level != logger.Level() {
		logger.SetLevel(level)
		logger.Info("log level changed", "level", logging.LevelString(level))
	}
	if old == nil || old.Bridge.AutoUpdate != new.Bridge.AutoUpdate {
		ctrl.SetAutoUpdate(new.Bridge.AutoUpdate)
		logger.Info("auto update changed", "enabled", new.Bridge.AutoUpdate)
	}
}

func metricsMux(registry *metrics.Registry, checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.HTTPHandler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	return mux
}
