package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/alfred/internal/backend"
	"github.com/loykin/alfred/internal/bridge"
	"github.com/loykin/alfred/internal/config"
	"github.com/loykin/alfred/internal/detector"
	"github.com/loykin/alfred/internal/history"
	"github.com/loykin/alfred/internal/history/factory"
	"github.com/loykin/alfred/internal/logger"
	"github.com/loykin/alfred/internal/metrics"
	"github.com/loykin/alfred/internal/process"
	"github.com/loykin/alfred/internal/readiness"
	"github.com/loykin/alfred/internal/relay"
	"github.com/loykin/alfred/internal/server"
	"github.com/loykin/alfred/internal/supervisor"
)

const shutdownTimeout = 15 * time.Second

// ServeFlags holds serve-only flags.
type ServeFlags struct {
	Listen      string
	NoAutoStart bool
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Supervise the backend and serve the control API",
		Long: `Start the supervisor. It detects or spawns the Python backend, waits
until its health report is ready and serves the control API used by the
chat UI and the other commands.

Examples:
  alfred serve
  alfred serve alfred.toml
  alfred serve --listen=127.0.0.1:9000 --no-auto-start`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if flags.Listen != "" {
				cfg.Server.Listen = flags.Listen
			}
			if flags.NoAutoStart {
				cfg.Supervisor.AutoStart = false
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "control API listen address (overrides [server].listen)")
	cmd.Flags().BoolVar(&flags.NoAutoStart, "no-auto-start", false, "do not start the backend until a check is requested")
	return cmd
}

// app is everything serve wires together.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *relay.Bus
	fanout   *relay.Fanout
	sup      *supervisor.Supervisor
	recorder *history.Recorder
	sampler  *metrics.Sampler
	srv      *http.Server
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("failed to register metrics", "error", err)
		} else {
			metricsHandler = metrics.Handler()
		}
	}

	if cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		a.recorder = history.NewRecorder(sink, 256, log.With("component", "history"))
	}

	a.bus = relay.NewBus(relay.DefaultCapacity, relay.WithLogger(log.With("component", "relay")))
	a.fanout = relay.NewFanout(a.bus, relay.DefaultCapacity, log.With("component", "relay"))

	be := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.RequestTimeout,
		Logger:  log.With("component", "backend"),
	})
	spec := process.Spec{
		Name:    cfg.Backend.Name,
		Python:  cfg.Backend.Python,
		Script:  cfg.Backend.Script,
		Args:    cfg.Backend.Args,
		WorkDir: cfg.Backend.WorkDir,
		Env:     cfg.Backend.Env,
		PIDFile: cfg.Backend.PIDFile,
		Log:     cfg.Backend.Log,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	opts := []supervisor.Option{supervisor.WithLogger(log.With("component", "supervisor"))}
	if cfg.Backend.PIDFile != "" {
		opts = append(opts, supervisor.WithDetector(detector.PIDFileDetector{PIDFile: cfg.Backend.PIDFile}))
	}
	if a.recorder != nil {
		opts = append(opts, supervisor.WithHistory(a.recorder))
	}
	a.sup = supervisor.New(supervisor.Config{
		Name:            cfg.Backend.Name,
		StartupTimeout:  cfg.Supervisor.StartupTimeout,
		StopGrace:       cfg.Supervisor.StopGrace,
		MaxRetries:      cfg.Supervisor.MaxRetries,
		RetryDelay:      cfg.Supervisor.RetryDelay,
		RestartMinDelay: cfg.Supervisor.RestartMinDelay,
		StatusInterval:  cfg.Readiness.StatusInterval,
		Readiness: readiness.Config{
			Interval:    cfg.Readiness.Interval,
			MaxAttempts: cfg.Readiness.MaxAttempts,
		},
	}, supervisor.ProcessLauncher(spec), be, a.bus, opts...)

	routerOpts := []server.Option{server.WithLogger(log.With("component", "server"))}
	if metricsHandler != nil {
		a.sampler = metrics.NewSampler(cfg.Metrics.SampleInterval, a.sup.PID, log.With("component", "sampler"))
		routerOpts = append(routerOpts, server.WithMetrics(metricsHandler), server.WithResources(a.sampler.Latest))
	}
	if a.recorder != nil {
		routerOpts = append(routerOpts, server.WithHistory(a.recorder))
	}
	br := bridge.New(a.sup, be, a.fanout, log.With("component", "bridge"))
	a.srv = server.NewServer(cfg.Server.Listen, server.NewRouter(br, cfg.Server.BasePath, routerOpts...))
	return a, nil
}

// run serves until ctx is done, then stops the backend it owns.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.fanout.Run(gctx)
		return nil
	})
	if a.sampler != nil {
		g.Go(func() error {
			a.sampler.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("control API listening", "addr", a.srv.Addr, "base_path", a.cfg.Server.BasePath)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API: %w", err)
		}
		return nil
	})
	if a.cfg.Supervisor.AutoStart {
		g.Go(func() error {
			if _, err := a.sup.EnsureRunning(gctx); err != nil {
				a.logger.Warn("initial backend start did not reach ready", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.sup.Stop(sctx)
		a.sup.Close()
		err := a.srv.Shutdown(sctx)
		a.bus.Close()
		if a.recorder != nil {
			if cerr := a.recorder.Close(); cerr != nil {
				a.logger.Warn("close history sink", "error", cerr)
			}
		}
		return err
	})
	return g.Wait()
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log, closer := logger.New(cfg.Log)
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	lockPath := cfg.Server.LockFile
	if lockPath == "" {
		lockPath = filepath.Join(os.TempDir(), "alfred-serve.lock")
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("another alfred serve holds %s", lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	return a.run(ctx)
}
