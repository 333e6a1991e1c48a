package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/trophyctl/internal/api"
	"codeberg.org/mutker/trophyctl/internal/config"
	"codeberg.org/mutker/trophyctl/internal/engine"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/exporter"
	"codeberg.org/mutker/trophyctl/internal/logger"
	"codeberg.org/mutker/trophyctl/internal/metrics"
	"codeberg.org/mutker/trophyctl/internal/pid"
	"codeberg.org/mutker/trophyctl/internal/publish"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	statusInterval    = 10 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	pidFile := pid.Default()
	if err := pidFile.Write(); err != nil {
		logError(err, "failed to write PID file")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	err = run(ctx, cfg)
	cancel()

	if rmErr := pidFile.Remove(); rmErr != nil {
		logError(rmErr, "failed to remove PID file")
	}
	if err != nil {
		logError(err, "error in main loop")
		os.Exit(1)
	}

	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context, cfg *config.Config) error {
	errFactory := errors.New()

	exp := exporter.New()
	hub := api.NewHub()

	history, err := metrics.NewService(metrics.Config{
		DBPath:       cfg.History.DBPath,
		BatchSize:    cfg.History.BatchSize,
		BatchTimeout: cfg.History.BatchTimeout,
		Enabled:      cfg.History.Enabled,
	}, logger.For("history"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := history.Close(); err != nil {
			logError(err, "failed to close history")
		}
	}()

	opts := []engine.Option{
		engine.WithSink(exp),
		engine.WithSink(hub),
		engine.WithSink(metrics.NewSink(history, logger.For("history"))),
	}

	var mirror *publish.Publisher
	if cfg.Redis.Addr != "" {
		mirror, err = publish.New(ctx, publish.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
			Prefix:   cfg.Redis.Prefix,
		}, logger.For("publish"), exp.ObservePublish)
		if err != nil {
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		defer mirror.Close()
		opts = append(opts, engine.WithSink(mirror))
	}

	eng, err := engine.FromConfig(cfg, opts...)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	handler := api.NewHandler(eng, hub,
		api.WithHistory(history),
		api.WithObserver(exp),
		api.WithMetricsHandler(exp.Handler()),
	)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	if mirror != nil {
		g.Go(func() error {
			return mirror.Run(ctx)
		})
	}
	g.Go(func() error {
		logger.Info().Str("listen", cfg.Listen).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errFactory.Wrap(errors.ErrShutdownFailed, err)
		}
		return nil
	})
	g.Go(func() error {
		return logStatus(ctx, eng, hub)
	})

	if err := g.Wait(); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

// logStatus periodically logs a summary of the truck
func logStatus(ctx context.Context, eng *engine.Engine, hub *api.Hub) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame := eng.Frame()
			state := eng.State()

			event := logger.Info().
				Str("mode", state.Mode).
				Uint64("version", frame.Version).
				Int("active_alerts", len(eng.Active())).
				Int("clients", hub.Clients())
			if v, ok := frame.Value("totalPower"); ok {
				event = event.Float64("total_power_kw", v)
			}
			if v, ok := frame.Value("batteryLevel"); ok {
				event = event.Float64("battery_level", v)
			}
			event.Msg("")
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func logError(err error, msg string) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		logger.ErrorWithCode(appErr).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}
