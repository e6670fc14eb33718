// SPDX-License-Identifier: MIT

// Command ottrecd runs the IPTV recording scheduler daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ottrec/ottrec/internal/api"
	"github.com/ottrec/ottrec/internal/config"
	"github.com/ottrec/ottrec/internal/epgsource"
	"github.com/ottrec/ottrec/internal/events"
	otlog "github.com/ottrec/ottrec/internal/log"
	"github.com/ottrec/ottrec/internal/recorder"
	"github.com/ottrec/ottrec/internal/scheduler"
	"github.com/ottrec/ottrec/internal/series"
	"github.com/ottrec/ottrec/internal/store"
	"github.com/ottrec/ottrec/internal/telemetry"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	otlog.Configure(otlog.Config{Level: "info", Service: "ottrec", Version: version})
	logger := otlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		if dataDir := os.Getenv("OTTREC_DATA_DIR"); dataDir != "" {
			candidate := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				effectivePath = candidate
			}
		}
	}

	cfg, err := config.Load(effectivePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load configuration")
	}
	otlog.Configure(otlog.Config{Level: cfg.LogLevel, Service: "ottrec", Version: version})
	logger = otlog.WithComponent("daemon")
	logger.Info().Str("version", version).Str("config", effectivePath).Msg("starting ottrecd")

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := otlog.WithComponent("daemon")

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ottrec",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	st := store.New(cfg.DataDir, cfg.SessionKey(), cfg.Retention(), otlog.WithComponent("store"))
	if err := st.Load(); err != nil {
		return fmt.Errorf("load store: %w", err)
	}

	bus := events.NewBus()

	builder := &recorder.CommandBuilder{Binary: cfg.Recorder.Binary, Args: cfg.Recorder.Args}
	supervisor := recorder.NewSupervisor(builder, bus, cfg.RecorderGrace(), cfg.Recorder.ManualSlots,
		otlog.WithComponent("recorder"))

	epgClient := epgsource.NewClient(cfg.EPG.BaseURL, otlog.WithComponent("epg"))
	matcher := series.NewMatcher(series.Config{
		TimeTolerance: cfg.SeriesTimeTolerance(),
		HistoryWindow: cfg.Series.HistoryWindow,
	}, otlog.WithComponent("series.matcher"))
	engine := series.NewEngine(st, epgClient, matcher, bus, cfg.OutputDir, otlog.WithComponent("series.engine"))

	resolver := &epgsource.TemplateResolver{Template: cfg.EPG.StreamTemplate}

	svc := scheduler.New(st, scheduler.WrapSupervisor(supervisor), engine, resolver, bus, cfg.OutputDir,
		otlog.WithComponent("scheduler"))
	svc.Tick = cfg.SchedulerTick()
	svc.StartTolerance = cfg.StartTolerance()
	svc.OverrunGrace = cfg.OverrunGrace()
	svc.SeriesInterval = cfg.SeriesRefresh()
	svc.SeriesMaxInterval = 4 * cfg.SeriesRefresh()
	svc.SeriesJitter = cfg.Jitter()
	svc.SeriesStartupDelay = cfg.StartupDelay()
	svc.Start(ctx)

	server := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           api.NewServer(svc, cfg.API.RateLimitPerMinute, otlog.WithComponent("api")).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.API.Listen).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	svc.Wait()
	supervisor.StopAll()
	return nil
}
