package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"milepost/internal/api"
	"milepost/pkg/config"
	"milepost/pkg/db"
	"milepost/pkg/engine"
	"milepost/pkg/geocode"
	"milepost/pkg/location"
	"milepost/pkg/logging"
	"milepost/pkg/store"
	"milepost/pkg/trip"
	"milepost/pkg/version"
)

var (
	configPath = flag.String("config", "configs/milepost.yaml", "Path to the configuration file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	// Optional .env for local overrides (listen address etc.); missing file
	// is not an error.
	_ = godotenv.Load()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr := os.Getenv("MILEPOST_ADDR"); addr != "" {
		cfg.Server.Address = addr
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("Milepost started", "version", version.Version, "config", configPath)

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()
	st := store.NewSQLiteStore(dbConn)

	trips := trip.NewService(st, st, &cfg.Trip)
	if err := trips.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore active trip: %w", err)
	}

	src, err := initSource(cfg)
	if err != nil {
		return err
	}

	var rev geocode.Reverser = geocode.Disabled{}
	if cfg.Geocoder.Enabled {
		rev = geocode.New(&cfg.Geocoder)
	}

	eng := engine.New(cfg, trips, st, src, rev)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	return runServer(ctx, cfg, eng, trips, st, cancel)
}

func initSource(cfg *config.Config) (location.Source, error) {
	switch cfg.Location.Provider {
	case "replay":
		slog.Info("Location: using replay source", "lat", cfg.Location.Replay.StartLat, "lon", cfg.Location.Replay.StartLon)
		return location.NewReplaySource(&cfg.Location.Replay), nil
	case "udp":
		addr := os.Getenv("MILEPOST_UDP_ADDR")
		if addr == "" {
			addr = ":9907"
		}
		return location.NewUDPSource(addr, cfg.Location.Timeout.Std()), nil
	default:
		return nil, fmt.Errorf("unknown location provider %q", cfg.Location.Provider)
	}
}

func runServer(ctx context.Context, cfg *config.Config, eng *engine.Engine, trips *trip.Service, st store.Store, cancel context.CancelFunc) error {
	srv := api.NewServer(cfg.Server.Address,
		api.NewTripHandler(eng, trips),
		api.NewStatusHandler(eng, trips),
		api.NewTripLogHandler(st),
		api.NewStreamHandler(trips),
		cancel,
	)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}
	return nil
}
