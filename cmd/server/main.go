// Package main is the entry point for the spotview server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlasmap-sc/spotview/internal/api"
	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/config"
	"github.com/atlasmap-sc/spotview/internal/data/loader"
	"github.com/atlasmap-sc/spotview/internal/render"
	"github.com/atlasmap-sc/spotview/internal/service"
	"github.com/atlasmap-sc/spotview/internal/viewstore"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting spotview server", "port", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		SnapshotCacheSizeMB: cfg.Cache.SnapshotSizeMB,
		SnapshotTTL:         cfg.Cache.SnapshotTTL(),
		ExpressionCacheSize: cfg.Cache.ExpressionCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	// Initialize snapshot renderer (shared across all datasets)
	renderer := render.NewSnapshotRenderer(render.Config{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		DefaultGradient: cfg.Render.DefaultGradient,
		SpotOpacity:     cfg.Render.SpotOpacity,
	})

	views, err := viewstore.NewStore(cfg.Views.SQLitePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open view store: %w", err)
	}
	defer views.Close()

	compose, err := cfg.Coloring.ComposeOptions()
	if err != nil {
		return err
	}
	palette, err := cfg.Coloring.GenePalette()
	if err != nil {
		return err
	}

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	logger.Info("initializing datasets", "count", len(datasetIDs), "default", cfg.Data.DefaultDataset)

	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]
		registry.Register(service.NewSession(service.SessionConfig{
			DatasetID: datasetID,
			Name:      ds.Name,
			Paths: loader.Paths{
				Positions:  ds.Positions,
				Expression: ds.Expression,
				Membership: ds.Membership,
				Matrix:     ds.Matrix,
			},
			MaxSpots:    ds.MaxSpots,
			Scale:       ds.Scale,
			Compose:     compose,
			GenePalette: palette,
			Cache:       cacheManager,
			Renderer:    renderer,
			Views:       views,
			Logger:      logger,
		}))
		logger.Info("dataset registered", "dataset", datasetID, "positions", ds.Positions, "matrix", ds.Matrix)
	}

	// Datasets load in the background; requests get 503 until theirs is ready.
	datasetLoader := service.NewLoader(ctx, service.LoaderConfig{
		MaxConcurrent: cfg.Data.MaxConcurrentLoads,
		QueueSize:     len(datasetIDs) * 2,
		Logger:        logger,
	})
	datasetLoader.Start()
	defer datasetLoader.Stop()

	for _, s := range registry.Sessions() {
		if err := datasetLoader.Submit(s); err != nil {
			logger.Error("failed to queue dataset load", "dataset", s.ID(), "error", err)
		}
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Loader:      datasetLoader,
		Cache:       cacheManager,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
