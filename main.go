package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/msomdec/tilecrop/internal/config"
	"github.com/msomdec/tilecrop/internal/domain"
	"github.com/msomdec/tilecrop/internal/fetch"
	"github.com/msomdec/tilecrop/internal/geometry"
	"github.com/msomdec/tilecrop/internal/handler"
	"github.com/msomdec/tilecrop/internal/repository/mongostore"
	"github.com/msomdec/tilecrop/internal/repository/sqlite"
	"github.com/msomdec/tilecrop/internal/service"
	"github.com/msomdec/tilecrop/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logOpts := &slog.HandlerOptions{Level: cfg.Log.Level}
	logger := slog.New(slog.NewMultiHandler(
		slog.NewTextHandler(os.Stdout, logOpts),
		slog.NewJSONHandler(os.Stderr, logOpts),
	))
	slog.SetDefault(logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open metadata store", "store", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("metadata store ready", "store", cfg.Store.Backend)

	root, err := storage.Open(cfg.Storage.RootDir)
	if err != nil {
		slog.Error("failed to open storage root", "dir", cfg.Storage.RootDir, "error", err)
		os.Exit(1)
	}
	if _, err := root.Reconcile(); err != nil {
		slog.Error("failed to reconcile storage root", "error", err)
		os.Exit(1)
	}

	fetcher := fetch.New(&http.Client{Timeout: cfg.Fetch.Timeout}, cfg.Fetch.MaxBytes)
	imageService := service.NewImageService(db.Images(), root, fetcher, geometry.NewEngine()).
		WithCropConcurrency(cfg.Storage.CropConcurrency)

	var limiter *service.TokenBucket
	if cfg.Ingest.Rate > 0 {
		limiter = service.NewTokenBucket(ctx, cfg.Ingest.Rate, cfg.Ingest.Burst)
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, imageService, limiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.SecurityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "root", cfg.Storage.RootDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (domain.Database, error) {
	switch cfg.Backend {
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return mongostore.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return sqlite.New(cfg.DatabasePath)
	}
}
