// Package main is the entry point for the ingestion server. It opens
// the stats database, serves the HTTP API, and runs the retention
// sweeper alongside it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pistat/pistat/internal/api"
	"github.com/pistat/pistat/internal/config"
	"github.com/pistat/pistat/internal/latest"
	"github.com/pistat/pistat/internal/logging"
	"github.com/pistat/pistat/internal/models"
	"github.com/pistat/pistat/internal/retention"
	"github.com/pistat/pistat/internal/store"
)

// shutdownTimeout bounds how long in-flight requests may run after a
// termination signal.
const shutdownTimeout = 10 * time.Second

var (
	configPath  = flag.String("config", "pistat.yaml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("pistat-server %s\n", models.ProtocolVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting server",
		zap.String("version", models.ProtocolVersion),
		zap.String("listen", cfg.Server.ListenAddr),
		zap.Int("retention_days", cfg.Server.RetentionDays),
		zap.Int("inactivity_days", cfg.Server.InactivityDays))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	st, err := store.Open(cfg.Server.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open stats database", zap.Error(err))
	}
	defer st.Close()

	cache := latest.NewCache()
	service := api.New(st, cache, models.ProtocolVersion, logger)

	sweeper := retention.New(st, cache,
		time.Duration(cfg.Server.RetentionDays)*24*time.Hour,
		time.Duration(cfg.Server.InactivityDays)*24*time.Hour,
		cfg.Server.SweepInterval.Duration,
		logger)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: service.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
