// Package main is the entry point for the monitoring agent. It loads
// configuration, performs the registration handshake (fatal on failure),
// and runs the collection loop until terminated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/collector"
	"github.com/pistat/pistat/internal/config"
	"github.com/pistat/pistat/internal/identity"
	"github.com/pistat/pistat/internal/logging"
	"github.com/pistat/pistat/internal/models"
	"github.com/pistat/pistat/internal/queue"
	"github.com/pistat/pistat/internal/scheduler"
	"github.com/pistat/pistat/internal/transport"
)

var (
	configPath  = flag.String("config", "pistat.yaml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("pistat-agent %s\n", models.ProtocolVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting agent",
		zap.String("version", models.ProtocolVersion),
		zap.String("server", cfg.Agent.ServerURL))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down",
			zap.String("signal", sig.String()))
		cancel()
	}()

	if err := runAgent(ctx, cfg, logger); err != nil {
		// Fatal only here, after runAgent's defers have closed the queue.
		logger.Fatal("Agent failed", zap.Error(err))
	}
	logger.Info("Agent stopped")
}

// runAgent wires the components and runs the collection loop until the
// context is cancelled. Errors are returned, not Fatal-ed, so the
// deferred queue close always runs.
func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	q, err := queue.Open(cfg.Agent.QueuePath, logger)
	if err != nil {
		return fmt.Errorf("opening local queue: %w", err)
	}
	defer q.Close()

	client := transport.New(cfg.Agent.ServerURL, logger)

	state, err := ensureRegistered(ctx, cfg, client, logger)
	if err != nil {
		// Startup registration is the one unrecoverable condition:
		// without a device id nothing the loop produces can ever be
		// delivered.
		return fmt.Errorf("registering with server: %w", err)
	}

	source := collector.DefaultSource(logger)

	sched := scheduler.New(source, q, client, state,
		cfg.Agent.StatePath, cfg.Agent.Interval.Duration, logger)

	logger.Info("Agent running",
		zap.Int64("device_id", state.DeviceID),
		zap.Duration("interval", cfg.Agent.Interval.Duration))
	sched.Run(ctx)
	return nil
}

// ensureRegistered loads the persisted client state or, on first run,
// performs the registration handshake and persists the result.
func ensureRegistered(ctx context.Context, cfg *config.Config, client *transport.Client, logger *zap.Logger) (*identity.ClientState, error) {
	state, err := identity.Load(cfg.Agent.StatePath)
	if err != nil {
		return nil, err
	}
	if state != nil {
		logger.Info("Loaded client state",
			zap.Int64("device_id", state.DeviceID),
			zap.String("device_uid", state.DeviceUID))
		return state, nil
	}

	logger.Info("No client state found, registering with server")

	uid := identity.DeviceUID()
	hostname := identity.Hostname()

	deviceID, err := client.Register(ctx, uid, hostname, hostname)
	if err != nil {
		var mismatch *transport.VersionMismatchError
		if errors.As(err, &mismatch) {
			logger.Error("Server requires a different client version",
				zap.String("client_version", mismatch.ClientVersion),
				zap.String("server_version", mismatch.ServerVersion))
		}
		return nil, err
	}

	state = &identity.ClientState{
		DeviceID:        deviceID,
		DeviceUID:       uid,
		ServerURL:       cfg.Agent.ServerURL,
		ProtocolVersion: models.ProtocolVersion,
	}
	if err := identity.Save(cfg.Agent.StatePath, state); err != nil {
		return nil, err
	}
	return state, nil
}
