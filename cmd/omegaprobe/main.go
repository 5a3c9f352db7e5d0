// Command omegaprobe logs on to an Omega gateway, sends a batch of probe
// requests, and reports session health until interrupted. It exercises the
// full client stack: logon, heartbeats, session renewal, and reconnection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fund3/omega-go/internal/auth"
	"github.com/fund3/omega-go/internal/config"
	"github.com/fund3/omega-go/internal/connection"
	"github.com/fund3/omega-go/internal/journal"
	"github.com/fund3/omega-go/internal/protocol"
	"github.com/fund3/omega-go/internal/transport"
	"github.com/fund3/omega-go/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/omegaprobe.local.yaml", "path to config file")
	probeCount := flag.Int("probes", 5, "number of concurrent probe requests to send")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting omegaprobe",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"endpoint", cfg.Endpoint.Address,
	)

	creds, err := auth.LoadCredentials(cfg.Credentials.ClientID, cfg.Credentials.SecretPath)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	manager := connection.NewManager(
		connection.Config{
			Address:                cfg.Endpoint.Address,
			HeartbeatInterval:      cfg.Session.HeartbeatInterval,
			HeartbeatMissThreshold: cfg.Session.HeartbeatMissThreshold,
			RequestTimeout:         cfg.Session.RequestTimeout,
			SessionRefreshLead:     cfg.Session.RefreshLead,
			ReconnectInitialDelay:  cfg.Reconnect.InitialDelay,
			ReconnectMaxDelay:      cfg.Reconnect.MaxDelay,
			MaxReconnectAttempts:   cfg.Reconnect.MaxAttempts,
			ExpirySweepInterval:    cfg.Session.ExpirySweepInterval,
		},
		&transport.WSDialer{
			HandshakeTimeout: cfg.Endpoint.HandshakeTimeout,
			WriteTimeout:     cfg.Endpoint.WriteTimeout,
		},
		protocol.WireCodec{},
		&fillLogger{logger: logger},
		logger,
	)

	manager.SetStatusListener(func(old, next connection.State) {
		logger.Info("session state changed", "from", old.String(), "to", next.String())
	})

	// Optional traffic journal
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)

		pool, err := journal.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		writer := journal.NewWriter(journal.Config{
			Instance:      cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start journal writer", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			writer.Stop(stopCtx)
		}()

		manager.SetRecorder(writer)
	}

	if err := manager.Start(ctx, creds); err != nil {
		logger.Error("failed to establish session", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		manager.Stop(stopCtx)
	}()

	sess := manager.Session()
	logger.Info("session established",
		"session_id", sess.ID,
		"expires_at", sess.ExpiresAt,
	)

	// Fire the probe batch concurrently and wait for all responses.
	sender := connection.NewSender(manager)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *probeCount; i++ {
		i := i
		g.Go(func() error {
			payload := fmt.Sprintf("probe %d from %s", i, cfg.Instance.ID)
			resp, err := sender.SendRequest(gctx, []byte(payload), 0)
			if err != nil {
				return fmt.Errorf("probe %d: %w", i, err)
			}
			logger.Info("probe answered", "probe", i, "payload", string(resp.Payload))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("probe batch failed", "error", err)
		os.Exit(1)
	}

	logger.Info("probe batch complete, holding session open",
		"instance_id", cfg.Instance.ID,
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
}

// fillLogger logs unsolicited traffic; omegaprobe has no business logic to
// hand it to.
type fillLogger struct {
	logger *slog.Logger
}

func (f *fillLogger) OnFill(env protocol.Envelope) {
	f.logger.Info("fill received", "session_id", env.SessionID, "payload", string(env.Payload))
}

func (f *fillLogger) OnSystemEvent(env protocol.Envelope) {
	f.logger.Info("system event received", "payload", string(env.Payload))
}

func (f *fillLogger) OnUnknown(env protocol.Envelope) {
	f.logger.Warn("unexpected envelope", "kind", env.Kind.String(), "correlation_id", env.CorrelationID)
}
