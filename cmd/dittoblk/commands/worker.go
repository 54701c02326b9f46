package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/pkg/config"
	"github.com/marmos91/dittoblk/pkg/runtime"
	"github.com/marmos91/dittoblk/pkg/staging"
	"github.com/marmos91/dittoblk/pkg/transport"
	"github.com/marmos91/dittoblk/pkg/volume"
)

var workerDialTimeout time.Duration

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the striping worker against a socket-mode device",
	Long: `Run the worker in its own process.

The worker connects to the unix socket of a device started with
transport.mode=socket, maps the same staging file and executes requests
against the configured volumes. Both processes must use the same
configuration file.

Examples:
  # Terminal 1
  DITTOBLK_TRANSPORT_MODE=socket dittoblk start

  # Terminal 2
  DITTOBLK_TRANSPORT_MODE=socket dittoblk worker`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().DurationVar(&workerDialTimeout, "dial-timeout", 30*time.Second, "How long to wait for the device socket")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	if cfg.Transport.Mode != config.TransportSocket {
		return fmt.Errorf("worker requires transport.mode=%s (configured: %s)", config.TransportSocket, cfg.Transport.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := initObservability(ctx, cfg, "dittoblk-worker")
	if err != nil {
		return err
	}
	defer shutdown()

	conn, err := dialWithRetry(ctx, cfg.Transport.Socket, workerDialTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	logger.Info("Connected to device", logger.KeySocket, cfg.Transport.Socket)

	region, err := staging.Open(cfg.Transport.Staging, int(cfg.Device.MaxTransfer))
	if err != nil {
		return fmt.Errorf("failed to map staging region: %w", err)
	}
	defer func() { _ = region.Close() }()

	vols, w, err := runtime.NewWorker(ctx, cfg, conn, region.Bytes())
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}
	defer func() {
		if err := volume.CloseAll(vols); err != nil {
			logger.Error("closing volumes", logger.Err(err))
		}
	}()

	logger.Info("Worker is running. Press Ctrl+C to stop.")
	if err := w.Run(ctx); err != nil {
		logger.Error("Worker stopped with error", logger.Err(err))
		return err
	}
	logger.Info("Worker stopped")
	return nil
}

// dialWithRetry dials the device socket until it succeeds, ctx ends or
// timeout elapses.
func dialWithRetry(ctx context.Context, path string, timeout time.Duration) (*transport.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := transport.Dial(ctx, path)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("device socket %s not reachable after %s: %w", path, timeout, err)
			}
			return nil, ctx.Err()
		case <-ticker.C:
			logger.Debug("device socket not ready", logger.KeySocket, path, logger.Err(err))
		}
	}
}
