package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/internal/telemetry"
	"github.com/marmos91/dittoblk/pkg/api"
	"github.com/marmos91/dittoblk/pkg/config"
	"github.com/marmos91/dittoblk/pkg/metrics"
	"github.com/marmos91/dittoblk/pkg/runtime"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the virtual block device",
	Long: `Start the virtual block device with the specified configuration.

In inprocess transport mode the worker runs inside this process. In socket
mode the device listens on the configured unix socket and waits for a
"dittoblk worker" process.

Examples:
  # Start with the default config location
  dittoblk start

  # Start with a custom config file
  dittoblk start --config /etc/dittoblk/config.yaml

  # Override settings from the environment
  DITTOBLK_LOGGING_LEVEL=DEBUG DITTOBLK_DEVICE_QUEUE_DEPTH=128 dittoblk start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := initObservability(ctx, cfg, "dittoblk")
	if err != nil {
		return err
	}
	defer shutdown()

	fmt.Println("dittoblk - striped virtual block device")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	if cfg.API.IsEnabled() {
		rt.AddAuxiliaryServer(api.NewServer(cfg.API, rt.Device(), rt.Volumes()))
		logger.Info("API server enabled", "port", cfg.API.Port)
	} else {
		logger.Info("API server disabled")
	}

	if path := configPath(GetConfigFile()); path != "" {
		watcher, err := runtime.NewConfigWatcher(path, nil)
		if err != nil {
			logger.Warn("Config watcher disabled", logger.Err(err))
		} else {
			go func() { _ = watcher.Run(ctx) }()
		}
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	if cfg.Transport.Mode == config.TransportSocket {
		logger.Info("Waiting for worker", logger.KeySocket, cfg.Transport.Socket, "staging", cfg.Transport.Staging)
	}
	logger.Info("Device is running. Press Ctrl+C to stop.")

	if err := rt.Serve(ctx); err != nil {
		logger.Error("Device stopped with error", logger.Err(err))
		return err
	}
	logger.Info("Device stopped gracefully")
	return nil
}

// initObservability starts tracing and profiling as configured and returns
// a function that flushes and stops both.
func initObservability(ctx context.Context, cfg *config.Config, service string) (func(), error) {
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    service,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    service,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
		MutexFraction:  cfg.Telemetry.Profiling.MutexFraction,
		BlockRate:      cfg.Telemetry.Profiling.BlockRate,
		Tags: map[string]string{
			"device":      cfg.Device.Name,
			"transport":   cfg.Transport.Mode,
			"queue_depth": strconv.Itoa(cfg.Device.QueueDepth),
		},
	})
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	return func() {
		// The signal context is already cancelled here.
		ctx := context.WithoutCancel(ctx)
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}, nil
}
