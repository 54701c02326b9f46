package config

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/internal/telemetry"
	"github.com/marmos91/dittoblk/pkg/api"
	"github.com/marmos91/dittoblk/pkg/blockdev"
	"github.com/marmos91/dittoblk/pkg/queue"
	"github.com/marmos91/dittoblk/pkg/volume"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyDeviceDefaults(&cfg.Device)
	applyTransportDefaults(&cfg.Transport)
	applyWorkerDefaults(&cfg.Worker)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = slices.Clone(telemetry.DefaultProfileTypes)
	}
	if cfg.Profiling.MutexFraction == 0 {
		cfg.Profiling.MutexFraction = telemetry.DefaultMutexFraction
	}
	if cfg.Profiling.BlockRate == 0 {
		cfg.Profiling.BlockRate = telemetry.DefaultBlockRate
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyAPIDefaults sets admin API server defaults.
func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyDeviceDefaults sets device defaults.
// Capacity has no default: zero means "not yet sized".
func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.Name == "" {
		cfg.Name = "dittoblk0"
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = queue.DefaultDepth
	}
	if cfg.MaxTransfer == 0 {
		cfg.MaxTransfer = bytesize.ByteSize(blockdev.DefaultMaxTransfer)
	}
	if cfg.WriteZeroes == "" {
		cfg.WriteZeroes = blockdev.WriteZeroesDiscard
	}
}

// applyTransportDefaults sets transport defaults. Socket mode gets paths
// under the runtime directory when none are configured.
func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Mode == "" {
		cfg.Mode = TransportInProcess
	}
	cfg.Mode = strings.ToLower(cfg.Mode)

	if cfg.Mode == TransportSocket {
		if cfg.Socket == "" {
			cfg.Socket = filepath.Join(runtimeDir(), "dittoblk.sock")
		}
		if cfg.Staging == "" {
			cfg.Staging = filepath.Join(runtimeDir(), "dittoblk.staging")
		}
	}
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.StripeSize == 0 {
		cfg.StripeSize = bytesize.ByteSize(volume.GranuleSize)
	}
}

// GetDefaultConfig returns a Config with all default values applied and
// two in-memory volumes, enough to start a working device.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Device: DeviceConfig{
			Capacity: bytesize.ByteSize(bytesize.GiB),
		},
		Worker: WorkerConfig{
			Volumes: []volume.Spec{
				{Type: volume.TypeMemory},
				{Type: volume.TypeMemory},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
