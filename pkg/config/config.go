package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/pkg/api"
	"github.com/marmos91/dittoblk/pkg/volume"
)

// Transport modes.
const (
	TransportInProcess = "inprocess"
	TransportSocket    = "socket"
)

// Config represents the dittoblk configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOBLK_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds the drain of in-flight requests on stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the admin HTTP server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Device describes the virtual block device
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Transport selects how the worker reaches the slot table
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Worker configures striping and the backing volumes
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Default: cpu, goroutines, mutex_duration, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`

	// MutexFraction samples one in n mutex contention events
	// Default: 5
	MutexFraction int `mapstructure:"mutex_fraction" validate:"gte=0" yaml:"mutex_fraction"`

	// BlockRate is the shortest blocking event sampled by block profiles
	// Default: 10us
	BlockRate time.Duration `mapstructure:"block_rate" validate:"gte=0" yaml:"block_rate"`
}

// MetricsConfig configures Prometheus metrics.
// When Enabled is false, no metrics are collected (zero overhead). Metrics
// are served on the API server under /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DeviceConfig describes the virtual block device.
type DeviceConfig struct {
	// Name is the device name
	// Default: "dittoblk0"
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Capacity is the device size. Zero leaves the device without capacity
	// until it is set through the API.
	Capacity bytesize.ByteSize `mapstructure:"capacity" yaml:"capacity"`

	// QueueDepth is the number of request slots
	// Default: 4096
	QueueDepth int `mapstructure:"queue_depth" validate:"required,min=1,max=65536" yaml:"queue_depth"`

	// MaxTransfer is the largest data transfer per request. It also sizes
	// the staging region.
	// Default: 2Mi
	MaxTransfer bytesize.ByteSize `mapstructure:"max_transfer" yaml:"max_transfer"`

	// WriteZeroes selects how WRITE_ZEROES requests reach the worker
	// Valid values: discard, zerofill
	WriteZeroes string `mapstructure:"write_zeroes" validate:"required,oneof=discard zerofill" yaml:"write_zeroes"`
}

// TransportConfig selects how the worker reaches the slot table.
type TransportConfig struct {
	// Mode is inprocess (worker goroutine next to the device) or socket
	// (worker in a separate process).
	Mode string `mapstructure:"mode" validate:"required,oneof=inprocess socket" yaml:"mode"`

	// Socket is the unix socket path used in socket mode
	Socket string `mapstructure:"socket" validate:"required_if=Mode socket" yaml:"socket"`

	// Staging is the file backing the shared staging region in socket
	// mode. Both processes map it.
	Staging string `mapstructure:"staging" validate:"required_if=Mode socket" yaml:"staging"`
}

// WorkerConfig configures striping and the backing volumes.
type WorkerConfig struct {
	// StripeSize is the RAID0 stripe unit
	// Default: 4Ki
	StripeSize bytesize.ByteSize `mapstructure:"stripe_size" yaml:"stripe_size"`

	// DirectIO opens every file volume with O_DIRECT
	DirectIO bool `mapstructure:"direct_io" yaml:"direct_io"`

	// Coalesce merges contiguous granules of a request into one volume call
	Coalesce bool `mapstructure:"coalesce" yaml:"coalesce"`

	// Volumes lists the backing volumes in stripe order
	Volumes []volume.Spec `mapstructure:"volumes" validate:"required,min=1,dive" yaml:"volumes"`
}

// VolumeSpecs returns the volume specs with the worker-wide options applied.
func (w WorkerConfig) VolumeSpecs() []volume.Spec {
	specs := make([]volume.Spec, len(w.Volumes))
	for i, s := range w.Volumes {
		if w.DirectIO && s.Type == volume.TypeFile {
			s.DirectIO = true
		}
		specs[i] = s
	}
	return specs
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOBLK_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dittoblk init\n\n"+
				"Or specify a custom config file:\n"+
				"  dittoblk <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  dittoblk init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: s3 volumes may carry static credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOBLK_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOBLK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can use sizes like "1Gi", "2Mi" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/dittoblk, ~/.config/dittoblk, or
// "." when the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoblk")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoblk")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
