package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/pkg/volume"
)

const sampleHeader = `# dittoblk configuration file
#
# Environment variables override every key: DITTOBLK_<SECTION>_<KEY>,
# for example DITTOBLK_LOGGING_LEVEL=DEBUG.
#
# Volumes are listed in stripe order. Supported types: file, memory,
# badger, s3.

`

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	return WriteSampleConfig(SampleConfig(), path)
}

// SampleConfig returns the configuration written by init: two sparse file
// volumes under the data directory, 4 KiB stripes, a 1 GiB device.
func SampleConfig() *Config {
	dir := DataDir()
	cfg := &Config{
		Device: DeviceConfig{
			Capacity: bytesize.ByteSize(bytesize.GiB),
		},
		Worker: WorkerConfig{
			Volumes: []volume.Spec{
				{Type: volume.TypeFile, Path: filepath.Join(dir, "volume0.img"), Size: 512 * bytesize.MiB},
				{Type: volume.TypeFile, Path: filepath.Join(dir, "volume1.img"), Size: 512 * bytesize.MiB},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// WriteSampleConfig saves cfg with the explanatory header.
func WriteSampleConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(sampleHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DataDir returns $XDG_DATA_HOME/dittoblk or ~/.local/share/dittoblk.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dittoblk")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "dittoblk")
}

// runtimeDir returns $XDG_RUNTIME_DIR or the temp directory.
func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}
