package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/pkg/volume"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, `
logging:
  level: "debug"

device:
  capacity: 64Mi

worker:
  stripe_size: 8Ki
  volumes:
    - type: file
      path: "`+yamlSafePath(dir)+`/v0.img"
    - type: memory
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Device.Capacity != 64*bytesize.MiB {
		t.Errorf("Expected capacity 64Mi, got %s", cfg.Device.Capacity)
	}
	if cfg.Device.Name != "dittoblk0" {
		t.Errorf("Expected default device name, got %q", cfg.Device.Name)
	}
	if cfg.Worker.StripeSize != 8*bytesize.KiB {
		t.Errorf("Expected stripe size 8Ki, got %s", cfg.Worker.StripeSize)
	}
	if len(cfg.Worker.Volumes) != 2 || cfg.Worker.Volumes[0].Type != volume.TypeFile {
		t.Errorf("Unexpected volumes: %+v", cfg.Worker.Volumes)
	}
	if cfg.Transport.Mode != TransportInProcess {
		t.Errorf("Expected inprocess transport, got %q", cfg.Transport.Mode)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if len(cfg.Worker.Volumes) == 0 {
		t.Error("Expected default volumes")
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: INFO
worker:
  volumes:
    - type: memory
`)
	t.Setenv("DITTOBLK_LOGGING_LEVEL", "WARN")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected env override 'WARN', got %q", cfg.Logging.Level)
	}
}

func TestLoad_DurationAndSizeFormats(t *testing.T) {
	configPath := writeConfig(t, `
shutdown_timeout: 5s
device:
  max_transfer: 1048576
  capacity: "1Gi"
worker:
  volumes:
    - type: memory
      size: 512Mi
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected 5s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Device.MaxTransfer != bytesize.MiB {
		t.Errorf("Expected max_transfer 1Mi, got %s", cfg.Device.MaxTransfer)
	}
	if cfg.Worker.Volumes[0].Size != 512*bytesize.MiB {
		t.Errorf("Expected volume size 512Mi, got %s", cfg.Worker.Volumes[0].Size)
	}
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	configPath := writeConfig(t, `
transport:
  mode: carrier-pigeon
worker:
  volumes:
    - type: memory
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown transport mode")
	}
}

func TestLoad_SocketModeGetsPaths(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	configPath := writeConfig(t, `
transport:
  mode: socket
worker:
  volumes:
    - type: memory
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Transport.Socket == "" || cfg.Transport.Staging == "" {
		t.Errorf("Expected socket and staging paths, got %+v", cfg.Transport)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Worker.StripeSize = 64 * bytesize.KiB
	cfg.Device.WriteZeroes = "zerofill"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after save failed: %v", err)
	}
	if loaded.Worker.StripeSize != 64*bytesize.KiB {
		t.Errorf("Stripe size lost in round trip: %s", loaded.Worker.StripeSize)
	}
	if loaded.Device.WriteZeroes != "zerofill" {
		t.Errorf("write_zeroes lost in round trip: %q", loaded.Device.WriteZeroes)
	}
	if loaded.ShutdownTimeout != cfg.ShutdownTimeout {
		t.Errorf("shutdown_timeout lost in round trip: %v", loaded.ShutdownTimeout)
	}
}

func TestVolumeSpecs_DirectIO(t *testing.T) {
	w := WorkerConfig{
		DirectIO: true,
		Volumes: []volume.Spec{
			{Type: volume.TypeFile, Path: "/a"},
			{Type: volume.TypeMemory},
		},
	}

	specs := w.VolumeSpecs()
	if !specs[0].DirectIO {
		t.Error("Expected direct I/O on file volume")
	}
	if specs[1].DirectIO {
		t.Error("Direct I/O must not apply to memory volumes")
	}
	if w.Volumes[0].DirectIO {
		t.Error("VolumeSpecs must not modify the config")
	}
}

func TestGetDefaultConfigPath_XDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "dittoblk", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if DefaultConfigExists() {
		t.Error("Expected no default config in fresh directory")
	}
}
