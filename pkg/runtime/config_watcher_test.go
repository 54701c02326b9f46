package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoblk/pkg/config"
)

func TestConfigWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(level string) {
		content := "logging:\n  level: " + level + "\nworker:\n  volumes:\n    - type: memory\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	write("INFO")

	levels := make(chan string, 8)
	w, err := NewConfigWatcher(path, func(cfg *config.Config) { levels <- cfg.Logging.Level })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	write("DEBUG")

	select {
	case level := <-levels:
		require.Equal(t, "DEBUG", level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not applied")
	}
}

func TestConfigWatcherRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  volumes:\n    - type: memory\n"), 0644))

	applied := make(chan struct{}, 1)
	w, err := NewConfigWatcher(path, func(*config.Config) { applied <- struct{}{} })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: LOUD\nworker:\n  volumes:\n    - type: memory\n"), 0644))

	select {
	case <-applied:
		t.Fatal("invalid configuration must not be applied")
	case <-time.After(reloadDebounce + 500*time.Millisecond):
	}
}
