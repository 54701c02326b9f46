package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function to restore original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	originalLevel := GetLevel()
	originalFormat, _ := currentFormat.Load().(string)
	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		currentLevel.Store(int32(originalLevel))
		currentFormat.Store(originalFormat)
		reconfigure()
	}

	return buf, cleanup
}

// ============================================================================
// Level Filtering Tests
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "[DEBUG] debug message")
		assert.Contains(t, out, "[INFO] info message")
		assert.Contains(t, out, "[WARN] warn message")
		assert.Contains(t, out, "[ERROR] error message")
	})

	t.Run("WarnLevelFiltersDebugAndInfo", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("warn")
		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("InvalidLevelIsIgnored", func(t *testing.T) {
		_, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")
		SetLevel("LOUD")
		assert.Equal(t, LevelError, GetLevel())
	})
}

// ============================================================================
// Format Tests
// ============================================================================

func TestTextFormatFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("INFO")
	Info("request completed", KeySlot, 17, KeyOp, "WRITE", KeyVolumePath, "/dev/disk a")

	out := buf.String()
	assert.Contains(t, out, "slot=17")
	assert.Contains(t, out, "op=WRITE")
	assert.Contains(t, out, `volume_path="/dev/disk a"`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	SetLevel("INFO")
	Info("granule written", Volume(2), VolumeOffset(8192))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "granule written", entry["msg"])
	assert.Equal(t, float64(2), entry[KeyVolume])
	assert.Equal(t, float64(8192), entry[KeyVolumeOffset])
}

func TestGroupsArePrefixed(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("INFO")
	With("component", "worker").WithGroup("stripe").Info("plan", "units", 3)

	out := buf.String()
	assert.Contains(t, out, "component=worker")
	assert.Contains(t, out, "stripe.units=3")
}

// ============================================================================
// Context Tests
// ============================================================================

func TestContextFieldsArePrepended(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("DEBUG")

	lc := NewLogContext("dittoblk0", "READ").WithSlot(42).WithTrace("abc", "def")
	ctx := WithContext(context.Background(), lc)
	DebugCtx(ctx, "dispatched", KeyLength, 4096)

	out := buf.String()
	assert.Contains(t, out, "trace_id=abc span_id=def device=dittoblk0 op=READ slot=42 length=4096")
}

func TestContextWithoutSlotOmitsSlot(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	ctx := WithContext(context.Background(), NewLogContext("dittoblk0", "FLUSH"))
	InfoCtx(ctx, "flush acknowledged")

	assert.NotContains(t, buf.String(), "slot=")
	assert.Nil(t, FromContext(context.Background()))
}

func TestErrAttr(t *testing.T) {
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.True(t, Err(nil).Equal(Err(nil)))
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("tick", KeySlot, id)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 16*50)
}
