package logger

import (
	"bytes"
	"context"
	"encoding/json"
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

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
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
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("WarnLevelSuppressesLower", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")
		defer SetLevel("INFO")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("InvalidLevelIgnored", func(t *testing.T) {
		SetLevel("INFO")
		SetLevel("NOISY")
		assert.Equal(t, LevelInfo, Level(currentLevel.Load()))
	})
}

// ============================================================================
// Structured Field Tests
// ============================================================================

func TestStructuredFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	Info("write submitted", KeyDevice, "vault0", KeySector, uint64(128), KeySectors, 8)

	out := buf.String()
	assert.Contains(t, out, "write submitted")
	assert.Contains(t, out, "device=vault0")
	assert.Contains(t, out, "sector=128")
	assert.Contains(t, out, "sectors=8")
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	defer SetFormat("text")

	Info("device opened", KeyDevice, "vault0", KeyCipher, "aes-xts")

	var record map[string]any
	line := strings.TrimSpace(buf.String())
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "device opened", record["msg"])
	assert.Equal(t, "vault0", record["device"])
	assert.Equal(t, "aes-xts", record["cipher"])
}

// ============================================================================
// Context Field Tests
// ============================================================================

func TestContextFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	lc := NewLogContext("10.0.0.7").WithDevice("vault0").WithOp("write")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "request handled")

	out := buf.String()
	assert.Contains(t, out, "device=vault0")
	assert.Contains(t, out, "op=write")
	assert.Contains(t, out, "remote_ip=10.0.0.7")
}

func TestContextCloneIndependence(t *testing.T) {
	base := NewLogContext("10.0.0.7")
	withDev := base.WithDevice("vault0")

	assert.Empty(t, base.Device)
	assert.Equal(t, "vault0", withDev.Device)
	assert.Equal(t, base.RemoteIP, withDev.RemoteIP)
}

func TestFromContextMissing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, FromContext(nil)) //nolint:staticcheck // nil tolerance is part of the contract
}

// ============================================================================
// Init Tests
// ============================================================================

func TestInitWithWriter(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "DEBUG", "text", false)
	defer cleanupToStdout()

	Debug("poll loop started", KeyWorkers, 4)
	assert.Contains(t, buf.String(), "poll loop started")
	assert.Contains(t, buf.String(), "workers=4")
}

// cleanupToStdout restores package defaults after InitWithWriter tests.
func cleanupToStdout() {
	_ = Init(Config{Level: "INFO", Format: "text", Output: "stdout"})
}

func TestInitBadLogFile(t *testing.T) {
	err := Init(Config{Output: "/nonexistent-dir-zzz/file.log"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

// ============================================================================
// Concurrency
// ============================================================================

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("concurrent line", KeyLane, n)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 400, lines)
}

// ============================================================================
// Helpers
// ============================================================================

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512B"},
		{4096, "4.0KiB"},
		{1 << 20, "1.0MiB"},
		{3 << 30, "3.0GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
