package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bangkok(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)
	return loc
}

func TestNew_JSONUsesConfiguredZone(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "json", Location: bangkok(t), Output: &buf})

	logger.Info("request", "status", 200)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, float64(200), entry["status"])

	ts, ok := entry["time"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(ts, "+07:00"), "timestamp %q should carry the fixed offset", ts)
}

func TestNew_NoticeLevelName(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "text", Color: "never", Output: &buf})

	logger.Log(t.Context(), LevelNotice, "file uploaded", "path", "uploads/a.txt")

	assert.Contains(t, buf.String(), "level=NOTICE")
	assert.Contains(t, buf.String(), `msg="file uploaded"`)
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Format: "text", Color: "never", Output: &buf})

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestColorHandler_TintsByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "text", Color: "always", Location: bangkok(t), Output: &buf})

	logger.Info("request", "status", 200)
	logger.Warn("request", "status", 404)
	logger.Log(t.Context(), LevelNotice, "heartbeat")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	assert.Contains(t, lines[0], "INF")
	assert.Contains(t, lines[0], "request")
	assert.Contains(t, lines[0], "status=")
	assert.Contains(t, lines[1], "WRN")
	assert.Contains(t, lines[2], "NOTICE")
	assert.Contains(t, lines[2], "heartbeat")
	for _, l := range lines {
		assert.Contains(t, l, ansiEscape, "line %q should be coloured", l)
		assert.Contains(t, l, "+07:00")
	}
}

func TestColorHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Color: "always", Output: &buf})

	logger.With("rid", "abc").WithGroup("req").Info("done", "path", "/files/a b.txt", slog.Group("client", "ip", "10.0.0.1"))

	out := stripANSI(buf.String())
	assert.Contains(t, out, " rid=abc")
	assert.Contains(t, out, ` req.path="/files/a b.txt"`)
	assert.Contains(t, out, " req.client.ip=10.0.0.1")
}

func TestColorHandler_ConcurrentWritesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Color: "always", Output: &lockedWriter{w: &buf}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("line", "n", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 50)
	for _, l := range lines {
		assert.Contains(t, stripANSI(l), "line n=")
	}
}

const ansiEscape = "\x1b["

var ansiSeq = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiSeq.ReplaceAllString(s, "")
}

func TestUseColor_NonFileWriter(t *testing.T) {
	assert.False(t, useColor("auto", &bytes.Buffer{}))
	assert.True(t, useColor("always", &bytes.Buffer{}))
	assert.False(t, useColor("never", &bytes.Buffer{}))
}

type lockedWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
