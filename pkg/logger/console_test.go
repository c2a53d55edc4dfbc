package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesFormattedLine(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelInfo, &buf)

	log.Info("client connected", "client_id", "c1", "qos", 1)

	line := buf.String()
	assert.Contains(t, line, "INF")
	assert.Contains(t, line, "client connected")
	assert.Contains(t, line, "client_id=c1")
	assert.Contains(t, line, "qos=1")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestMinLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelWarn, &buf)

	log.Debug("hidden")
	log.Info("also hidden")
	log.Warn("visible")
	log.Error("also visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestLevelTags(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelDebug, &buf)

	log.Debug("d")
	log.Info("i")
	log.Warn("w")
	log.Error("e")

	out := buf.String()
	for _, tag := range []string{"DBG", "INF", "WRN", "ERR"} {
		assert.Contains(t, out, tag)
	}
}

func TestWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelInfo, &buf)

	log.With("listener", "tcp").WithGroup("session").Info("attached", "client_id", "c1")

	line := buf.String()
	assert.Contains(t, line, "listener=tcp")
	assert.Contains(t, line, "session.client_id=c1")
}

func TestWithAttrsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelInfo, &buf)

	child := log.With("scope", "child")
	child.Info("from child")
	log.Info("from parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "scope=child")
	assert.NotContains(t, lines[1], "scope=child")
}

func TestConcurrentLinesStayWhole(t *testing.T) {
	var buf safeBuffer
	log := New(slog.LevelInfo, &buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				log.Info("tick", "worker", "w")
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 8*25)
	for _, line := range lines {
		assert.Contains(t, line, "tick")
	}
}

// safeBuffer serializes writes so the test only measures the handler's
// own line atomicity.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
