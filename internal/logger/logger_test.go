package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)

	l.Info("order", "created")
	l.LogScan("VALID", "ticket-1", "checked in")

	scanner := bufio.NewScanner(&buf)
	var entries []LogEntry
	for scanner.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}

	require.Len(t, entries, 2)
	assert.Equal(t, "ORDER", entries[0].Category)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "SCAN", entries[1].Category)
	assert.Contains(t, entries[1].Message, "ticket-1")
	assert.Equal(t, "logger_test.go", entries[0].File)
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.SetLevel(WARN)

	l.Debug("x", "hidden")
	l.Info("x", "hidden")
	l.Warn("x", "shown")

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestNewCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "svc")
	require.NoError(t, err)
	l.terminal = nil
	l.Error("db", "boom")
	l.Close()

	matches, err := filepath.Glob(filepath.Join(dir, "svc-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"boom"`)
}
