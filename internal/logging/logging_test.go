package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONWithComponent(t *testing.T) {
	// Given: a file-only config
	path := filepath.Join(t.TempDir(), "embed.log")
	cfg := DefaultConfig("embed")
	cfg.FilePath = path
	cfg.WriteToStderr = false

	// When: logging one record
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("index_add", slog.String("doc_id", "abc"))
	cleanup()

	// Then: the file holds a JSON record tagged with the component
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	assert.Equal(t, "index_add", rec["msg"])
	assert.Equal(t, "embed", rec["component"])
	assert.Equal(t, "abc", rec["doc_id"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path, Format: "text"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "msg=shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestRotatingWriter_RotatesAndCapsFiles(t *testing.T) {
	// Given: a writer with a tiny size limit
	path := filepath.Join(t.TempDir(), "crawl.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 10
	defer func() { _ = w.Close() }()

	// When: writing more than three files' worth
	for i := 0; i < 4; i++ {
		_, err := w.Write([]byte("0123456789"))
		require.NoError(t, err)
	}

	// Then: current plus two rotated files exist, nothing beyond
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")
}

func TestLogPath_UsesOverrideDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RAGSCRAPER_LOG_DIR", dir)

	assert.Equal(t, filepath.Join(dir, "query.log"), LogPath("query"))
	assert.Equal(t, filepath.Join(dir, "ragscraper.log"), LogPath(""))
}
