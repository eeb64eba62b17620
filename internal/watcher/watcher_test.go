package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragscraper/internal/logging"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{Operation(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	got := Options{DebounceWindow: time.Second, Files: []string{"x"}}.WithDefaults()

	assert.Equal(t, time.Second, got.DebounceWindow)
	assert.Equal(t, 2*time.Second, got.PollInterval)
	assert.Equal(t, 16, got.EventBufferSize)
	assert.Equal(t, []string{"x"}, got.Files)
}

func TestOptions_Accepts(t *testing.T) {
	assert.True(t, Options{}.accepts("anything"))
	assert.True(t, Options{Files: []string{"a", "b"}}.accepts("b"))
	assert.False(t, Options{Files: []string{"a"}}.accepts("c"))
}

// waitFor reads batches until one mentions name.
func waitFor(t *testing.T, w *DirWatcher, name string) FileEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case batch, ok := <-w.Events():
			require.True(t, ok, "events channel closed")
			for _, e := range batch {
				if e.Name == name {
					return e
				}
			}
		case <-deadline:
			t.Fatalf("no event for %s", name)
		}
	}
}

func replaceAtomically(t *testing.T, dir, name, content string) {
	t.Helper()
	tmp := filepath.Join(dir, name+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func TestDirWatcher_ReportsAtomicReplace(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a watcher filtered to the metadata file
			dir := t.TempDir()
			w := New(Options{
				DebounceWindow: 20 * time.Millisecond,
				PollInterval:   20 * time.Millisecond,
				Files:          []string{"index.meta.json"},
				ForcePolling:   polling,
			}, logging.Discard())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			require.NoError(t, w.Start(ctx, dir))
			defer func() { _ = w.Stop() }()
			if polling {
				assert.Equal(t, "polling", w.WatcherType())
				// Let the poller record its baseline.
				time.Sleep(50 * time.Millisecond)
			}

			// When: the file is written by temp file and rename
			replaceAtomically(t, dir, "index.meta.json", `{"dimension":4}`)

			// Then: an event for it arrives, and the temp file is filtered out
			ev := waitFor(t, w, "index.meta.json")
			assert.NotEqual(t, OpDelete, ev.Operation)
		})
	}
}

func TestDirWatcher_StopClosesChannels(t *testing.T) {
	w := New(Options{}, logging.Discard())
	require.NoError(t, w.Start(context.Background(), t.TempDir()))

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
	_, ok = <-w.Errors()
	assert.False(t, ok)
}

func TestDirWatcher_ContextCancelStops(t *testing.T) {
	w := New(Options{}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx, t.TempDir()))

	cancel()

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
