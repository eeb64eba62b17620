package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher watches one directory with fsnotify, falling back to polling.
type DirWatcher struct {
	opts   Options
	logger *slog.Logger

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error

	mu             sync.RWMutex
	dir            string
	stopCh         chan struct{}
	stopped        bool
	droppedBatches atomic.Uint64
}

// New creates a DirWatcher. Call Start to begin watching.
func New(opts Options, logger *slog.Logger) *DirWatcher {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	w := &DirWatcher{
		opts:      opts,
		logger:    logger,
		debouncer: NewDebouncer(opts.DebounceWindow, logger),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	if !opts.ForcePolling {
		if fsw, err := fsnotify.NewWatcher(); err == nil {
			w.fsWatcher = fsw
		} else {
			logger.Warn("fsnotify unavailable, polling instead", slog.String("error", err.Error()))
		}
	}
	return w
}

// Start watches dir until ctx is cancelled or Stop is called. It returns
// once watching has begun; events arrive on Events.
func (w *DirWatcher) Start(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.mu.Lock()
	w.dir = abs
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-w.stopCh:
		}
		cancel()
		_ = w.Stop()
	}()

	go w.forward(ctx)

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Add(abs); err != nil {
			cancel()
			return fmt.Errorf("watch %s: %w", abs, err)
		}
		go w.runFsnotify(ctx)
		return nil
	}

	p := newPoller(abs, w.opts.PollInterval, w.opts.accepts)
	go p.run(ctx, w.debouncer.Add, w.emitError)
	return nil
}

func (w *DirWatcher) runFsnotify(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

func (w *DirWatcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !w.opts.accepts(name) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Name: name, Operation: op, Timestamp: time.Now()})
}

func (w *DirWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) > 0 {
				w.emitEvents(batch)
			}
		}
	}
}

func (w *DirWatcher) emitEvents(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.droppedBatches.Add(1)
		w.logger.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", n))
	}
}

func (w *DirWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop ends watching and closes both channels. Safe to call twice.
func (w *DirWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns debounced batches of changes.
func (w *DirWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors.
func (w *DirWatcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches returns the number of batches lost to a full buffer.
func (w *DirWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// WatcherType returns "fsnotify" or "polling".
func (w *DirWatcher) WatcherType() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Dir returns the watched directory.
func (w *DirWatcher) Dir() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dir
}
