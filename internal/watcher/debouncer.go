package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer merges bursts of events into one batch per quiet window.
// Events for the same file within a window are coalesced:
//   - CREATE + MODIFY = CREATE
//   - CREATE + DELETE = nothing
//   - DELETE + CREATE = MODIFY (the file was replaced)
//   - anything else keeps the latest event
type Debouncer struct {
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{
		window:  window,
		logger:  logger,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add queues an event and restarts the window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Name]; ok {
		merged := coalesce(existing, event)
		if merged == nil {
			delete(d.pending, event.Name)
		} else {
			existing.event = *merged
		}
	} else {
		d.pending[event.Name] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce returns nil when the two events cancel out.
func coalesce(existing *pendingEvent, next FileEvent) *FileEvent {
	switch {
	case existing.firstOp == OpCreate && next.Operation == OpModify:
		return &existing.event
	case existing.firstOp == OpCreate && next.Operation == OpDelete:
		return nil
	case existing.firstOp == OpDelete && next.Operation == OpCreate:
		replaced := next
		replaced.Operation = OpModify
		return &replaced
	default:
		return &next
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		batch = append(batch, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- batch:
	default:
		d.logger.Warn("debouncer output full, dropping batch", slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending events and closes Output. Safe to call twice.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
