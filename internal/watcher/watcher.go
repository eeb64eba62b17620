// Package watcher reports changes to named files in one directory. It is
// how read-only index holders notice that a writer has replaced the
// persisted artifacts.
//
// fsnotify is used when the platform supports it; otherwise (network
// mounts, some container volumes) the directory is polled. Rapid bursts of
// events are debounced into batches.
package watcher

import (
	"time"
)

// Operation is the kind of change observed.
type Operation int

const (
	// OpCreate means the file appeared, including by rename into place.
	OpCreate Operation = iota
	// OpModify means the file's contents changed.
	OpModify
	// OpDelete means the file is gone.
	OpDelete
	// OpRename means the file was renamed away.
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change.
type FileEvent struct {
	// Name is the file's base name within the watched directory.
	Name      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a watcher.
type Options struct {
	// DebounceWindow is how long events are collected before a batch is
	// emitted. Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the scan period in polling mode. Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the number of batches buffered. Default: 16
	EventBufferSize int

	// Files restricts events to these base names; empty means every file.
	Files []string

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 16,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// accepts reports whether events for name pass the Files filter.
func (o Options) accepts(name string) bool {
	if len(o.Files) == 0 {
		return true
	}
	for _, f := range o.Files {
		if f == name {
			return true
		}
	}
	return false
}
