package watcher

import (
	"context"
	"fmt"
	"os"
	"time"
)

// poller detects changes by comparing directory listings. It is the
// fallback when fsnotify cannot be used.
type poller struct {
	dir      string
	interval time.Duration
	accepts  func(string) bool
	state    map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

func newPoller(dir string, interval time.Duration, accepts func(string) bool) *poller {
	return &poller{dir: dir, interval: interval, accepts: accepts, state: map[string]fileSnapshot{}}
}

// run scans every interval until ctx is done, passing changes to emit.
func (p *poller) run(ctx context.Context, emit func(FileEvent), report func(error)) {
	if err := p.scan(nil); err != nil {
		report(err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.scan(emit); err != nil {
				report(err)
			}
		}
	}
}

// scan refreshes the snapshot; with a nil emit it only records the baseline.
func (p *poller) scan(emit func(FileEvent)) error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", p.dir, err)
	}

	now := time.Now()
	current := make(map[string]fileSnapshot, len(entries))
	for _, e := range entries {
		if e.IsDir() || !p.accepts(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snap := fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		current[e.Name()] = snap

		if emit == nil {
			continue
		}
		if prev, ok := p.state[e.Name()]; !ok {
			emit(FileEvent{Name: e.Name(), Operation: OpCreate, Timestamp: now})
		} else if prev != snap {
			emit(FileEvent{Name: e.Name(), Operation: OpModify, Timestamp: now})
		}
	}
	if emit != nil {
		for name := range p.state {
			if _, ok := current[name]; !ok {
				emit(FileEvent{Name: name, Operation: OpDelete, Timestamp: now})
			}
		}
	}
	p.state = current
	return nil
}
