package ui

import (
	"sync"
	"time"
)

// ProgressTracker holds the current stage's progress. Safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	stage      Stage
	current    int
	total      int
	currentDoc string
	stageStart time.Time
	errors     int
	warnings   int

	// lastETA smooths the estimate between batches.
	lastETA time.Duration
	now     func() time.Time
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	Rate       float64 // items per second in this stage
	ETA        time.Duration
	CurrentDoc string
	ErrorCount int
	WarnCount  int
}

// NewProgressTracker creates a tracker in StageLoading.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{stage: StageLoading, stageStart: time.Now(), now: time.Now}
}

// SetStage transitions to a new stage.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentDoc = ""
	p.stageStart = p.now()
	p.lastETA = 0
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, doc string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if doc != "" {
		p.currentDoc = doc
	}
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// etaSmoothing weights the newest estimate against the previous one.
const etaSmoothing = 0.3

// Stats returns a snapshot. It takes the write lock because the ETA
// estimate is smoothed across calls.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		CurrentDoc: p.currentDoc,
		ErrorCount: p.errors,
		WarnCount:  p.warnings,
	}
	elapsed := p.now().Sub(p.stageStart)
	if elapsed > 0 {
		s.Rate = float64(p.current) / elapsed.Seconds()
	}
	if p.total > 0 {
		s.Progress = min(float64(p.current)/float64(p.total), 1.0)
	}
	if s.Progress > 0 && s.Progress < 1 {
		raw := time.Duration(float64(elapsed)/s.Progress) - elapsed
		if p.lastETA > 0 {
			raw = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
		}
		p.lastETA = raw
		s.ETA = raw
	}
	return s
}
