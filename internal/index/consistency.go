package index

import (
	"context"
	"log/slog"
	"time"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphan is an indexed row whose document has no clean text.
	InconsistencyOrphan InconsistencyType = iota
	// InconsistencyMissing is a clean document that has not been embedded.
	InconsistencyMissing
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphan:
		return "orphan_vector"
	case InconsistencyMissing:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency represents one document that the index and the clean
// collection disagree on.
type Inconsistency struct {
	Type    InconsistencyType
	DocID   string
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of clean documents compared.
	Checked int
	// Indexed is the number of rows in the index.
	Indexed         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Missing returns the identifiers of clean documents absent from the index.
func (r *CheckResult) Missing() []string {
	var ids []string
	for _, issue := range r.Inconsistencies {
		if issue.Type == InconsistencyMissing {
			ids = append(ids, issue.DocID)
		}
	}
	return ids
}

// CleanSource lists the documents that should be indexed.
type CleanSource interface {
	CleanIDs(ctx context.Context) ([]string, error)
}

// ConsistencyChecker compares the index against the clean collection.
type ConsistencyChecker struct {
	clean  CleanSource
	index  *Index
	logger *slog.Logger
}

// NewConsistencyChecker creates a checker over clean and ix.
func NewConsistencyChecker(clean CleanSource, ix *Index, logger *slog.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{clean: clean, index: ix, logger: logger}
}

// Check lists orphans (indexed but not clean) and missing documents
// (clean but not indexed). Results are in index row order, then clean
// collection order.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	cleanIDs, err := c.clean.CleanIDs(ctx)
	if err != nil {
		return nil, err
	}
	cleanSet := make(map[string]bool, len(cleanIDs))
	for _, id := range cleanIDs {
		cleanSet[id] = true
	}

	indexed := c.index.IDs()
	var issues []Inconsistency
	for _, id := range indexed {
		if !cleanSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphan,
				DocID:   id,
				Details: "indexed vector without clean text",
			})
		}
	}
	for _, id := range cleanIDs {
		if !c.index.Contains(id) {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissing,
				DocID:   id,
				Details: "clean document missing from index",
			})
		}
	}

	return &CheckResult{
		Checked:         len(cleanIDs),
		Indexed:         len(indexed),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair hands every missing document to enqueue so the embed stage picks
// it up again. Orphans cannot be removed row by row; they are reported and
// left for a rebuild. Returns the number of documents re-enqueued.
func (c *ConsistencyChecker) Repair(ctx context.Context, result *CheckResult, enqueue func(ctx context.Context, docID string) error) (int, error) {
	var orphans, queued int
	for _, issue := range result.Inconsistencies {
		switch issue.Type {
		case InconsistencyOrphan:
			orphans++
		case InconsistencyMissing:
			if err := enqueue(ctx, issue.DocID); err != nil {
				return queued, err
			}
			queued++
		}
	}

	if queued > 0 {
		c.logger.Info("missing_vectors_enqueued", slog.Int("count", queued))
	}
	if orphans > 0 {
		c.logger.Warn("index has orphan vectors, run 'ragscraper rebuild' to drop them",
			slog.Int("orphan_count", orphans))
	}
	return queued, nil
}

// QuickCheck only compares counts.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	cleanIDs, err := c.clean.CleanIDs(ctx)
	if err != nil {
		return false, err
	}
	consistent := len(cleanIDs) == c.index.Count()
	if !consistent {
		c.logger.Debug("index counts mismatch",
			slog.Int("clean", len(cleanIDs)),
			slog.Int("indexed", c.index.Count()))
	}
	return consistent, nil
}
