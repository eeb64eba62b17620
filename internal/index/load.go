package index

import (
	"log/slog"
	"time"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// A reader can catch the writer between the matrix append and the
// metadata rename; it re-reads a few times before declaring the pair
// inconsistent.
const (
	readerLoadAttempts = 3
	readerLoadBackoff  = 50 * time.Millisecond
)

// LoadReport describes what Load found on disk.
type LoadReport struct {
	State      State
	Vectors    int
	Dimension  int
	Model      string
	Duration   time.Duration
	MetaRows   int // identifiers listed in metadata, -1 if absent
	MatrixRows int // whole rows in the matrix artifact, -1 if absent or unreadable

	// Inconsistent is set when the artifacts existed but could not be
	// served together; Reason says why. The index is then empty.
	Inconsistent bool
	Reason       string
}

// Err returns the inconsistency as an error, or nil.
func (r LoadReport) Err() error {
	if !r.Inconsistent {
		return nil
	}
	return ragerrors.New(ragerrors.ErrCodeInconsistentIndex, r.Reason, nil).
		WithSuggestion("run 'ragscraper rebuild' to regenerate the index from the clean collection")
}

type snapshot struct {
	meta   *Metadata
	matrix []float32
	rows   map[string]int
}

// Load reads the persisted artifacts and replaces the in-memory state.
//
// Both present with matching row counts, and a matrix whose size and
// checksum are the ones recorded in metadata: Populated (or Empty for zero
// rows). Neither present: Empty. Anything else (metadata without a
// readable matrix, a matrix without metadata, a torn matrix, counts that
// disagree, or a matrix from another write) is logged as index_inconsistent and the index starts
// Empty. Load never fails: an unservable state is reported, and the
// writer repairs it with the next Add or a Rebuild.
func (ix *Index) Load() LoadReport {
	start := time.Now()
	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	attempts := 1
	if !ix.writer {
		attempts = readerLoadAttempts
	}

	var (
		report LoadReport
		snap   *snapshot
	)
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(readerLoadBackoff)
		}
		report, snap = ix.files.read()
		if !report.Inconsistent {
			break
		}
	}

	if snap != nil {
		ix.publish(snap.meta.Dimension, snap.meta.Identifiers, snap.rows, snap.matrix)
		ix.persistedRows = len(snap.meta.Identifiers)
		ix.persistedCRC = snap.meta.Checksum
	} else {
		ix.publish(0, nil, map[string]int{}, nil)
		ix.persistedRows = 0
		ix.persistedCRC = 0
	}
	report.State = ix.state
	report.Vectors = len(ix.ids)
	report.Duration = time.Since(start)

	if report.Inconsistent {
		ix.logger.Warn("index_inconsistent",
			slog.String("reason", report.Reason),
			slog.Int("metadata_rows", report.MetaRows),
			slog.Int("matrix_rows", report.MatrixRows),
			slog.String("dir", ix.files.dir))
		report.Dimension = 0
		return report
	}

	report.Dimension = ix.dim
	if ix.model != "" && report.Model != "" && report.Model != ix.model {
		ix.logger.Warn("index_model_changed",
			slog.String("persisted", report.Model),
			slog.String("configured", ix.model))
	}
	ix.logger.Info("index_loaded",
		slog.Int("vectors", report.Vectors),
		slog.Int("dimension", report.Dimension),
		slog.Duration("duration", report.Duration))
	return report
}

// read classifies the artifacts on disk. A nil snapshot means start empty.
func (f files) read() (LoadReport, *snapshot) {
	report := LoadReport{MetaRows: -1, MatrixRows: -1}

	meta, err := f.readMeta()
	if err != nil {
		return inconsistent(report, "metadata unreadable: "+err.Error()), nil
	}
	size := f.matrixSize()

	if meta == nil {
		if size < 0 {
			return report, nil
		}
		return inconsistent(report, "matrix present without metadata"), nil
	}
	report.MetaRows = len(meta.Identifiers)
	report.Model = meta.Model

	if size < 0 && len(meta.Identifiers) > 0 {
		return inconsistent(report, "metadata present but matrix missing"), nil
	}

	matrix, err := f.readMatrix(meta.Dimension)
	if err != nil {
		return inconsistent(report, "matrix unreadable: "+err.Error()), nil
	}
	rows := 0
	if meta.Dimension > 0 {
		rows = len(matrix.values) / meta.Dimension
	}
	report.MatrixRows = rows
	if rows != len(meta.Identifiers) {
		return inconsistent(report, "row count mismatch between metadata and matrix"), nil
	}
	if matrix.size != meta.MatrixBytes || matrix.checksum != meta.Checksum {
		return inconsistent(report, "matrix does not match the checksum recorded in metadata"), nil
	}

	positions := make(map[string]int, len(meta.Identifiers))
	for i, id := range meta.Identifiers {
		if _, dup := positions[id]; dup {
			return inconsistent(report, "duplicate identifier in metadata: "+id), nil
		}
		positions[id] = i
	}
	return report, &snapshot{meta: meta, matrix: matrix.values, rows: positions}
}

func inconsistent(r LoadReport, reason string) LoadReport {
	r.Inconsistent = true
	r.Reason = reason
	return r
}
