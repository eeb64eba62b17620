// Package index is the flat vector index behind search: an in-memory
// row-major matrix of L2-normalised embeddings, the identifier list that
// names each row, and the two on-disk artifacts that persist them.
//
// The central invariant is that the identifier list and the matrix always
// have the same length and order: ids[i] names row i. Every mutation is
// written to disk before it becomes visible to searches, and a
// persisted pair that disagrees on the row count is never served.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
	"github.com/Aman-CERP/ragscraper/internal/logging"
)

// State is the lifecycle state of an Index.
type State int

const (
	StateUninitialized State = iota
	StateEmpty
	StatePopulated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEmpty:
		return "empty"
	case StatePopulated:
		return "populated"
	default:
		return "unknown"
	}
}

// Result is one search hit.
type Result struct {
	ID    string
	Score float32
	Row   int
}

// Index is a flat inner-product index. Open it with WithWriter in exactly
// one process (the embed stage or a rebuild); every other process opens it
// read-only and calls Load to pick up persisted changes.
type Index struct {
	files  files
	model  string
	logger *slog.Logger
	writer bool
	lock   *writerLock

	// wmu serialises mutations and persistence.
	wmu sync.Mutex

	// mu guards the published state below.
	mu     sync.RWMutex
	state  State
	dim    int
	ids    []string
	rows   map[string]int
	matrix []float32

	// persistedRows is the row count both artifacts agree on and
	// persistedCRC the checksum of those rows; guarded by wmu.
	persistedRows int
	persistedCRC  uint32
}

// Option configures an Index.
type Option func(*Index)

// WithWriter takes the cross-process writer lock on Open.
func WithWriter() Option {
	return func(ix *Index) { ix.writer = true }
}

// WithLogger sets the logger for load and consistency events.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithModel records the embedding model name in persisted metadata.
func WithModel(name string) Option {
	return func(ix *Index) { ix.model = name }
}

// Open prepares an index rooted at dir. The index starts Uninitialized;
// call Load to read the persisted artifacts.
func Open(dir string, opts ...Option) (*Index, error) {
	ix := &Index{
		files:  newFiles(dir),
		logger: logging.Discard(),
		rows:   map[string]int{},
	}
	for _, opt := range opts {
		opt(ix)
	}

	if ix.writer {
		lock, err := acquireWriterLock(ix.files.lock)
		if err != nil {
			return nil, err
		}
		ix.lock = lock
	}
	return ix, nil
}

// Close releases the writer lock, if held.
func (ix *Index) Close() error {
	if ix.lock == nil {
		return nil
	}
	return ix.lock.release()
}

// State returns the lifecycle state.
func (ix *Index) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.state
}

// Count returns the number of indexed vectors.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// Dimension returns D, or 0 before the first vector.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Contains reports whether id is indexed.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.rows[id]
	return ok
}

// IDs returns a copy of the identifier list in row order.
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]string(nil), ix.ids...)
}

// Dir returns the directory holding the artifacts.
func (ix *Index) Dir() string {
	return ix.files.dir
}

// Add appends vector under id. Adding an identifier that is already
// indexed is a no-op reporting added=false. The first vector ever added
// fixes the dimension; afterwards a vector of another length fails with
// a dimension mismatch. The row is persisted before it is published, so
// on error the in-memory index is unchanged.
func (ix *Index) Add(ctx context.Context, id string, vector []float32) (added bool, err error) {
	if err := ix.checkWriter(); err != nil {
		return false, err
	}
	if id == "" {
		return false, ragerrors.ValidationError("document id is empty", nil)
	}
	if len(vector) == 0 {
		return false, ragerrors.ValidationError("vector is empty", nil)
	}

	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	// Only this goroutine mutates while wmu is held, so reads need no mu.
	if ix.state == StateUninitialized {
		return false, ragerrors.New(ragerrors.ErrCodeIndexFailed, "index not loaded", nil).
			WithSuggestion("call Load before Add")
	}
	if _, ok := ix.rows[id]; ok {
		return false, nil
	}
	dim := ix.dim
	if dim == 0 {
		dim = len(vector)
	} else if len(vector) != dim {
		return false, ragerrors.DimensionMismatch(dim, len(vector)).WithDetail("doc_id", id)
	}

	row := append([]float32(nil), vector...)
	ids := append(ix.ids[:len(ix.ids):len(ix.ids)], id)
	crc, err := ix.files.appendRow(ix.persistedRows, ix.persistedCRC, dim, row, ix.metadata(dim, ids))
	if err != nil {
		return false, ragerrors.New(ragerrors.ErrCodePersistFailed, "failed to persist index row", err).
			WithDetail("doc_id", id)
	}

	ix.mu.Lock()
	ix.dim = dim
	ix.ids = ids
	ix.rows[id] = len(ids) - 1
	ix.matrix = append(ix.matrix, row...)
	ix.state = StatePopulated
	ix.mu.Unlock()

	ix.persistedRows = len(ids)
	ix.persistedCRC = crc
	return true, nil
}

// Rebuild replaces the whole index with ids and vectors, in that order.
// Duplicate identifiers keep their first occurrence. The new state is
// persisted before it is swapped in; until then searches keep using the
// old state, and on error the old state stays in place.
func (ix *Index) Rebuild(ctx context.Context, ids []string, vectors [][]float32) error {
	if err := ix.checkWriter(); err != nil {
		return err
	}
	if len(ids) != len(vectors) {
		return ragerrors.ValidationError(
			fmt.Sprintf("rebuild got %d ids for %d vectors", len(ids), len(vectors)), nil)
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return ragerrors.ValidationError("vector is empty", nil).WithDetail("doc_id", ids[0])
		}
	}
	newIDs := make([]string, 0, len(ids))
	newRows := make(map[string]int, len(ids))
	matrix := make([]float32, 0, len(ids)*dim)
	for i, id := range ids {
		if len(vectors[i]) != dim {
			return ragerrors.DimensionMismatch(dim, len(vectors[i])).WithDetail("doc_id", id)
		}
		if _, dup := newRows[id]; dup {
			continue
		}
		newRows[id] = len(newIDs)
		newIDs = append(newIDs, id)
		matrix = append(matrix, vectors[i]...)
	}

	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	crc, err := ix.files.writeAll(dim, matrix, ix.metadata(dim, newIDs))
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodePersistFailed, "failed to persist rebuilt index", err)
	}

	ix.publish(dim, newIDs, newRows, matrix)
	ix.persistedRows = len(newIDs)
	ix.persistedCRC = crc

	ix.logger.Info("index_rebuilt",
		slog.Int("vectors", len(newIDs)),
		slog.Int("dimension", dim),
		slog.Int("duplicates_skipped", len(ids)-len(newIDs)))
	return nil
}

// Persist rewrites both artifacts from the in-memory state: the matrix
// first, then the metadata.
func (ix *Index) Persist() error {
	if err := ix.checkWriter(); err != nil {
		return err
	}
	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	crc, err := ix.files.writeAll(ix.dim, ix.matrix, ix.metadata(ix.dim, ix.ids))
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodePersistFailed, "failed to persist index", err)
	}
	ix.persistedRows = len(ix.ids)
	ix.persistedCRC = crc
	return nil
}

// publish swaps in a complete state. Must hold wmu.
func (ix *Index) publish(dim int, ids []string, rows map[string]int, matrix []float32) {
	state := StateEmpty
	if len(ids) > 0 {
		state = StatePopulated
	}
	if len(ids) == 0 {
		dim = 0
	}

	ix.mu.Lock()
	ix.dim = dim
	ix.ids = ids
	ix.rows = rows
	ix.matrix = matrix
	ix.state = state
	ix.mu.Unlock()
}

func (ix *Index) metadata(dim int, ids []string) Metadata {
	return Metadata{Dimension: dim, Identifiers: ids, Model: ix.model}
}

func (ix *Index) checkWriter() error {
	if !ix.writer {
		return ragerrors.New(ragerrors.ErrCodeIndexFailed, "index is open read-only", nil).
			WithSuggestion("only the embed stage and rebuild may modify the index")
	}
	return nil
}
