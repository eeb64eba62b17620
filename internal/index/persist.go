package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Artifact names inside the index directory.
const (
	MatrixFile   = "index.f32"
	MetadataFile = "index.meta.json"
	LockFile     = "index.lock"
)

// Metadata is the persisted identifier list. Identifiers[i] names row i of
// the matrix artifact. MatrixBytes and Checksum describe the exact matrix
// the list was written against; a matrix that differs in either is not
// served with it.
type Metadata struct {
	Dimension   int       `json:"dimension"`
	Identifiers []string  `json:"identifiers"`
	MatrixBytes int64     `json:"matrix_bytes"`
	Checksum    uint32    `json:"matrix_crc32"`
	Model       string    `json:"model,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type files struct {
	dir    string
	matrix string
	meta   string
	lock   string
}

func newFiles(dir string) files {
	return files{
		dir:    dir,
		matrix: filepath.Join(dir, MatrixFile),
		meta:   filepath.Join(dir, MetadataFile),
		lock:   filepath.Join(dir, LockFile),
	}
}

// writeAll replaces both artifacts, matrix first. Each is written to a
// temp file and renamed into place, so a crash leaves either the old or
// the new version of each file and never a torn one. A crash between the
// two renames leaves a new matrix under old metadata, which Load rejects
// by checksum. The returned checksum covers the whole matrix.
func (f files) writeAll(dim int, matrix []float32, meta Metadata) (uint32, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create index dir: %w", err)
	}
	if dim > 0 && len(matrix)%dim != 0 {
		return 0, fmt.Errorf("matrix length %d is not a multiple of dimension %d", len(matrix), dim)
	}

	var buf bytes.Buffer
	buf.Grow(len(matrix) * 4)
	if err := binary.Write(&buf, binary.LittleEndian, matrix); err != nil {
		return 0, fmt.Errorf("failed to encode matrix: %w", err)
	}
	meta.MatrixBytes = int64(buf.Len())
	meta.Checksum = crc32.ChecksumIEEE(buf.Bytes())

	err := writeAtomic(f.matrix, func(w *bufio.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write matrix: %w", err)
	}
	if err := f.writeMeta(meta); err != nil {
		return 0, err
	}
	return meta.Checksum, syncDir(f.dir)
}

// appendRow persists one more row: the matrix file is cut back to the
// rows the current metadata vouches for, the row is appended and synced,
// and only then is the metadata replaced. A leftover tail from an earlier
// failed append is overwritten. persistedCRC is the checksum of the first
// persistedRows rows; the returned checksum extends it over the new row.
func (f files) appendRow(persistedRows int, persistedCRC uint32, dim int, row []float32, meta Metadata) (uint32, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create index dir: %w", err)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, row); err != nil {
		return 0, fmt.Errorf("failed to encode row: %w", err)
	}

	mf, err := os.OpenFile(f.matrix, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open matrix: %w", err)
	}
	offset := int64(persistedRows) * int64(dim) * 4
	if err := mf.Truncate(offset); err != nil {
		_ = mf.Close()
		return 0, fmt.Errorf("failed to truncate matrix: %w", err)
	}
	if _, err := mf.WriteAt(buf.Bytes(), offset); err != nil {
		_ = mf.Close()
		return 0, fmt.Errorf("failed to append row: %w", err)
	}
	if err := mf.Sync(); err != nil {
		_ = mf.Close()
		return 0, fmt.Errorf("failed to sync matrix: %w", err)
	}
	if err := mf.Close(); err != nil {
		return 0, fmt.Errorf("failed to close matrix: %w", err)
	}

	meta.MatrixBytes = offset + int64(buf.Len())
	meta.Checksum = crc32.Update(persistedCRC, crc32.IEEETable, buf.Bytes())
	if err := f.writeMeta(meta); err != nil {
		return 0, err
	}
	return meta.Checksum, nil
}

func (f files) writeMeta(meta Metadata) error {
	if meta.Identifiers == nil {
		meta.Identifiers = []string{}
	}
	meta.UpdatedAt = time.Now().UTC()
	err := writeAtomic(f.meta, func(w *bufio.Writer) error {
		return json.NewEncoder(w).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// readMeta returns the metadata, or nil when the artifact does not exist.
func (f files) readMeta() (*Metadata, error) {
	data, err := os.ReadFile(f.meta)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.Dimension < 0 {
		return nil, fmt.Errorf("invalid dimension in metadata: %d", meta.Dimension)
	}
	return &meta, nil
}

// matrixArtifact is the decoded matrix with the size and checksum of the
// bytes it was decoded from.
type matrixArtifact struct {
	values   []float32
	size     int64
	checksum uint32
}

// readMatrix returns the row-major matrix, or a zero artifact when the
// file does not exist. A size that is not a whole number of rows is an
// error.
func (f files) readMatrix(dim int) (matrixArtifact, error) {
	file, err := os.Open(f.matrix)
	if errors.Is(err, fs.ErrNotExist) {
		return matrixArtifact{}, nil
	}
	if err != nil {
		return matrixArtifact{}, fmt.Errorf("failed to open matrix: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(bufio.NewReader(file))
	if err != nil {
		return matrixArtifact{}, fmt.Errorf("failed to read matrix: %w", err)
	}
	size := int64(len(data))
	if size == 0 {
		return matrixArtifact{values: []float32{}}, nil
	}
	if dim <= 0 || size%(int64(dim)*4) != 0 {
		return matrixArtifact{}, fmt.Errorf("matrix size %d is not a whole number of %d-dim rows", size, dim)
	}

	out := make([]float32, size/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return matrixArtifact{}, fmt.Errorf("failed to decode matrix: %w", err)
	}
	return matrixArtifact{values: out, size: size, checksum: crc32.ChecksumIEEE(data)}, nil
}

// matrixSize returns the matrix artifact size, or -1 if it does not exist.
func (f files) matrixSize() int64 {
	st, err := os.Stat(f.matrix)
	if err != nil {
		return -1
	}
	return st.Size()
}

func writeAtomic(path string, write func(*bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	w := bufio.NewWriter(tmp)
	if err := write(w); err != nil {
		cleanup()
		return err
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	// Directory fsync is unsupported on some platforms; the renames are
	// already done, so a failure here is not reported.
	_ = d.Sync()
	return nil
}
