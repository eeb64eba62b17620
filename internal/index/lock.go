package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// writerLock is the cross-process advisory lock that keeps a second
// writer (another embed consumer, or a rebuild while one runs) from
// interleaving appends with ours.
type writerLock struct {
	flock *flock.Flock
}

func acquireWriterLock(path string) (*writerLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire index lock: %w", err)
	}
	if !acquired {
		return nil, ragerrors.New(ragerrors.ErrCodeIndexLocked, "index is locked by another writer", nil).
			WithDetail("lock", path).
			WithSuggestion("stop the running embed stage or rebuild before starting another writer")
	}
	return &writerLock{flock: fl}, nil
}

func (l *writerLock) release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release index lock: %w", err)
	}
	return nil
}
