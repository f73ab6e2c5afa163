package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Target is a destination for snapshot blobs.
type Target interface {
	// Put stores the blob read from r under name, replacing any
	// previous blob of that name.
	Put(ctx context.Context, name string, r io.Reader) error

	// Get opens the named blob for reading.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
}

// LocalTarget stores snapshots as files under a root directory. Writes
// go to a temporary file first and rename into place, so a crashed
// snapshot never leaves a truncated blob under its final name.
type LocalTarget struct {
	root string
}

// NewLocalTarget creates a target rooted at dir, creating it if needed.
func NewLocalTarget(dir string) (*LocalTarget, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return &LocalTarget{root: dir}, nil
}

func (t *LocalTarget) Put(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	final := filepath.Join(t.root, filepath.Base(name))
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, final)
}

func (t *LocalTarget) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(t.root, filepath.Base(name)))
}
