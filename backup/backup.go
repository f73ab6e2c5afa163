// Package backup snapshots and restores store files through pluggable
// blob targets (local directory or S3). A snapshot is a zstd-compressed
// copy of the store taken inside a single read transaction, so it is
// consistent without blocking writers.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/lattice-db/lattice/kv"
)

// Snapshot streams a consistent compressed copy of the store to the
// target under the given name.
func Snapshot(ctx context.Context, db *kv.DB, target Target, name string) error {
	tx, err := db.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pr, pw := io.Pipe()
	go func() {
		zw, err := zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := tx.WriteTo(zw); err != nil {
			_ = zw.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(zw.Close())
	}()

	if err := target.Put(ctx, name, pr); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("backup: put %q: %w", name, err)
	}
	return nil
}

// Restore writes the named snapshot to path, atomically replacing any
// existing file. The path must not be an open store; callers open it
// afterwards.
func Restore(ctx context.Context, target Target, name, path string) error {
	rc, err := target.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("backup: get %q: %w", name, err)
	}
	defer rc.Close()

	zr, err := zstd.NewReader(rc)
	if err != nil {
		return fmt.Errorf("backup: decompress %q: %w", name, err)
	}
	defer zr.Close()

	tmp := path + ".restore"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if _, err := io.Copy(f, zr); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("backup: restore %q: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("backup: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}
