// Package kv wraps an embedded bbolt database behind the small transactional
// contract the engine consumes: named sorted collections, get/put/delete,
// ordered prefix scans, and explicit commit/rollback.
//
// The concurrency model is bbolt's: one write transaction at a time,
// any number of read transactions against a consistent snapshot. Writers
// serialize on transaction acquisition; readers never block writers.
package kv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrStoreFull is returned when a write transaction would grow the
	// store beyond the configured size limit. The transaction is rolled
	// back; the caller must not retry automatically.
	ErrStoreFull = errors.New("kv: store size limit exceeded")

	// ErrCollectionLimit is returned when creating a collection would
	// exceed the configured collection count.
	ErrCollectionLimit = errors.New("kv: collection limit exceeded")
)

// Options configures resource limits for an opened store.
type Options struct {
	// SizeLimit is the maximum store file size in bytes. 0 = unlimited.
	SizeLimit int64

	// MaxCollections is the maximum number of collections. 0 = unlimited.
	MaxCollections int

	// OpenTimeout bounds the wait for the file lock when another process
	// holds the store open. 0 = wait forever.
	OpenTimeout time.Duration
}

// DB is an explicitly owned store handle. Open it at startup, pass it into
// engine instances, and close it at shutdown.
type DB struct {
	db   *bolt.DB
	opts Options
}

// Open opens (creating if needed) the store file at path.
func Open(path string, opts Options) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	return &DB{db: db, opts: opts}, nil
}

// Close releases the store file. In-flight transactions finish first.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the store file path.
func (d *DB) Path() string {
	return d.db.Path()
}

// View runs fn in a read transaction against a fixed snapshot.
func (d *DB) View(fn func(*Tx) error) error {
	return d.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx, db: d})
	})
}

// Update runs fn in a write transaction. If fn returns an error, or the
// transaction would exceed the size limit, every change is rolled back.
func (d *DB) Update(fn func(*Tx) error) error {
	return d.db.Update(func(btx *bolt.Tx) error {
		tx := &Tx{btx: btx, db: d}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.checkSize()
	})
}

// Begin starts an explicit transaction. The caller must Commit or Rollback.
// Most callers should prefer View/Update.
func (d *DB) Begin(writable bool) (*Tx, error) {
	btx, err := d.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("kv: begin: %w", err)
	}
	return &Tx{btx: btx, db: d}, nil
}

// Tx is a single transaction. A Tx is not safe for concurrent use.
type Tx struct {
	btx *bolt.Tx
	db  *DB
}

// Writable reports whether this is a write transaction.
func (t *Tx) Writable() bool {
	return t.btx.Writable()
}

// Commit applies the transaction, enforcing the size limit first.
func (t *Tx) Commit() error {
	if err := t.checkSize(); err != nil {
		_ = t.btx.Rollback()
		return err
	}
	return t.btx.Commit()
}

// Rollback discards the transaction. Safe on read transactions.
func (t *Tx) Rollback() error {
	return t.btx.Rollback()
}

// WriteTo streams a consistent copy of the entire store to w.
func (t *Tx) WriteTo(w io.Writer) (int64, error) {
	return t.btx.WriteTo(w)
}

func (t *Tx) checkSize() error {
	if limit := t.db.opts.SizeLimit; limit > 0 && t.btx.Size() > limit {
		return ErrStoreFull
	}
	return nil
}

// Collection returns the named collection, creating it when absent in a
// write transaction. In a read transaction an absent collection yields a
// nil *Collection, whose read methods behave as empty.
func (t *Tx) Collection(name string) (*Collection, error) {
	b := t.btx.Bucket([]byte(name))
	if b != nil {
		return &Collection{b: b}, nil
	}
	if !t.btx.Writable() {
		return nil, nil
	}
	if max := t.db.opts.MaxCollections; max > 0 && t.collectionCount() >= max {
		return nil, ErrCollectionLimit
	}
	b, err := t.btx.CreateBucket([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("kv: create collection %q: %w", name, err)
	}
	return &Collection{b: b}, nil
}

// DeleteCollection drops the named collection and all its contents.
// Deleting an absent collection is a no-op.
func (t *Tx) DeleteCollection(name string) error {
	err := t.btx.DeleteBucket([]byte(name))
	if errors.Is(err, bolt.ErrBucketNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("kv: delete collection %q: %w", name, err)
	}
	return nil
}

func (t *Tx) collectionCount() int {
	n := 0
	_ = t.btx.ForEach(func(_ []byte, _ *bolt.Bucket) error {
		n++
		return nil
	})
	return n
}

// Collection is a sorted key space within a transaction.
type Collection struct {
	b *bolt.Bucket
}

// Get returns the value for key, or nil if absent. The returned slice is
// only valid for the duration of the transaction.
func (c *Collection) Get(key []byte) []byte {
	if c == nil {
		return nil
	}
	return c.b.Get(key)
}

// Put sets the value for key.
func (c *Collection) Put(key, value []byte) error {
	if err := c.b.Put(key, value); err != nil {
		return fmt.Errorf("kv: put: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (c *Collection) Delete(key []byte) error {
	if err := c.b.Delete(key); err != nil {
		return fmt.Errorf("kv: delete: %w", err)
	}
	return nil
}

// Scan calls fn for every key with the given prefix, in ascending key
// order. A nil prefix scans the whole collection. Returning an error from
// fn stops the scan and propagates the error.
func (c *Collection) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if c == nil {
		return nil
	}
	cur := c.b.Cursor()
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}
