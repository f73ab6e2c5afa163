package store

import (
	"bytes"
	"fmt"

	"github.com/lattice-db/lattice/kv"
)

// RebuildIndex regenerates the named composite index from the records
// collection inside a single transaction: the old index is dropped, then
// every record is re-keyed in identifier order. The result fully
// replaces the previous contents, purging entries that no longer
// correspond to any record. Rebuilding is idempotent and safe to retry.
func (s *Store) RebuildIndex(composite string) error {
	def, ok := s.schema.composite(composite)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownComposite, composite)
	}
	name := s.schema.indexCollection(composite)

	return s.db.Update(func(tx *kv.Tx) error {
		if err := tx.DeleteCollection(name); err != nil {
			return err
		}
		idx, err := tx.Collection(name)
		if err != nil {
			return err
		}
		records, err := tx.Collection(s.schema.recordCollection())
		if err != nil {
			return err
		}
		return records.Scan(nil, func(key, data []byte) error {
			id, err := recordID(key)
			if err != nil {
				return err
			}
			rec, err := s.schema.decodeRecord(id, data)
			if err != nil {
				return err
			}
			return entryAdd(idx, s.schema.compositeKey(def, rec), id)
		})
	})
}

// VerifyIndex compares the stored index against a from-scratch
// recomputation from the records collection. A divergence (a missing
// entry, a stale entry, or a wrong membership set) yields an error
// wrapping ErrIndexInconsistent. The index is not modified; resolve by
// calling RebuildIndex.
func (s *Store) VerifyIndex(composite string) error {
	def, ok := s.schema.composite(composite)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownComposite, composite)
	}

	return s.db.View(func(tx *kv.Tx) error {
		records, err := tx.Collection(s.schema.recordCollection())
		if err != nil {
			return err
		}

		expected := make(map[string][]byte)
		err = records.Scan(nil, func(key, data []byte) error {
			id, err := recordID(key)
			if err != nil {
				return err
			}
			rec, err := s.schema.decodeRecord(id, data)
			if err != nil {
				return err
			}
			k := string(s.schema.compositeKey(def, rec))
			expected[k] = idSetInsert(expected[k], id)
			return nil
		})
		if err != nil {
			return err
		}

		idx, err := tx.Collection(s.schema.indexCollection(composite))
		if err != nil {
			return err
		}
		seen := 0
		err = idx.Scan(nil, func(key, set []byte) error {
			want, ok := expected[string(key)]
			if !ok {
				return fmt.Errorf("lattice: index %q: stale entry %x: %w",
					composite, key, ErrIndexInconsistent)
			}
			if !bytes.Equal(want, set) {
				return fmt.Errorf("lattice: index %q: entry %x has wrong membership: %w",
					composite, key, ErrIndexInconsistent)
			}
			seen++
			return nil
		})
		if err != nil {
			return err
		}
		if seen != len(expected) {
			return fmt.Errorf("lattice: index %q: %d entries missing: %w",
				composite, len(expected)-seen, ErrIndexInconsistent)
		}
		return nil
	})
}
