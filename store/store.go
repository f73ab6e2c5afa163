package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lattice-db/lattice/kv"
)

// Store provides the operation set for one entity schema over an
// embedded transactional key-value store. Every mutation applies the
// record change and all composite-index changes inside one transaction;
// readers never observe a partially applied mutation.
type Store struct {
	db     *kv.DB
	schema *Schema
	owned  bool
}

// New binds a schema to an already opened store handle. The handle stays
// owned by the caller (open at start, close at shutdown). Collections
// for the records and every composite index are created up front, so
// collection-limit errors surface here rather than mid-mutation.
func New(db *kv.DB, schema *Schema) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	err := db.Update(func(tx *kv.Tx) error {
		if _, err := tx.Collection(schema.recordCollection()); err != nil {
			return err
		}
		for _, c := range schema.Composites {
			if _, err := tx.Collection(schema.indexCollection(c.Name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, schema: schema}, nil
}

// Open is a convenience that opens the store file from cfg and binds the
// schema to it. The returned store owns the handle; Close releases it.
func Open(cfg Config, schema *Schema) (*Store, error) {
	db, err := kv.Open(cfg.Path, kv.Options{
		SizeLimit:      cfg.SizeLimit,
		MaxCollections: cfg.MaxCollections,
	})
	if err != nil {
		return nil, err
	}
	s, err := New(db, schema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close releases the store handle if this store owns it (see Open).
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// Schema returns the schema this store serves.
func (s *Store) Schema() *Schema {
	return s.schema
}

// DB exposes the underlying handle for maintenance tooling (snapshots).
func (s *Store) DB() *kv.DB {
	return s.db
}

// Insert validates fields, generates an identifier, and writes the
// record plus its membership in every composite index atomically.
// Insert is not idempotent: retrying a failed insert creates a second
// record under a new identifier.
func (s *Store) Insert(fields Record) (uuid.UUID, error) {
	rec, err := s.schema.validateInsert(fields)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := newID()
	if err != nil {
		return uuid.Nil, err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return uuid.Nil, err
	}

	err = s.db.Update(func(tx *kv.Tx) error {
		records, err := tx.Collection(s.schema.recordCollection())
		if err != nil {
			return err
		}
		if err := records.Put(id[:], data); err != nil {
			return err
		}
		return s.indexInsert(tx, id, rec)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get returns the record for id, or ErrNotFound.
func (s *Store) Get(id uuid.UUID) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *kv.Tx) error {
		records, err := tx.Collection(s.schema.recordCollection())
		if err != nil {
			return err
		}
		data := records.Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		rec, err = s.schema.decodeRecord(id, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update replaces the supplied fields of the record, leaving others
// untouched. Index entries of every definition whose key-participating
// fields changed are moved from the old key to the new key in the same
// transaction as the record write.
func (s *Store) Update(id uuid.UUID, fields Record) (Record, error) {
	patch, err := s.schema.validatePartial(fields)
	if err != nil {
		return nil, err
	}

	var rec Record
	err = s.db.Update(func(tx *kv.Tx) error {
		records, err := tx.Collection(s.schema.recordCollection())
		if err != nil {
			return err
		}
		data := records.Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		old, err := s.schema.decodeRecord(id, data)
		if err != nil {
			return err
		}

		merged := old.clone()
		for k, v := range patch {
			merged[k] = v
		}

		newData, err := encodeRecord(merged)
		if err != nil {
			return err
		}
		if err := records.Put(id[:], newData); err != nil {
			return err
		}
		if err := s.indexUpdate(tx, id, old, merged); err != nil {
			return err
		}
		rec = merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record and its membership in every composite
// index, pruning entries whose identifier set becomes empty.
func (s *Store) Delete(id uuid.UUID) error {
	return s.db.Update(func(tx *kv.Tx) error {
		records, err := tx.Collection(s.schema.recordCollection())
		if err != nil {
			return err
		}
		data := records.Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		old, err := s.schema.decodeRecord(id, data)
		if err != nil {
			return err
		}
		if err := records.Delete(id[:]); err != nil {
			return err
		}
		return s.indexDelete(tx, id, old)
	})
}

// errInvalidRecordKey guards against foreign data in the records
// collection; every key must be a 16-byte identifier.
var errInvalidRecordKey = errors.New("lattice: malformed record key")

func recordID(key []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(key)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %x", errInvalidRecordKey, key)
	}
	return id, nil
}
