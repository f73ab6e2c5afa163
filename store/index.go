package store

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-db/lattice/internal/keycodec"
	"github.com/lattice-db/lattice/kv"
)

// compositeKey encodes the ordered field tuple of rec for the given
// definition. An absent (optional) field encodes as a distinct marker
// that sorts before every present value.
func (s *Schema) compositeKey(def Composite, rec Record) []byte {
	var key []byte
	for _, name := range def.Fields {
		f, _ := s.field(name)
		key = appendKeyValue(key, f.Kind, rec[name])
	}
	return key
}

// appendKeyValue encodes one canonical value. Values reaching here have
// passed validation/decoding, so the type switches are exhaustive.
func appendKeyValue(b []byte, kind Kind, v any) []byte {
	if v == nil {
		return keycodec.AppendAbsent(b)
	}
	switch kind {
	case KindString:
		return keycodec.AppendString(b, v.(string))
	case KindInt:
		return keycodec.AppendInt(b, v.(int64))
	case KindFloat:
		return keycodec.AppendFloat(b, v.(float64))
	case KindBool:
		return keycodec.AppendBool(b, v.(bool))
	case KindTime:
		return keycodec.AppendTime(b, v.(time.Time))
	}
	return keycodec.AppendAbsent(b)
}

// Index entries hold their member identifiers as a sorted list of
// fixed-width 16-byte ids. The serialization is deterministic, so two
// entries with the same membership are byte identical.

const idWidth = 16

func idSetIDs(set []byte) []uuid.UUID {
	n := len(set) / idWidth
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		var id uuid.UUID
		copy(id[:], set[i*idWidth:(i+1)*idWidth])
		ids = append(ids, id)
	}
	return ids
}

func idSetSearch(set []byte, id uuid.UUID) (pos int, found bool) {
	n := len(set) / idWidth
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(set[i*idWidth:(i+1)*idWidth], id[:]) >= 0
	})
	if i < n && bytes.Equal(set[i*idWidth:(i+1)*idWidth], id[:]) {
		return i, true
	}
	return i, false
}

// idSetInsert returns a new set with id added at its sorted position.
// Inserting a member already present returns an equal copy.
func idSetInsert(set []byte, id uuid.UUID) []byte {
	pos, found := idSetSearch(set, id)
	out := make([]byte, 0, len(set)+idWidth)
	out = append(out, set[:pos*idWidth]...)
	if !found {
		out = append(out, id[:]...)
	} else {
		out = append(out, set[pos*idWidth:(pos+1)*idWidth]...)
		pos++
	}
	return append(out, set[pos*idWidth:]...)
}

// idSetRemove returns a new set without id. Removing an absent member
// returns an equal copy.
func idSetRemove(set []byte, id uuid.UUID) []byte {
	pos, found := idSetSearch(set, id)
	if !found {
		return append([]byte(nil), set...)
	}
	out := make([]byte, 0, len(set)-idWidth)
	out = append(out, set[:pos*idWidth]...)
	return append(out, set[(pos+1)*idWidth:]...)
}

// entryAdd adds id to the entry at key, creating the entry if absent.
func entryAdd(col *kv.Collection, key []byte, id uuid.UUID) error {
	return col.Put(key, idSetInsert(col.Get(key), id))
}

// entryRemove removes id from the entry at key, pruning the entry when
// its set becomes empty.
func entryRemove(col *kv.Collection, key []byte, id uuid.UUID) error {
	set := idSetRemove(col.Get(key), id)
	if len(set) == 0 {
		return col.Delete(key)
	}
	return col.Put(key, set)
}

// indexInsert adds id to every definition's entry for rec.
func (s *Store) indexInsert(tx *kv.Tx, id uuid.UUID, rec Record) error {
	for _, def := range s.schema.Composites {
		col, err := tx.Collection(s.schema.indexCollection(def.Name))
		if err != nil {
			return err
		}
		if err := entryAdd(col, s.schema.compositeKey(def, rec), id); err != nil {
			return err
		}
	}
	return nil
}

// indexUpdate moves id between entries for every definition whose key
// changed between old and new. Definitions whose participating fields
// are untouched are skipped.
func (s *Store) indexUpdate(tx *kv.Tx, id uuid.UUID, old, updated Record) error {
	for _, def := range s.schema.Composites {
		oldKey := s.schema.compositeKey(def, old)
		newKey := s.schema.compositeKey(def, updated)
		if bytes.Equal(oldKey, newKey) {
			continue
		}
		col, err := tx.Collection(s.schema.indexCollection(def.Name))
		if err != nil {
			return err
		}
		if err := entryRemove(col, oldKey, id); err != nil {
			return err
		}
		if err := entryAdd(col, newKey, id); err != nil {
			return err
		}
	}
	return nil
}

// indexDelete removes id from every definition's current entry for rec.
func (s *Store) indexDelete(tx *kv.Tx, id uuid.UUID, rec Record) error {
	for _, def := range s.schema.Composites {
		col, err := tx.Collection(s.schema.indexCollection(def.Name))
		if err != nil {
			return err
		}
		if err := entryRemove(col, s.schema.compositeKey(def, rec), id); err != nil {
			return err
		}
	}
	return nil
}
