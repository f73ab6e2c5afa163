package store

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-db/lattice/kv"
)

// Page bounds a result window after sorting. Limit 0 means no limit.
// Page order is stable across repeated calls absent intervening writes,
// because results always carry a total order ending in the identifier.
type Page struct {
	Offset int
	Limit  int
}

// Query is an equality predicate over fields with optional ordering and
// pagination.
type Query struct {
	// Equals matches records whose fields equal every given value.
	Equals Record

	// SortField orders results by the named field (identifier as
	// tie-break). Empty means identifier order.
	SortField string

	// Descending reverses the order.
	Descending bool

	Page Page
}

// Filter executes the query. If the predicate covers a leading prefix of
// some composite definition the matching index is used: an exact entry
// lookup for a full key, a prefix scan for a partial one. Otherwise the
// records collection is scanned in identifier order. When several
// definitions match, the one covering the most leading fields wins
// (narrowest candidate set), then declaration order.
func (s *Store) Filter(q Query) ([]Record, error) {
	equals, err := s.schema.validatePartial(q.Equals)
	if err != nil {
		return nil, err
	}
	if q.SortField != "" {
		if _, ok := s.schema.field(q.SortField); !ok {
			return nil, &ValidationError{Field: q.SortField, Reason: "not declared by schema"}
		}
	}

	def, matched := s.planComposite(equals)

	var recs []Record
	err = s.db.View(func(tx *kv.Tx) error {
		var err error
		if def != nil {
			recs, err = s.fetchByComposite(tx, *def, matched, equals)
		} else {
			recs, err = s.scanRecords(tx, equals)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sortRecords(recs, q.SortField, q.Descending)
	return applyPage(recs, q.Page), nil
}

// FilterByComposite queries one named definition directly. The supplied
// fields must form a leading prefix of the definition: all fields for an
// exact lookup, a leading subset for a prefix scan that unions every
// matching entry.
func (s *Store) FilterByComposite(composite string, equals Record, page Page) ([]Record, error) {
	def, ok := s.schema.composite(composite)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComposite, composite)
	}
	fields, err := s.schema.validatePartial(equals)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 || len(fields) > len(def.Fields) {
		return nil, &ValidationError{Field: composite, Reason: "predicate must cover a leading prefix of the definition"}
	}
	for _, name := range def.Fields[:len(fields)] {
		if _, ok := fields[name]; !ok {
			return nil, &ValidationError{Field: name, Reason: "predicate must cover a leading prefix of the definition"}
		}
	}

	var recs []Record
	err = s.db.View(func(tx *kv.Tx) error {
		var err error
		recs, err = s.fetchByComposite(tx, def, len(fields), fields)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sortRecords(recs, "", false)
	return applyPage(recs, page), nil
}

// planComposite returns the definition whose leading fields are best
// covered by the predicate, with the covered count. nil means no index
// applies and the caller must scan.
func (s *Store) planComposite(equals Record) (*Composite, int) {
	var best *Composite
	bestMatched := 0
	for i := range s.schema.Composites {
		def := &s.schema.Composites[i]
		matched := 0
		for _, name := range def.Fields {
			if _, ok := equals[name]; !ok {
				break
			}
			matched++
		}
		if matched > bestMatched {
			best, bestMatched = def, matched
		}
	}
	return best, bestMatched
}

// fetchByComposite materializes candidates from one index and applies
// any predicate fields the index prefix did not cover.
func (s *Store) fetchByComposite(tx *kv.Tx, def Composite, matched int, equals Record) ([]Record, error) {
	idx, err := tx.Collection(s.schema.indexCollection(def.Name))
	if err != nil {
		return nil, err
	}

	var prefix []byte
	for _, name := range def.Fields[:matched] {
		f, _ := s.schema.field(name)
		prefix = appendKeyValue(prefix, f.Kind, equals[name])
	}

	var ids []uuid.UUID
	if matched == len(def.Fields) {
		ids = idSetIDs(idx.Get(prefix))
	} else {
		err = idx.Scan(prefix, func(_, set []byte) error {
			ids = append(ids, idSetIDs(set)...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	residual := make(Record)
	covered := make(map[string]bool, matched)
	for _, name := range def.Fields[:matched] {
		covered[name] = true
	}
	for name, v := range equals {
		if !covered[name] {
			residual[name] = v
		}
	}

	records, err := tx.Collection(s.schema.recordCollection())
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		data := records.Get(id[:])
		if data == nil {
			// An index entry names an identifier with no record.
			return nil, fmt.Errorf("lattice: index %q names missing record %s: %w",
				def.Name, id, ErrIndexInconsistent)
		}
		rec, err := s.schema.decodeRecord(id, data)
		if err != nil {
			return nil, err
		}
		if len(residual) > 0 && !recordMatches(rec, residual) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// scanRecords is the fallback: an ordered full scan applying the
// predicate per record.
func (s *Store) scanRecords(tx *kv.Tx, equals Record) ([]Record, error) {
	records, err := tx.Collection(s.schema.recordCollection())
	if err != nil {
		return nil, err
	}
	var out []Record
	err = records.Scan(nil, func(key, data []byte) error {
		id, err := recordID(key)
		if err != nil {
			return err
		}
		rec, err := s.schema.decodeRecord(id, data)
		if err != nil {
			return err
		}
		if recordMatches(rec, equals) {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func recordMatches(rec Record, equals Record) bool {
	for name, want := range equals {
		have, ok := rec[name]
		if !ok {
			return false
		}
		if !valuesEqual(have, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// sortRecords orders by the named field with identifier tie-break, or by
// identifier alone, guaranteeing a total order for stable pagination.
func (s *Store) sortRecords(recs []Record, sortField string, descending bool) {
	var kind Kind
	if sortField != "" {
		f, _ := s.schema.field(sortField)
		kind = f.Kind
	}
	sort.SliceStable(recs, func(i, j int) bool {
		less := false
		done := false
		if sortField != "" {
			if c := compareValues(kind, recs[i][sortField], recs[j][sortField]); c != 0 {
				less, done = c < 0, true
			}
		}
		if !done {
			a, b := recs[i].ID(), recs[j].ID()
			less = bytes.Compare(a[:], b[:]) < 0
		}
		if descending {
			return !less
		}
		return less
	})
}

// compareValues orders two canonical values of one kind; absent (nil)
// sorts first, matching the index key encoding.
func compareValues(kind Kind, a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch kind {
	case KindString:
		av, bv := a.(string), b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case KindInt:
		av, bv := a.(int64), b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case KindFloat:
		av, bv := a.(float64), b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case KindBool:
		av, bv := a.(bool), b.(bool)
		switch {
		case !av && bv:
			return -1
		case av && !bv:
			return 1
		}
	case KindTime:
		av, bv := a.(time.Time), b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		}
	}
	return 0
}

func applyPage(recs []Record, p Page) []Record {
	if p.Offset > 0 {
		if p.Offset >= len(recs) {
			return []Record{}
		}
		recs = recs[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(recs) {
		recs = recs[:p.Limit]
	}
	return recs
}
