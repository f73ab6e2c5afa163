package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record holds the field values of one entity. Values are kept in their
// canonical Go types: string, int64, float64, bool, time.Time. The
// FieldID key carries the uuid.UUID identifier on records returned by
// the store.
type Record map[string]any

// ID returns the record's identifier, or uuid.Nil if unset.
func (r Record) ID() uuid.UUID {
	id, _ := r[FieldID].(uuid.UUID)
	return id
}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// validateInsert checks that every required field is present and every
// supplied value matches its declared kind. It returns a coerced copy.
func (s *Schema) validateInsert(fields Record) (Record, error) {
	out, err := s.validatePartial(fields)
	if err != nil {
		return nil, err
	}
	for _, f := range s.Fields {
		if f.Required {
			if _, ok := out[f.Name]; !ok {
				return nil, &ValidationError{Field: f.Name, Reason: "required field missing"}
			}
		}
	}
	return out, nil
}

// validatePartial checks supplied fields only: each must be declared by
// the schema, not the identifier, and of the declared kind. It returns a
// coerced copy.
func (s *Schema) validatePartial(fields Record) (Record, error) {
	out := make(Record, len(fields))
	for name, value := range fields {
		if name == FieldID {
			return nil, &ValidationError{Field: FieldID, Reason: "identifier is system managed"}
		}
		f, ok := s.field(name)
		if !ok {
			return nil, &ValidationError{Field: name, Reason: "not declared by schema"}
		}
		cv, err := coerceValue(f, value)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

// coerceValue normalizes a caller-supplied value to the canonical type
// for the field's kind.
func coerceValue(f Field, v any) (any, error) {
	if v == nil {
		return nil, &ValidationError{Field: f.Name, Reason: "value is nil"}
	}
	switch f.Kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	}
	return nil, &ValidationError{
		Field:  f.Name,
		Reason: fmt.Sprintf("expected %s, got %T", f.Kind, v),
	}
}

// encodeRecord serializes a record's fields (without the identifier; the
// identifier is the storage key). Times are stored as RFC 3339 strings.
func encodeRecord(r Record) ([]byte, error) {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if k == FieldID {
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		out[k] = v
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("lattice: encode record: %w", err)
	}
	return data, nil
}

// decodeRecord deserializes stored bytes back into canonical types,
// using the schema to restore integer and time values that JSON cannot
// represent distinctly.
func (s *Schema) decodeRecord(id uuid.UUID, data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("lattice: decode record %s: %w", id, err)
	}

	rec := make(Record, len(raw)+1)
	for k, v := range raw {
		f, ok := s.field(k)
		if !ok {
			// Field no longer declared; keep the raw value.
			rec[k] = v
			continue
		}
		cv, err := decodeStored(f, v)
		if err != nil {
			return nil, fmt.Errorf("lattice: decode record %s: %w", id, err)
		}
		rec[k] = cv
	}
	rec[FieldID] = id
	return rec, nil
}

func decodeStored(f Field, v any) (any, error) {
	switch f.Kind {
	case KindInt:
		if n, ok := v.(json.Number); ok {
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			return i, nil
		}
	case KindFloat:
		if n, ok := v.(json.Number); ok {
			fl, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			return fl, nil
		}
	case KindTime:
		if s, ok := v.(string); ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			return t.UTC(), nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("field %q: stored value %T does not match kind %s", f.Name, v, f.Kind)
}
