package virtops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
)

// StatusKey is the document key holding a record's status.
const StatusKey = "status"

// Fields holds a record's type-specific payload keyed by field name. Values
// are JSON-shaped: strings, float64 numbers, bools, nil, []any and
// map[string]any.
type Fields map[string]any

// Record is one managed entity's state snapshot. It serializes as a flat
// document: the status sits next to the payload fields.
type Record struct {
	Status Status
	Fields Fields
}

// NewRecord returns an active record holding a normalized copy of fields.
func NewRecord(fields Fields) (*Record, error) {
	norm, err := NormalizeFields(fields)
	if err != nil {
		return nil, err
	}
	return &Record{Status: StatusActive, Fields: norm}, nil
}

// MustRecord is NewRecord for literals that are known to be valid.
func MustRecord(status Status, fields Fields) *Record {
	r, err := NewRecord(fields)
	if err != nil {
		panic(err)
	}
	r.Status = status
	return r
}

func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Fields)+1)
	maps.Copy(doc, r.Fields)
	status := r.Status
	if status == 0 {
		status = StatusActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid entity status %d", status)
	}
	doc[StatusKey] = status.String()
	return json.Marshal(doc)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("entity record must be a JSON object")
	}
	status := StatusActive
	if raw, ok := doc[StatusKey]; ok {
		s, isString := raw.(string)
		if !isString {
			return fmt.Errorf("entity status must be a string, got %T", raw)
		}
		parsed, ok := ParseStatus(s)
		if !ok {
			return fmt.Errorf("invalid entity status: %q", s)
		}
		status = parsed
		delete(doc, StatusKey)
	}
	r.Status = status
	r.Fields = Fields(doc)
	return nil
}

// Clone returns a deep copy of r. A nil record clones to nil.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{Status: r.Status, Fields: make(Fields, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = cloneValue(v)
	}
	return out
}

// Equal reports structural, field-by-field equality of two records.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.Status != other.Status || len(r.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range r.Fields {
		ov, ok := other.Fields[k]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// WithStatus returns a copy of r carrying status.
func (r *Record) WithStatus(status Status) *Record {
	out := r.Clone()
	out.Status = status
	return out
}

// With returns a copy of r with key set to value.
func (r *Record) With(key string, value any) *Record {
	out := r.Clone()
	if out.Fields == nil {
		out.Fields = Fields{}
	}
	out.Fields[key] = normalizeValue(value)
	return out
}

// Decode unmarshals the record's fields into v, a pointer to a struct with
// json tags.
func (r *Record) Decode(v any) error {
	data, err := json.Marshal(map[string]any(r.Fields))
	if err != nil {
		return fmt.Errorf("encode record fields: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record fields: %w", err)
	}
	return nil
}

// Encode builds a record from v, a struct with json tags, and status.
func Encode(v any, status Status) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record fields: %w", err)
	}
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode record fields: %w", err)
	}
	delete(fields, StatusKey)
	return &Record{Status: status, Fields: fields}, nil
}

// NormalizeFields rewrites values into their JSON shape so that a record
// decoded from YAML or TOML compares equal to one decoded from JSON.
func NormalizeFields(fields Fields) (Fields, error) {
	if fields == nil {
		return Fields{}, nil
	}
	data, err := json.Marshal(map[string]any(fields))
	if err != nil {
		return nil, fmt.Errorf("normalize fields: %w", err)
	}
	var out Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize fields: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return normalizeValue(v)
	}
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}
