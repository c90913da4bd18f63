package ir

import (
	"encoding/json"
	"strings"
)

// Entry is one drop record: an ordered set of field/value pairs.
// Field order is the template order; fields set outside the template are
// appended in the order they were first set.
type Entry struct {
	fields []string
	values map[string]string
}

// NewEntry creates an empty entry with the given field order.
func NewEntry(fields []string) *Entry {
	e := &Entry{
		fields: make([]string, 0, len(fields)),
		values: make(map[string]string, len(fields)),
	}
	for _, f := range fields {
		if _, ok := e.values[f]; ok {
			continue
		}
		e.fields = append(e.fields, f)
		e.values[f] = ""
	}
	return e
}

// EntryFromMap creates an entry with the given field order and values.
// Keys of m that are not in fields are ignored.
func EntryFromMap(fields []string, m map[string]string) *Entry {
	e := NewEntry(fields)
	for _, f := range e.fields {
		e.values[f] = m[f]
	}
	return e
}

// Get returns the value of a field ("" if absent).
func (e *Entry) Get(field string) string {
	return e.values[field]
}

// Has reports whether the field is part of the entry.
func (e *Entry) Has(field string) bool {
	_, ok := e.values[field]
	return ok
}

// Set assigns a field, appending it to the field order if new.
func (e *Entry) Set(field, value string) {
	if _, ok := e.values[field]; !ok {
		e.fields = append(e.fields, field)
	}
	e.values[field] = value
}

// SetKnown assigns a field only if it is already part of the entry.
// Returns false when the field is unknown.
func (e *Entry) SetKnown(field, value string) bool {
	if _, ok := e.values[field]; !ok {
		return false
	}
	e.values[field] = value
	return true
}

// Trimmed returns the value of a field with surrounding whitespace removed.
func (e *Entry) Trimmed(field string) string {
	return strings.TrimSpace(e.values[field])
}

// Fields returns the field names in order.
func (e *Entry) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Values returns values aligned with the given field list.
func (e *Entry) Values(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = e.values[f]
	}
	return out
}

// Map returns a copy of the values keyed by field.
func (e *Entry) Map() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := &Entry{
		fields: e.Fields(),
		values: e.Map(),
	}
	return c
}

// MarshalJSON encodes the entry as an object in field order.
func (e *Entry) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range e.fields {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.values[f])
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}
