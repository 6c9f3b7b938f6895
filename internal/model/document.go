package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the loosely-typed "doc" object of a change notification.
// Numbers are kept as json.Number so re-encoding is lossless.
type Document map[string]any

// String returns the value at key if it is a non-empty string.
func (d Document) String(key string) string {
	if d == nil {
		return ""
	}
	s, _ := d[key].(string)
	return s
}

// FirstString returns the first non-empty string found under keys.
func (d Document) FirstString(keys ...string) string {
	for _, k := range keys {
		if s := d.String(k); s != "" {
			return s
		}
	}
	return ""
}

// Clone returns a shallow copy. Nested values are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Decode re-encodes the document and unmarshals it into v.
func (d Document) Decode(v any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// objectID extracts an upstream identifier. MongoDB change streams emit
// either a plain string or an extended-JSON {"$oid": "..."} object.
func objectID(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if oid, ok := val["$oid"].(string); ok {
			return oid
		}
	}
	return ""
}
