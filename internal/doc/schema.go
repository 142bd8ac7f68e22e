package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldDef is a single schema entry: either a scalar kind or a nested
// table schema. Nested object (non-list) fields are not supported; the
// only composite shape is a table, which is a list of rows conforming to
// the nested schema.
type FieldDef struct {
	Kind  Kind
	Table *DocSchema
}

// IsTable reports whether the field is a repeating table.
func (f FieldDef) IsTable() bool {
	return f.Table != nil
}

// MarshalJSON writes a scalar field as its kind string and a table field
// as a nested schema object.
func (f FieldDef) MarshalJSON() ([]byte, error) {
	if f.Table != nil {
		return json.Marshal(f.Table)
	}
	return json.Marshal(string(f.Kind))
}

// UnmarshalJSON accepts a kind string or a nested schema object.
func (f *FieldDef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var nested DocSchema
		if err := json.Unmarshal(data, &nested); err != nil {
			return err
		}
		f.Table = &nested
		return nil
	}

	var kind string
	if err := json.Unmarshal(data, &kind); err != nil {
		return err
	}
	if !Kind(kind).Valid() {
		return fmt.Errorf("unknown field kind %q", kind)
	}
	f.Kind = Kind(kind)
	return nil
}

// DocSchema is a recursively-typed field schema. Field order is preserved
// from the manifest: field creation and truncation (max-fields) are both
// order sensitive.
type DocSchema struct {
	fields map[string]FieldDef
	order  []string
}

// NewDocSchema creates an empty schema.
func NewDocSchema() *DocSchema {
	return &DocSchema{fields: make(map[string]FieldDef)}
}

// FieldNames returns field names in schema order.
func (s *DocSchema) FieldNames() []string {
	return s.order
}

// Lookup returns the definition of a named field.
func (s *DocSchema) Lookup(name string) (FieldDef, bool) {
	def, ok := s.fields[name]
	return def, ok
}

// Len returns the number of fields.
func (s *DocSchema) Len() int {
	return len(s.order)
}

// Set adds or replaces a field definition, appending new names to the
// schema order.
func (s *DocSchema) Set(name string, def FieldDef) {
	if s.fields == nil {
		s.fields = make(map[string]FieldDef)
	}
	if _, exists := s.fields[name]; !exists {
		s.order = append(s.order, name)
	}
	s.fields[name] = def
}

// Merge copies all fields from other into s, preserving other's order for
// names s does not already have.
func (s *DocSchema) Merge(other *DocSchema) {
	for _, name := range other.FieldNames() {
		def, _ := other.Lookup(name)
		s.Set(name, def)
	}
}

// MarshalJSON writes {"fields": {...}} with fields in schema order.
func (s *DocSchema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"fields":{`)
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(s.fields[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON reads {"fields": {...}}, preserving the key order of the
// source document.
func (s *DocSchema) UnmarshalJSON(data []byte) error {
	var outer struct {
		Fields json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return err
	}
	if len(outer.Fields) == 0 {
		return fmt.Errorf("schema has no fields object")
	}

	s.fields = make(map[string]FieldDef)
	s.order = nil

	dec := json.NewDecoder(bytes.NewReader(outer.Fields))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("schema fields must be an object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected schema key token %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		var def FieldDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		s.Set(name, def)
	}

	return nil
}
