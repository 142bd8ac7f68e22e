package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Value is one field's value in a record: either a scalar or the rows of
// a table. Rows is non-nil iff the schema declares the field as a table.
type Value struct {
	Scalar *Scalar
	Rows   []Record
}

// Record is one document's typed field values keyed by field name. Fields
// absent from the map are unlabeled (never reviewed), which is distinct
// from a present field holding a null scalar.
type Record map[string]Value

// ParseRecord interprets a generic JSON record against a schema. The
// schema drives decoding directly; records never become dynamically built
// types. Unknown fields in the payload are ignored.
func ParseRecord(schema *DocSchema, raw json.RawMessage) (Record, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}

	rec := make(Record)
	for _, name := range schema.FieldNames() {
		fieldRaw, ok := generic[name]
		if !ok || string(fieldRaw) == "null" {
			continue
		}
		def, _ := schema.Lookup(name)

		if def.IsTable() {
			var rowsRaw []json.RawMessage
			if err := json.Unmarshal(fieldRaw, &rowsRaw); err != nil {
				return nil, fmt.Errorf("table field %q: %w", name, err)
			}
			rows := make([]Record, 0, len(rowsRaw))
			for i, rowRaw := range rowsRaw {
				row, err := ParseRecord(def.Table, rowRaw)
				if err != nil {
					return nil, fmt.Errorf("table field %q row %d: %w", name, i, err)
				}
				rows = append(rows, row)
			}
			rec[name] = Value{Rows: rows}
			continue
		}

		scalar, err := ParseScalar(def.Kind, fieldRaw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		rec[name] = Value{Scalar: scalar}
	}

	return rec, nil
}

// MarshalRecord writes a record in its manifest JSON form, with fields in
// schema order.
func MarshalRecord(schema *DocSchema, rec Record) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, name := range schema.FieldNames() {
		val, ok := rec[name]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		def, _ := schema.Lookup(name)
		if def.IsTable() {
			buf.WriteByte('[')
			for i, row := range val.Rows {
				if i > 0 {
					buf.WriteByte(',')
				}
				rowRaw, err := MarshalRecord(def.Table, row)
				if err != nil {
					return nil, fmt.Errorf("table field %q row %d: %w", name, i, err)
				}
				buf.Write(rowRaw)
			}
			buf.WriteByte(']')
			continue
		}

		scalarRaw, err := json.Marshal(val.Scalar)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		buf.Write(scalarRaw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RecordToSchema derives a schema from a fully-typed record. Table fields
// take their schema from the first row.
func RecordToSchema(rec Record, order []string) (*DocSchema, error) {
	schema := NewDocSchema()
	for _, name := range order {
		val, ok := rec[name]
		if !ok {
			continue
		}
		if val.Rows != nil {
			if len(val.Rows) == 0 {
				return nil, fmt.Errorf("table field %q has no rows to derive a schema from", name)
			}
			sub, err := RecordToSchema(val.Rows[0], recordFieldNames(val.Rows[0]))
			if err != nil {
				return nil, err
			}
			schema.Set(name, FieldDef{Table: sub})
			continue
		}
		if val.Scalar == nil {
			return nil, fmt.Errorf("field %q has neither scalar nor rows", name)
		}
		schema.Set(name, FieldDef{Kind: val.Scalar.Kind})
	}
	return schema, nil
}

func recordFieldNames(rec Record) []string {
	names := make([]string, 0, len(rec))
	for name := range rec {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
