package label

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/docsift/docsift/internal/doc"
)

// DecodeOptions controls how platform labels are admitted while decoding
// rows back into records. The two flags form a two-level gate: predictions
// are skipped entirely unless AllowPredictions is set, and admitted
// predictions must still be confident unless AllowLowConfidence is set.
type DecodeOptions struct {
	AllowPredictions   bool
	AllowLowConfidence bool

	// FieldMapping renames wire fields to output names. The reverse
	// mapping resolves which wire field backs each output field while
	// reading rows.
	FieldMapping map[string]string

	Logger *slog.Logger
}

func (o DecodeOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// wireFieldFor resolves the wire field name backing an output field.
func (o DecodeOptions) wireFieldFor(outputName string) string {
	for wire, out := range o.FieldMapping {
		if out == outputName {
			return wire
		}
	}
	return outputName
}

// RemapSchema renames a schema's top-level fields through the forward
// mapping. Unmapped fields keep their names.
func RemapSchema(schema *doc.DocSchema, mapping map[string]string) *doc.DocSchema {
	if len(mapping) == 0 {
		return schema
	}
	out := doc.NewDocSchema()
	for _, name := range schema.FieldNames() {
		def, _ := schema.Lookup(name)
		target := name
		if mapped, ok := mapping[name]; ok {
			target = mapped
		}
		out.Set(target, def)
	}
	return out
}

// RowToRecord converts one platform row into a typed record conforming to
// the (output) schema. A failure decoding any single label nulls that
// field; a failure decoding the row's overall shape returns a nil record.
// Neither aborts the caller's loop.
func RowToRecord(row map[string]any, schema *doc.DocSchema, opts DecodeOptions) doc.Record {
	log := opts.logger()
	rec := make(doc.Record)
	for _, name := range schema.FieldNames() {
		def, _ := schema.Lookup(name)
		wireName := opts.wireFieldFor(name)
		value := row[wireName]

		if def.IsTable() {
			rows, err := decodeTable(value, def.Table, opts)
			if err != nil {
				log.Warn("failed to decode table label", "field", name, "error", err)
				continue
			}
			// A table with no surviving rows is absent, not empty.
			if len(rows) == 0 {
				continue
			}
			rec[name] = doc.Value{Rows: rows}
			continue
		}

		scalar, err := decodeScalar(value, def.Kind, opts)
		if err != nil {
			log.Warn("failed to decode label", "field", name, "error", err)
			scalar = &doc.Scalar{Kind: def.Kind}
		}
		rec[name] = doc.Value{Scalar: scalar}
	}

	if len(rec) == 0 {
		return nil
	}
	return rec
}

func decodeTable(value any, schema *doc.DocSchema, opts DecodeOptions) ([]doc.Record, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var table TableLabel
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("malformed table label: %w", err)
	}

	var rows []doc.Record
	for _, rowLabel := range table.Label.Value {
		if rowLabel == nil {
			continue
		}
		rowValues := make(map[string]any, len(rowLabel.Label.Value))
		for k, v := range rowLabel.Label.Value {
			rowValues[k] = v
		}
		if rec := RowToRecord(rowValues, schema, opts); rec != nil {
			rows = append(rows, rec)
		}
	}
	return rows, nil
}

// decodeScalar converts one wire scalar label into a typed scalar. Labels
// filtered out by the prediction gate decode as null.
func decodeScalar(value any, kind doc.Kind, opts DecodeOptions) (*doc.Scalar, error) {
	out := &doc.Scalar{Kind: kind}
	if value == nil {
		return out, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var sl ScalarLabel
	if err := json.Unmarshal(raw, &sl); err != nil {
		return nil, fmt.Errorf("malformed scalar label: %w", err)
	}

	if sl.Label.IsPrediction {
		if !opts.AllowPredictions {
			return out, nil
		}
		confident := sl.Label.IsConfident != nil && *sl.Label.IsConfident
		if !confident && !opts.AllowLowConfidence {
			return out, nil
		}
	}

	if words := sl.SourceWords(); len(words) > 0 {
		locs := make([]doc.Location, 0, len(words))
		for _, w := range words {
			locs = append(locs, w.Location)
		}
		combined, err := doc.Combine(locs...)
		if err != nil {
			return nil, err
		}
		out.Location = &combined
	}

	if sl.Label.Value == nil {
		return out, nil
	}
	if err := decodeScalarValue(out, sl.Label.Value); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeScalarValue(out *doc.Scalar, value any) error {
	switch out.Kind {
	case doc.KindText:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		out.Text = &s
	case doc.KindNumber:
		switch v := value.(type) {
		case float64:
			out.Number = &v
		case string:
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("unparseable number %q", v)
			}
			out.Number = &parsed
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case doc.KindTimestamp:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected timestamp string, got %T", value)
		}
		t, err := doc.ParseDate(s)
		if err != nil {
			return err
		}
		out.Time = &t
	case doc.KindCheckbox, doc.KindSignature:
		// Tri-state values nest inside an extra Value wrapper.
		wrapper, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("expected state wrapper, got %T", value)
		}
		inner := wrapper["Value"]
		if inner == nil {
			return nil
		}
		state := 0
		switch v := inner.(type) {
		case bool:
			if v {
				state = 1
			}
		case float64:
			if v != 0 {
				state = 1
			}
		default:
			return fmt.Errorf("expected tri-state value, got %T", inner)
		}
		out.State = &state
	case doc.KindDocumentTag:
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		var entries []TagEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("malformed tag list: %w", err)
		}
		tags := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Label.Value != "" {
				tags = append(tags, e.Label.Value)
			}
		}
		out.Tags = tags
	default:
		return fmt.Errorf("unknown scalar kind %q", out.Kind)
	}
	return nil
}
