package doc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the semantic type of a scalar field.
type Kind string

const (
	KindText        Kind = "text"
	KindNumber      Kind = "number"
	KindTimestamp   Kind = "timestamp"
	KindCheckbox    Kind = "checkbox"
	KindSignature   Kind = "signature"
	KindDocumentTag Kind = "document_tag"
)

// Valid reports whether k names a known scalar kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindNumber, KindTimestamp, KindCheckbox, KindSignature, KindDocumentTag:
		return true
	}
	return false
}

// Scalar is a typed leaf value with optional spatial provenance. Exactly
// one of the value fields is meaningful, selected by Kind; a nil value
// field means the value is null (distinct from empty).
//
// Checkbox and Signature values are tri-state: 1 (checked/signed),
// 0 (unchecked/unsigned), or nil (unknown).
type Scalar struct {
	Kind     Kind
	Text     *string
	Number   *float64
	Time     *time.Time
	State    *int
	Tags     []string
	Location *Location
	Cell     *Cell
}

// IsNull reports whether the scalar carries no value.
func (s *Scalar) IsNull() bool {
	switch s.Kind {
	case KindText:
		return s.Text == nil
	case KindNumber:
		return s.Number == nil
	case KindTimestamp:
		return s.Time == nil
	case KindCheckbox, KindSignature:
		return s.State == nil
	case KindDocumentTag:
		return s.Tags == nil
	}
	return true
}

// Display renders the value for humans: locale-style dates (MM/DD/YYYY),
// glyph checkboxes, comma-joined tags. Null values render as "".
func (s *Scalar) Display() string {
	if s.IsNull() {
		return ""
	}
	switch s.Kind {
	case KindText:
		return *s.Text
	case KindNumber:
		return strconv.FormatFloat(*s.Number, 'f', -1, 64)
	case KindTimestamp:
		return s.Time.Format("01/02/2006")
	case KindCheckbox:
		if *s.State == 1 {
			return "☑"
		}
		return "☐"
	case KindSignature:
		if *s.State == 1 {
			return "signed"
		}
		return "unsigned"
	case KindDocumentTag:
		return strings.Join(s.Tags, ", ")
	}
	return ""
}

// Unambiguous renders the value in a machine-parseable form. Anything the
// system writes and later re-reads (value-based labels, cache payloads)
// must use this form, never Display: ISO dates (YYYY-MM-DD) instead of the
// ambiguous American order, and true/false for tri-state values.
func (s *Scalar) Unambiguous() string {
	if s.IsNull() {
		return ""
	}
	switch s.Kind {
	case KindText:
		return *s.Text
	case KindNumber:
		return strconv.FormatFloat(*s.Number, 'f', -1, 64)
	case KindTimestamp:
		return s.Time.Format("2006-01-02")
	case KindCheckbox, KindSignature:
		if *s.State == 1 {
			return "true"
		}
		return "false"
	case KindDocumentTag:
		return strings.Join(s.Tags, ", ")
	}
	return ""
}

// TagList exposes a document-tag value as a list. Single-string tag values
// in a manifest are normalized to a one-element list at parse time, so
// this is a plain accessor.
func (s *Scalar) TagList() []string {
	return s.Tags
}

// scalarJSON is the manifest wire form of a scalar value.
type scalarJSON struct {
	Value    json.RawMessage `json:"value"`
	Location *Location       `json:"location,omitempty"`
	Cell     *Cell           `json:"cell,omitempty"`
}

// ParseScalar decodes one manifest scalar of the given kind.
func ParseScalar(kind Kind, raw json.RawMessage) (*Scalar, error) {
	var sj scalarJSON
	if err := json.Unmarshal(raw, &sj); err != nil {
		return nil, fmt.Errorf("failed to parse %s value: %w", kind, err)
	}

	s := &Scalar{Kind: kind, Location: sj.Location, Cell: sj.Cell}
	if len(sj.Value) == 0 || string(sj.Value) == "null" {
		return s, nil
	}

	switch kind {
	case KindText:
		var v string
		if err := json.Unmarshal(sj.Value, &v); err != nil {
			return nil, fmt.Errorf("text value: %w", err)
		}
		s.Text = &v
	case KindNumber:
		// Numbers may arrive as JSON numbers or as numeric strings.
		var v float64
		if err := json.Unmarshal(sj.Value, &v); err != nil {
			var str string
			if err := json.Unmarshal(sj.Value, &str); err != nil {
				return nil, fmt.Errorf("number value: %w", err)
			}
			parsed, err := strconv.ParseFloat(str, 64)
			if err != nil {
				return nil, fmt.Errorf("number value %q: %w", str, err)
			}
			v = parsed
		}
		s.Number = &v
	case KindTimestamp:
		var str string
		if err := json.Unmarshal(sj.Value, &str); err != nil {
			return nil, fmt.Errorf("timestamp value: %w", err)
		}
		t, err := ParseDate(str)
		if err != nil {
			return nil, err
		}
		s.Time = &t
	case KindCheckbox, KindSignature:
		var v int
		if err := json.Unmarshal(sj.Value, &v); err != nil {
			// Accept booleans from older manifests.
			var b bool
			if err := json.Unmarshal(sj.Value, &b); err != nil {
				return nil, fmt.Errorf("%s value: %w", kind, err)
			}
			if b {
				v = 1
			}
		}
		s.State = &v
	case KindDocumentTag:
		var tags []string
		if err := json.Unmarshal(sj.Value, &tags); err != nil {
			var one string
			if err := json.Unmarshal(sj.Value, &one); err != nil {
				return nil, fmt.Errorf("document tag value: %w", err)
			}
			tags = []string{one}
		}
		s.Tags = tags
	default:
		return nil, fmt.Errorf("unknown scalar kind %q", kind)
	}

	return s, nil
}

// MarshalJSON writes the manifest wire form, using the unambiguous
// rendering for timestamps.
func (s *Scalar) MarshalJSON() ([]byte, error) {
	var value any
	if !s.IsNull() {
		switch s.Kind {
		case KindText:
			value = *s.Text
		case KindNumber:
			value = *s.Number
		case KindTimestamp:
			value = s.Time.Format("2006-01-02")
		case KindCheckbox, KindSignature:
			value = *s.State
		case KindDocumentTag:
			value = s.Tags
		}
	}
	return json.Marshal(struct {
		Value    any       `json:"value"`
		Location *Location `json:"location,omitempty"`
		Cell     *Cell     `json:"cell,omitempty"`
	}{Value: value, Location: s.Location, Cell: s.Cell})
}

// dateFormats are the platform's timestamp wire formats, most to least
// specific.
var dateFormats = []string{"2006-01-02", "2006-01", "2006"}

// ParseDate parses a platform timestamp string.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
