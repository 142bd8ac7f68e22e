// Package label builds and decodes the platform's label wire structures.
// The forward path (Generate) converts a locally-held typed record into
// labels with spatial and entity provenance; the inverse path
// (RowToRecord) recovers typed records from platform rows.
package label

import (
	"encoding/json"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/evidence"
	"github.com/docsift/docsift/internal/platform"
)

// Label is a field's wire label: either a *ScalarLabel or a *TableLabel.
type Label interface {
	IsPrediction() bool
}

// Set holds one document's labels keyed by field name.
type Set map[string]Label

// Context carries the candidate entity evidence attached to a scalar
// label.
type Context struct {
	Entities []evidence.Entity `json:"Entities"`
}

// BoxSource is the source form used by checkbox and signature labels:
// a bare region rather than word provenance.
type BoxSource struct {
	BBoxes []doc.Location `json:"BBoxes"`
}

// ScalarData is the inner payload of a scalar label. Source is either a
// word list ([]evidence.Word), a *BoxSource, or an explicit empty list
// recording a confirmed "no value".
type ScalarData struct {
	Source       any   `json:"Source,omitempty"`
	IsPrediction bool  `json:"IsPrediction"`
	IsConfident  *bool `json:"IsConfident,omitempty"`
	Value        any   `json:"Value,omitempty"`
}

// ScalarLabel is the wire label for one scalar field on one document.
type ScalarLabel struct {
	Label        ScalarData `json:"Label"`
	ModelVersion int        `json:"ModelVersion"`
	Context      *Context   `json:"Context,omitempty"`
}

// IsPrediction reports whether the label is platform-generated rather
// than human-confirmed.
func (l *ScalarLabel) IsPrediction() bool {
	return l.Label.IsPrediction
}

// SourceWords decodes the label's source as word provenance. Returns nil
// for box sources and empty sources.
func (l *ScalarLabel) SourceWords() []evidence.Word {
	if l.Label.Source == nil {
		return nil
	}
	raw, err := json.Marshal(l.Label.Source)
	if err != nil {
		return nil
	}
	var words []evidence.Word
	if err := json.Unmarshal(raw, &words); err != nil {
		return nil
	}
	return words
}

// RowData is the inner payload of a table row label.
type RowData struct {
	IsPrediction bool                    `json:"IsPrediction"`
	Value        map[string]*ScalarLabel `json:"Value"`
}

// RowLabel is one row of a table label.
type RowLabel struct {
	Label RowData `json:"Label"`
}

// IsPrediction reports whether any cell in the row is a prediction. Empty
// rows count as predictions: nothing in them has been confirmed.
func (l *RowLabel) IsPrediction() bool {
	return l.Label.IsPrediction
}

// TableData is the inner payload of a table label.
type TableData struct {
	IsPrediction bool        `json:"IsPrediction"`
	Value        []*RowLabel `json:"Value"`
}

// TableLabel is the wire label for a table field.
type TableLabel struct {
	Label        TableData `json:"Label"`
	ModelVersion int       `json:"ModelVersion"`
}

// IsPrediction reports whether any row is a prediction, or the table has
// no rows at all (conservatively "not yet confirmed").
func (l *TableLabel) IsPrediction() bool {
	return l.Label.IsPrediction
}

// TagEntry is one document-tag value inside a tag label's list.
type TagEntry struct {
	Label TagValue `json:"Label"`
}

// TagValue carries a single tag string.
type TagValue struct {
	Value        string `json:"Value"`
	IsPrediction bool   `json:"IsPrediction"`
}

// FieldTypeForKind maps a local scalar kind to the platform's inferred
// field type.
func FieldTypeForKind(k doc.Kind) platform.InferredFieldType {
	switch k {
	case doc.KindText:
		return platform.InferredText
	case doc.KindNumber:
		return platform.InferredNumber
	case doc.KindTimestamp:
		return platform.InferredTimestamp
	case doc.KindCheckbox:
		return platform.InferredCheckbox
	case doc.KindSignature:
		return platform.InferredSignature
	case doc.KindDocumentTag:
		return platform.InferredDocumentTag
	}
	return platform.InferredText
}

// KindForFieldType is the inverse of FieldTypeForKind for scalar types.
func KindForFieldType(t platform.InferredFieldType) (doc.Kind, bool) {
	switch t {
	case platform.InferredText:
		return doc.KindText, true
	case platform.InferredNumber:
		return doc.KindNumber, true
	case platform.InferredTimestamp:
		return doc.KindTimestamp, true
	case platform.InferredCheckbox:
		return doc.KindCheckbox, true
	case platform.InferredSignature:
		return doc.KindSignature, true
	case platform.InferredDocumentTag:
		return doc.KindDocumentTag, true
	}
	return "", false
}
