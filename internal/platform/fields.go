package platform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType is a platform scalar type tag.
type FieldType string

const (
	FieldTypeText      FieldType = "STRING"
	FieldTypeNumber    FieldType = "NUMBER"
	FieldTypeBool      FieldType = "BOOL"
	FieldTypeTimestamp FieldType = "TIMESTAMP"
	FieldTypeEntity    FieldType = "ENTITY"
)

// FieldSpec is the wire definition of a collection field.
type FieldSpec struct {
	Field      string    `json:"field"`
	Type       FieldType `json:"type"`
	Expression string    `json:"expression,omitempty"`
	Path       []string  `json:"path,omitempty"`
	IsList     bool      `json:"isList,omitempty"`
}

// InferredFieldType identifies a managed machine-learning field type. Each
// carries the trainer expression and scalar type the platform expects when
// the field is created.
type InferredFieldType string

const (
	InferredText        InferredFieldType = "text"
	InferredNumber      InferredFieldType = "number"
	InferredTimestamp   InferredFieldType = "timestamp"
	InferredCheckbox    InferredFieldType = "checkbox"
	InferredSignature   InferredFieldType = "signature"
	InferredTable       InferredFieldType = "table"
	InferredDocumentTag InferredFieldType = "document_tag"
)

type inferredSpec struct {
	expression string
	fieldType  FieldType
	isList     bool
}

var inferredSpecs = map[InferredFieldType]inferredSpec{
	InferredText:        {expression: "`text_string-dev-1`(File.text)", fieldType: FieldTypeText},
	InferredNumber:      {expression: "`text_number-dev-1`(File.text)", fieldType: FieldTypeNumber},
	InferredTimestamp:   {expression: "`text_date-dev-1`(File.text)", fieldType: FieldTypeTimestamp},
	InferredCheckbox:    {expression: "checkbox(File.text)", fieldType: FieldTypeText},
	InferredSignature:   {expression: "region_signature(File.text)", fieldType: FieldTypeText},
	InferredTable:       {expression: "entity_one_many(File.text)", fieldType: FieldTypeEntity, isList: true},
	InferredDocumentTag: {expression: "document_tag(File)", fieldType: FieldTypeText},
}

// BuildFieldSpec builds the creation spec for an inferred field. Path
// names the ancestor tables when the field lives inside a table.
func (t InferredFieldType) BuildFieldSpec(fieldName string, path []string) (FieldSpec, error) {
	spec, ok := inferredSpecs[t]
	if !ok {
		return FieldSpec{}, fmt.Errorf("unknown inferred field type %q", t)
	}
	return FieldSpec{
		Field:      fieldName,
		Type:       spec.fieldType,
		Expression: spec.expression,
		Path:       path,
		IsList:     spec.isList,
	}, nil
}

// MatchTrainer resolves the inferred field type whose trainer expression
// contains the given trainer name. Exactly one must match.
func MatchTrainer(trainer string) (InferredFieldType, error) {
	var found InferredFieldType
	var any bool
	for t, spec := range inferredSpecs {
		if trainer != "" && strings.Contains(spec.expression, trainer) {
			if any {
				return "", fmt.Errorf("trainer %q matches multiple field types (%s and %s)", trainer, found, t)
			}
			found, any = t, true
		}
	}
	if !any {
		return "", fmt.Errorf("unknown trainer %q", trainer)
	}
	return found, nil
}

// EntityLabelFieldTypes maps first-class entity label tags to the field
// type the entity evidence supports.
var EntityLabelFieldTypes = map[string]InferredFieldType{
	"NUMBER": InferredNumber,
	"MONEY":  InferredNumber,
	"DATE":   InferredTimestamp,
	"TIME":   InferredText,
}

// RemoteField is one node of a collection's remote field schema as the
// query endpoint reports it.
type RemoteField struct {
	Name      string        `json:"name"`
	FieldType FieldType     `json:"fieldType"`
	Comment   string        `json:"comment,omitempty"`
	Children  []RemoteField `json:"children,omitempty"`
}

// Child returns the named direct child field.
func (f *RemoteField) Child(name string) (*RemoteField, bool) {
	for i := range f.Children {
		if f.Children[i].Name == name {
			return &f.Children[i], true
		}
	}
	return nil, false
}

// FindPath descends through named children.
func (f *RemoteField) FindPath(path ...string) (*RemoteField, bool) {
	curr := f
	for _, p := range path {
		next, ok := curr.Child(p)
		if !ok {
			return nil, false
		}
		curr = next
	}
	return curr, true
}

// FieldComment is the metadata the platform stores alongside a managed
// field.
type FieldComment struct {
	FieldTemplate string `json:"field_template"`
	InferFunc     *struct {
		TrainerName string `json:"trainer_name"`
		ModelName   string `json:"model_name,omitempty"`
	} `json:"infer_func,omitempty"`
}

// ParseFieldComment decodes a remote field's comment JSON. Fields without
// a comment return ok=false.
func ParseFieldComment(f *RemoteField) (FieldComment, bool) {
	if f.Comment == "" {
		return FieldComment{}, false
	}
	var c FieldComment
	if err := json.Unmarshal([]byte(f.Comment), &c); err != nil {
		return FieldComment{}, false
	}
	return c, true
}
