package schema

import (
	"fmt"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/label"
	"github.com/docsift/docsift/internal/platform"
)

// inferredFieldTemplate marks managed machine-learning fields in a remote
// field's comment metadata.
const inferredFieldTemplate = "inferred_field_spec"

// FilterInferred keeps only the remote fields the platform manages as
// inferred (machine-learning) fields.
func FilterInferred(fields []platform.RemoteField) []platform.RemoteField {
	var out []platform.RemoteField
	for _, f := range fields {
		comment, ok := platform.ParseFieldComment(&f)
		if ok && comment.FieldTemplate == inferredFieldTemplate {
			out = append(out, f)
		}
	}
	return out
}

// ParseRemoteFields converts a collection's remote inferred fields into a
// local schema. Tables recurse through the nested label payload shape;
// scalar kinds resolve from the stored scalar type plus the trainer.
func ParseRemoteFields(fields []platform.RemoteField) (*doc.DocSchema, error) {
	out := doc.NewDocSchema()
	for i := range fields {
		f := &fields[i]

		var trainer platform.InferredFieldType
		if comment, ok := platform.ParseFieldComment(f); ok && comment.InferFunc != nil {
			t, err := platform.MatchTrainer(comment.InferFunc.TrainerName)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			trainer = t
		}

		if trainer == platform.InferredTable {
			rowSchema, ok := f.FindPath("Label", "Value", "Label", "Value")
			var sub *doc.DocSchema
			if ok {
				parsed, err := ParseRemoteFields(rowSchema.Children)
				if err != nil {
					return nil, fmt.Errorf("table %q: %w", f.Name, err)
				}
				sub = parsed
			} else {
				sub = doc.NewDocSchema()
			}
			out.Set(f.Name, doc.FieldDef{Table: sub})
			continue
		}

		kind, err := remoteScalarKind(f, trainer)
		if err != nil {
			return nil, err
		}
		out.Set(f.Name, doc.FieldDef{Kind: kind})
	}
	return out, nil
}

func remoteScalarKind(f *platform.RemoteField, trainer platform.InferredFieldType) (doc.Kind, error) {
	// Tri-state and tag fields are identified by their trainer; the
	// scalar type alone cannot distinguish them from text or bool.
	switch trainer {
	case platform.InferredCheckbox:
		return doc.KindCheckbox, nil
	case platform.InferredSignature:
		return doc.KindSignature, nil
	case platform.InferredDocumentTag:
		return doc.KindDocumentTag, nil
	}

	path := []string{"Label", "Value"}
	valueField, ok := f.FindPath(path...)
	if !ok {
		return "", fmt.Errorf("field %q has no %v payload", f.Name, path)
	}

	switch valueField.FieldType {
	case platform.FieldTypeText:
		return doc.KindText, nil
	case platform.FieldTypeNumber:
		return doc.KindNumber, nil
	case platform.FieldTypeTimestamp:
		return doc.KindTimestamp, nil
	case platform.FieldTypeBool:
		// Bool without a recognizable trainer: treat as checkbox.
		return doc.KindCheckbox, nil
	}
	return "", fmt.Errorf("field %q has unknown scalar type %q", f.Name, valueField.FieldType)
}

// kindFieldType adapts a remote schema entry for comparison against a
// flattened local field.
func kindFieldType(def doc.FieldDef) platform.InferredFieldType {
	if def.IsTable() {
		return platform.InferredTable
	}
	return label.FieldTypeForKind(def.Kind)
}
