// Package schema flattens document schemas into the platform's field
// representation and reconciles them against a collection's existing
// remote fields.
package schema

import (
	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/label"
	"github.com/docsift/docsift/internal/platform"
)

// Field is the flattened form of one (possibly nested) schema field:
// its name, the ancestor table names leading to it, and its inferred
// platform type.
type Field struct {
	Name      string
	Path      []string
	FieldType platform.InferredFieldType
}

// IsTopLevel reports whether the field sits directly on the collection
// rather than inside a table.
func (f Field) IsTopLevel() bool {
	return len(f.Path) == 0
}

// Flatten expands a schema into creation-ordered fields. A table yields
// its own entry followed by its sub-fields, each carrying the table's
// name as a path prefix.
func Flatten(s *doc.DocSchema) []Field {
	var fields []Field
	for _, name := range s.FieldNames() {
		def, _ := s.Lookup(name)
		if def.IsTable() {
			fields = append(fields, Field{Name: name, FieldType: platform.InferredTable})
			for _, sub := range Flatten(def.Table) {
				sub.Path = append([]string{name}, sub.Path...)
				fields = append(fields, sub)
			}
			continue
		}
		fields = append(fields, Field{Name: name, FieldType: label.FieldTypeForKind(def.Kind)})
	}
	return fields
}
