package schema

import (
	"fmt"
	"log/slog"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/label"
	"github.com/docsift/docsift/internal/platform"
)

// CreateFieldChunkSize bounds how many fields travel in one creation
// request.
const CreateFieldChunkSize = 5

// ReconcileOptions tunes a reconciliation pass.
type ReconcileOptions struct {
	// SkipTypeInference disables evidence-driven type narrowing.
	SkipTypeInference bool

	// SkipNewFields only labels fields that already exist remotely.
	SkipNewFields bool

	// MaxFields truncates the local schema to its first n fields.
	// Negative means no limit.
	MaxFields int

	Logger *slog.Logger
}

// Plan is the outcome of reconciling the local schema against a remote
// collection: fields to create remotely, and the names cleared for value
// updates. Conflicted fields appear in neither.
type Plan struct {
	// NewFields lists fields queued for remote creation, in schema order.
	NewFields []Field

	// FieldSpecs are the wire specs for NewFields.
	FieldSpecs []platform.FieldSpec

	// updatable holds every field name cleared for update, including
	// table sub-fields.
	updatable map[string]struct{}
}

// ShouldUpdate reports whether a field's values may be written.
func (p *Plan) ShouldUpdate(name string) bool {
	_, ok := p.updatable[name]
	return ok
}

// UpdateRoots returns the top-level fields cleared for update, in schema
// order. Only these participate directly in an update request; table
// sub-field values travel nested inside their table's payload.
func (p *Plan) UpdateRoots(local []Field) []Field {
	var out []Field
	for _, f := range local {
		if f.IsTopLevel() && p.ShouldUpdate(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// SpecChunks partitions the creation specs into request-sized chunks.
func (p *Plan) SpecChunks() [][]platform.FieldSpec {
	var chunks [][]platform.FieldSpec
	for start := 0; start < len(p.FieldSpecs); start += CreateFieldChunkSize {
		end := min(start+CreateFieldChunkSize, len(p.FieldSpecs))
		chunks = append(chunks, p.FieldSpecs[start:end])
	}
	return chunks
}

// Reconcile decides, for every locally-desired field, whether to create
// it remotely, update it in place, or warn and skip it on a type
// conflict. Conflicts are deliberately fail-safe rather than fail-fast:
// an existing remote field is never silently recreated with a new type.
func Reconcile(local []Field, batches []label.Set, remote *doc.DocSchema, opts ReconcileOptions) (*Plan, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if remote == nil {
		remote = doc.NewDocSchema()
	}

	fields := local
	if opts.MaxFields >= 0 && opts.MaxFields < len(fields) {
		fields = fields[:opts.MaxFields]
	}

	plan := &Plan{updatable: make(map[string]struct{})}
	for _, f := range fields {
		fieldType := f.FieldType
		if !opts.SkipTypeInference {
			fieldType = narrowType(f, batches)
		}

		existing, ok := remote.Lookup(f.Name)
		if !ok && !f.IsTopLevel() {
			// Sub-fields of an existing table are owned by the table.
			existing, ok = remote.Lookup(f.Path[0])
		}

		if ok {
			if existing.IsTable() {
				plan.updatable[f.Name] = struct{}{}
				continue
			}
			existingType := kindFieldType(existing)
			if existingType != fieldType {
				log.Warn("field exists remotely with a different type; skipping (delete it to re-create)",
					"field", f.Name, "remote_type", existingType, "local_type", fieldType)
				continue
			}
			plan.updatable[f.Name] = struct{}{}
			continue
		}

		if opts.SkipNewFields {
			continue
		}

		log.Debug("queueing field for creation", "field", f.Name, "type", fieldType, "path", f.Path)
		spec, err := fieldType.BuildFieldSpec(f.Name, f.Path)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		plan.NewFields = append(plan.NewFields, f)
		plan.FieldSpecs = append(plan.FieldSpecs, spec)
		plan.updatable[f.Name] = struct{}{}
	}

	return plan, nil
}

// narrowType narrows a field's type from the entity evidence observed
// across every generated label batch. The generality ordering is
// text > number/timestamp > the field's own declared type: any evidence
// of plain text ends the scan immediately, otherwise timestamp evidence
// beats number evidence beats the declaration.
func narrowType(f Field, batches []label.Set) platform.InferredFieldType {
	sawTimestamp := f.FieldType == platform.InferredTimestamp
	sawNumber := f.FieldType == platform.InferredNumber

	for _, batch := range batches {
		sl, ok := batch[f.Name].(*label.ScalarLabel)
		if !ok || sl.Context == nil {
			continue
		}
		for _, e := range sl.Context.Entities {
			switch platform.EntityLabelFieldTypes[e.Label] {
			case platform.InferredTimestamp:
				sawTimestamp = true
			case platform.InferredNumber:
				sawNumber = true
			case platform.InferredText:
				return platform.InferredText
			}
		}
	}

	if sawTimestamp {
		return platform.InferredTimestamp
	}
	if sawNumber {
		return platform.InferredNumber
	}
	return f.FieldType
}
