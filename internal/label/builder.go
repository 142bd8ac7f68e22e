package label

import (
	"fmt"
	"log/slog"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/evidence"
	"github.com/docsift/docsift/internal/platform"
)

// Builder converts one document's typed record into wire labels. It is
// constructed per document and discarded after one Generate call; the
// evidence index it holds belongs to the same document.
type Builder struct {
	FileName      string
	Words         []evidence.Word
	Index         *evidence.Index
	ModelVersions map[string]int

	// EmptyLabels emits an explicit empty label (Source: []) for null
	// values, recording a confirmed "no value" distinct from "not yet
	// reviewed".
	EmptyLabels bool

	Logger *slog.Logger

	wordsByUID map[string]evidence.Word
}

// Generate builds the full label set for a record.
func (b *Builder) Generate(rec doc.Record) (Set, error) {
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if b.Index == nil {
		b.Index = evidence.NewIndex(nil)
	}
	b.wordsByUID = evidence.WordsByUID(b.Words)

	labels := make(Set)
	for name, val := range rec {
		if val.Rows != nil {
			labels[name] = b.buildTable(name, val.Rows)
			continue
		}
		if val.Scalar == nil {
			continue
		}
		sl, err := b.buildScalar(name, val.Scalar)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		if sl != nil {
			labels[name] = sl
		}
	}
	return labels, nil
}

func (b *Builder) buildTable(name string, rows []doc.Record) *TableLabel {
	rowLabels := make([]*RowLabel, 0, len(rows))
	for _, row := range rows {
		values := make(map[string]*ScalarLabel)
		for fieldName, val := range row {
			if val.Rows != nil {
				b.Logger.Warn("ignoring nested table inside table row",
					"table", name, "field", fieldName, "file", b.FileName)
				continue
			}
			if val.Scalar == nil {
				continue
			}
			sl, err := b.buildScalar(fieldName, val.Scalar)
			if err != nil {
				b.Logger.Warn("failed to label table cell",
					"table", name, "field", fieldName, "file", b.FileName, "error", err)
				continue
			}
			if sl != nil {
				values[fieldName] = sl
			}
		}

		rowPrediction := len(values) == 0
		for _, v := range values {
			if v.IsPrediction() {
				rowPrediction = true
			}
		}
		rowLabels = append(rowLabels, &RowLabel{Label: RowData{
			IsPrediction: rowPrediction,
			Value:        values,
		}})
	}

	tablePrediction := len(rowLabels) == 0
	for _, r := range rowLabels {
		if r.IsPrediction() {
			tablePrediction = true
		}
	}
	return &TableLabel{
		Label:        TableData{IsPrediction: tablePrediction, Value: rowLabels},
		ModelVersion: b.ModelVersions[name],
	}
}

func (b *Builder) buildScalar(name string, s *doc.Scalar) (*ScalarLabel, error) {
	switch s.Kind {
	case doc.KindCheckbox, doc.KindSignature:
		return b.buildStateLabel(name, s), nil
	case doc.KindDocumentTag:
		if s.IsNull() {
			return b.maybeEmptyLabel(name), nil
		}
		return b.buildTagLabel(name, s), nil
	}

	if s.IsNull() {
		return b.maybeEmptyLabel(name), nil
	}
	return b.buildAnchoredLabel(name, s)
}

// buildStateLabel labels checkbox and signature fields. No word matching
// happens: the value's own location is the single-box source. A null
// value carries null Value and State.
func (b *Builder) buildStateLabel(name string, s *doc.Scalar) *ScalarLabel {
	source := BoxSource{BBoxes: []doc.Location{}}
	if s.Location != nil {
		source.BBoxes = append(source.BBoxes, *s.Location)
	}

	value := map[string]any{"Value": nil, "State": nil}
	if s.State != nil {
		value["Value"] = *s.State == 1
		value["State"] = *s.State
	}

	return &ScalarLabel{
		Label:        ScalarData{Source: &source, Value: value},
		Context:      &Context{Entities: []evidence.Entity{}},
		ModelVersion: b.ModelVersions[name],
	}
}

// buildTagLabel labels a document-tag field: one confirmed entry per tag
// string, no spatial evidence.
func (b *Builder) buildTagLabel(name string, s *doc.Scalar) *ScalarLabel {
	entries := make([]TagEntry, 0, len(s.Tags))
	for _, tag := range s.Tags {
		entries = append(entries, TagEntry{Label: TagValue{Value: tag}})
	}
	return &ScalarLabel{
		Label:        ScalarData{Value: entries},
		Context:      &Context{Entities: []evidence.Entity{}},
		ModelVersion: b.ModelVersions[name],
	}
}

// buildAnchoredLabel labels text, number, and timestamp fields by
// resolving the value to supporting words and entity evidence.
func (b *Builder) buildAnchoredLabel(name string, s *doc.Scalar) (*ScalarLabel, error) {
	words := b.resolveWords(s)
	targetType := FieldTypeForKind(s.Kind)

	// Candidate entities reachable from any supporting word. If one of
	// them is typed like this field, its own source words are better
	// provenance than the raw overlap set: narrow to them and stop.
	narrowed := false
	for _, w := range words {
		if narrowed {
			break
		}
		for _, e := range b.Index.Find([]evidence.Word{w}, evidence.FindOptions{MatchSupersets: true}) {
			if platform.EntityLabelFieldTypes[e.Label] != targetType {
				continue
			}
			words = b.wordsInSet(e.SourceWordUIDs)
			narrowed = true
			break
		}
	}

	entities := b.Index.Find(words, evidence.FindOptions{})

	if targetType != platform.InferredText && len(entities) == 0 && len(words) == 0 {
		// A structured value with no word or entity anchoring is still
		// usable by its unambiguous rendering, at the cost of provenance.
		b.Logger.Warn("field has no word or entity anchoring, labeling by value",
			"field", name, "file", b.FileName, "value", s.Unambiguous())
		return &ScalarLabel{
			Label:        ScalarData{Source: []evidence.Word{}, Value: s.Unambiguous()},
			Context:      &Context{Entities: entities},
			ModelVersion: b.ModelVersions[name],
		}, nil
	}

	if words == nil {
		words = []evidence.Word{}
	}
	return &ScalarLabel{
		Label:        ScalarData{Source: words},
		Context:      &Context{Entities: entities},
		ModelVersion: b.ModelVersions[name],
	}, nil
}

// resolveWords finds the words supporting a value. Fully-resolvable uid
// provenance wins over spatial overlap.
func (b *Builder) resolveWords(s *doc.Scalar) []evidence.Word {
	if s.Location == nil {
		return nil
	}
	if len(s.Location.UIDs) > 0 {
		words := make([]evidence.Word, 0, len(s.Location.UIDs))
		resolved := true
		for _, uid := range s.Location.UIDs {
			w, ok := b.wordsByUID[uid]
			if !ok {
				resolved = false
				break
			}
			words = append(words, w)
		}
		if resolved {
			return words
		}
	}
	return evidence.OverlappingWords(s.Location, b.Words)
}

// wordsInSet returns the document's words whose uids are in the set,
// preserving document word order.
func (b *Builder) wordsInSet(uids []string) []evidence.Word {
	set := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		set[uid] = struct{}{}
	}
	var out []evidence.Word
	for _, w := range b.Words {
		if _, ok := set[w.UID]; ok {
			out = append(out, w)
		}
	}
	return out
}

func (b *Builder) maybeEmptyLabel(name string) *ScalarLabel {
	if !b.EmptyLabels {
		return nil
	}
	return &ScalarLabel{
		Label:        ScalarData{Source: []evidence.Word{}},
		Context:      &Context{Entities: []evidence.Entity{}},
		ModelVersion: b.ModelVersions[name],
	}
}
