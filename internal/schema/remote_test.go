package schema

import (
	"fmt"
	"testing"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/platform"
)

func inferredComment(trainer string) string {
	if trainer == "" {
		return `{"field_template":"inferred_field_spec"}`
	}
	return fmt.Sprintf(`{"field_template":"inferred_field_spec","infer_func":{"trainer_name":"%s"}}`, trainer)
}

func remoteScalar(name, trainer string, valueType platform.FieldType) platform.RemoteField {
	return platform.RemoteField{
		Name:    name,
		Comment: inferredComment(trainer),
		Children: []platform.RemoteField{
			{Name: "Label", Children: []platform.RemoteField{
				{Name: "Value", FieldType: valueType},
			}},
		},
	}
}

func remoteTable(name string, sub ...platform.RemoteField) platform.RemoteField {
	return platform.RemoteField{
		Name:    name,
		Comment: inferredComment("entity_one_many"),
		Children: []platform.RemoteField{
			{Name: "Label", Children: []platform.RemoteField{
				{Name: "Value", Children: []platform.RemoteField{
					{Name: "Label", Children: []platform.RemoteField{
						{Name: "Value", Children: sub},
					}},
				}},
			}},
		},
	}
}

func TestFilterInferred(t *testing.T) {
	fields := []platform.RemoteField{
		remoteScalar("Vendor", "text_string-dev-1", platform.FieldTypeText),
		{Name: "File"},
		{Name: "Manual", Comment: `{"field_template":"other"}`},
		{Name: "Junk", Comment: "not json"},
	}
	got := FilterInferred(fields)
	if len(got) != 1 || got[0].Name != "Vendor" {
		t.Fatalf("expected only Vendor, got %+v", got)
	}
}

func TestParseRemoteFields(t *testing.T) {
	fields := []platform.RemoteField{
		remoteScalar("Vendor", "text_string-dev-1", platform.FieldTypeText),
		remoteScalar("Total", "text_number-dev-1", platform.FieldTypeNumber),
		remoteScalar("Date", "text_date-dev-1", platform.FieldTypeTimestamp),
		remoteScalar("Signed", "region_signature", platform.FieldTypeText),
		remoteScalar("Tags", "document_tag", platform.FieldTypeText),
		remoteTable("Items",
			remoteScalar("Amount", "text_number-dev-1", platform.FieldTypeNumber),
		),
	}

	s, err := ParseRemoteFields(fields)
	if err != nil {
		t.Fatalf("ParseRemoteFields failed: %v", err)
	}

	wantKinds := map[string]doc.Kind{
		"Vendor": doc.KindText,
		"Total":  doc.KindNumber,
		"Date":   doc.KindTimestamp,
		"Signed": doc.KindSignature,
		"Tags":   doc.KindDocumentTag,
	}
	for name, kind := range wantKinds {
		def, ok := s.Lookup(name)
		if !ok {
			t.Fatalf("missing field %q", name)
		}
		if def.Kind != kind {
			t.Errorf("field %q: expected kind %q, got %q", name, kind, def.Kind)
		}
	}

	items, ok := s.Lookup("Items")
	if !ok || !items.IsTable() {
		t.Fatalf("expected Items table, got %+v", items)
	}
	amount, ok := items.Table.Lookup("Amount")
	if !ok || amount.Kind != doc.KindNumber {
		t.Fatalf("expected nested Amount number, got %+v", amount)
	}
}

func TestParseRemoteFieldsCheckboxByTrainer(t *testing.T) {
	// The checkbox trainer stores its value as text; the trainer name, not
	// the scalar type, decides the kind.
	s, err := ParseRemoteFields([]platform.RemoteField{
		remoteScalar("Paid", "checkbox", platform.FieldTypeText),
	})
	if err != nil {
		t.Fatalf("ParseRemoteFields failed: %v", err)
	}
	def, _ := s.Lookup("Paid")
	if def.Kind != doc.KindCheckbox {
		t.Fatalf("expected checkbox, got %q", def.Kind)
	}
}

func TestParseRemoteFieldsBoolWithoutTrainer(t *testing.T) {
	f := platform.RemoteField{
		Name:    "Flag",
		Comment: inferredComment(""),
		Children: []platform.RemoteField{
			{Name: "Label", Children: []platform.RemoteField{
				{Name: "Value", FieldType: platform.FieldTypeBool},
			}},
		},
	}
	s, err := ParseRemoteFields([]platform.RemoteField{f})
	if err != nil {
		t.Fatalf("ParseRemoteFields failed: %v", err)
	}
	def, _ := s.Lookup("Flag")
	if def.Kind != doc.KindCheckbox {
		t.Fatalf("expected bool to map to checkbox, got %q", def.Kind)
	}
}

func TestParseRemoteFieldsMissingPayload(t *testing.T) {
	f := platform.RemoteField{Name: "Broken", Comment: inferredComment("")}
	if _, err := ParseRemoteFields([]platform.RemoteField{f}); err == nil {
		t.Fatal("expected an error for a field without a Label.Value payload")
	}
}

func TestParseRemoteFieldsEmptyTable(t *testing.T) {
	f := platform.RemoteField{Name: "Items", Comment: inferredComment("entity_one_many")}
	s, err := ParseRemoteFields([]platform.RemoteField{f})
	if err != nil {
		t.Fatalf("ParseRemoteFields failed: %v", err)
	}
	def, _ := s.Lookup("Items")
	if !def.IsTable() || def.Table.Len() != 0 {
		t.Fatalf("expected empty table, got %+v", def)
	}
}
