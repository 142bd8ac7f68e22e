package doc

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestDocSchemaOrderPreserved(t *testing.T) {
	// Field order is load-bearing for remote field creation; parsing must
	// preserve the manifest's key order, not sort it.
	raw := `{"fields": {"Zebra": "text", "Apple": "number", "Mango": "timestamp"}}`
	var s DocSchema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"Zebra", "Apple", "Mango"}
	if !reflect.DeepEqual(s.FieldNames(), want) {
		t.Errorf("expected order %v, got %v", want, s.FieldNames())
	}

	// Round-trip keeps the order too.
	data, err := json.Marshal(&s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var back DocSchema
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(back.FieldNames(), want) {
		t.Errorf("expected order %v after round-trip, got %v", want, back.FieldNames())
	}
}

func TestDocSchemaNestedTable(t *testing.T) {
	raw := `{"fields": {"Items": {"fields": {"Description": "text", "Price": "number"}}}}`
	var s DocSchema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def, ok := s.Lookup("Items")
	if !ok {
		t.Fatal("expected Items field")
	}
	if !def.IsTable() {
		t.Fatal("expected Items to be a table")
	}
	sub, ok := def.Table.Lookup("Price")
	if !ok || sub.Kind != KindNumber {
		t.Errorf("expected Price to be a number, got %+v", sub)
	}
}

func TestDocSchemaUnknownKind(t *testing.T) {
	raw := `{"fields": {"X": "floating_point"}}`
	var s DocSchema
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDocSchemaSetAndMerge(t *testing.T) {
	a := NewDocSchema()
	a.Set("One", FieldDef{Kind: KindText})
	a.Set("Two", FieldDef{Kind: KindNumber})

	b := NewDocSchema()
	b.Set("Two", FieldDef{Kind: KindTimestamp})
	b.Set("Three", FieldDef{Kind: KindCheckbox})

	a.Merge(b)

	want := []string{"One", "Two", "Three"}
	if !reflect.DeepEqual(a.FieldNames(), want) {
		t.Errorf("expected order %v, got %v", want, a.FieldNames())
	}
	def, _ := a.Lookup("Two")
	if def.Kind != KindTimestamp {
		t.Errorf("expected merge to overwrite Two, got %v", def.Kind)
	}
	if a.Len() != 3 {
		t.Errorf("expected 3 fields, got %d", a.Len())
	}
}

func TestRecordRoundTrip(t *testing.T) {
	var schema DocSchema
	raw := `{"fields": {
		"Vendor": "text",
		"Total": "number",
		"Items": {"fields": {"Description": "text", "Amount": "number"}}
	}}`
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recRaw := json.RawMessage(`{
		"Vendor": {"value": "Acme"},
		"Total": {"value": 99.5, "location": {"top": 0.1, "left": 0.1, "height": 0.02, "width": 0.1, "page": 0}},
		"Items": [
			{"Description": {"value": "widget"}, "Amount": {"value": 10}},
			{"Description": {"value": "gadget"}, "Amount": {"value": 89.5}}
		]
	}`)

	rec, err := ParseRecord(&schema, recRaw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *rec["Vendor"].Scalar.Text; got != "Acme" {
		t.Errorf("expected Vendor Acme, got %q", got)
	}
	if len(rec["Items"].Rows) != 2 {
		t.Fatalf("expected 2 item rows, got %d", len(rec["Items"].Rows))
	}
	if got := *rec["Items"].Rows[1]["Amount"].Scalar.Number; got != 89.5 {
		t.Errorf("expected second amount 89.5, got %v", got)
	}

	out, err := MarshalRecord(&schema, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	back, err := ParseRecord(&schema, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *back["Total"].Scalar.Number != 99.5 {
		t.Errorf("expected total preserved, got %v", *back["Total"].Scalar.Number)
	}
	if back["Total"].Scalar.Location == nil {
		t.Error("expected location preserved across round-trip")
	}
}

func TestRecordToSchema(t *testing.T) {
	text := "x"
	rec := Record{
		"Name": Value{Scalar: &Scalar{Kind: KindText, Text: &text}},
		"Rows": Value{Rows: []Record{
			{"Inner": Value{Scalar: &Scalar{Kind: KindNumber}}},
		}},
	}
	s, err := RecordToSchema(rec, []string{"Name", "Rows"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def, _ := s.Lookup("Rows")
	if !def.IsTable() {
		t.Fatal("expected Rows to be a table")
	}
	inner, _ := def.Table.Lookup("Inner")
	if inner.Kind != KindNumber {
		t.Errorf("expected Inner number, got %v", inner.Kind)
	}
}
