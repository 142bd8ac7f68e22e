package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/platform"
	"github.com/docsift/docsift/internal/schema"
)

// queryHandler mocks the query endpoint with a per-query response.
func queryHandler(t *testing.T, respond func(query string) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode query body: %v", err)
		}
		if err := json.NewEncoder(w).Encode(respond(body.Query)); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	}
}

func TestFetchModelVersions(t *testing.T) {
	client := newSyncClient(t, queryHandler(t, func(query string) any {
		if !strings.Contains(query, "file_collections::c1") {
			t.Errorf("expected the collection named in the query, got %q", query)
		}
		return map[string]any{"data": []map[string]any{
			{"field_name": "Total", "model_version": 3},
			{"field_name": "Vendor", "model_version": 1},
			{"field_name": "", "model_version": 9},
			{"field_name": "Untrained"},
		}}
	}))

	got, err := fetchModelVersions(context.Background(), client, "c1")
	if err != nil {
		t.Fatalf("fetchModelVersions failed: %v", err)
	}
	want := map[string]int{"Total": 3, "Vendor": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestFetchRemoteSchema(t *testing.T) {
	t.Run("no schema yields an empty schema", func(t *testing.T) {
		client := newSyncClient(t, queryHandler(t, func(string) any {
			return map[string]any{"data": []any{}}
		}))
		got, err := fetchRemoteSchema(context.Background(), client, "c1")
		if err != nil {
			t.Fatalf("fetchRemoteSchema failed: %v", err)
		}
		if names := got.FieldNames(); len(names) != 0 {
			t.Errorf("expected no fields, got %v", names)
		}
	})

	t.Run("inferred fields parse, unmanaged fields drop", func(t *testing.T) {
		comment := `{"field_template":"inferred_field_spec","infer_func":{"trainer_name":"text_string-dev-1"}}`
		client := newSyncClient(t, queryHandler(t, func(string) any {
			return map[string]any{
				"data": []any{},
				"schema": map[string]any{
					"name": "root",
					"children": []map[string]any{
						{
							"name":    "Vendor",
							"comment": comment,
							"children": []map[string]any{
								{"name": "Label", "children": []map[string]any{
									{"name": "Value", "fieldType": "STRING"},
								}},
							},
						},
						{"name": "File", "fieldType": "STRING"},
					},
				},
			}
		}))

		got, err := fetchRemoteSchema(context.Background(), client, "c1")
		if err != nil {
			t.Fatalf("fetchRemoteSchema failed: %v", err)
		}
		names := got.FieldNames()
		if len(names) != 1 || names[0] != "Vendor" {
			t.Fatalf("expected only the inferred field, got %v", names)
		}
		if def, _ := got.Lookup("Vendor"); def.Kind != doc.KindText {
			t.Errorf("expected a text field, got %+v", def)
		}
	})
}

func TestModelVersionTarget(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	client := newSyncClient(t, queryHandler(t, func(query string) any {
		mu.Lock()
		queries = append(queries, query)
		mu.Unlock()
		if strings.Contains(query, "[increment:") {
			return map[string]any{"data": []map[string]any{{"increment": 5}}}
		}
		return map[string]any{"data": []map[string]any{{"sum_mv": 7}}}
	}))

	roots := []schema.Field{{Name: "Total", FieldType: platform.InferredNumber}}
	target, err := modelVersionTarget(context.Background(), client, "c1", roots, map[string]int{"Total": 4})
	if err != nil {
		t.Fatalf("modelVersionTarget failed: %v", err)
	}
	if target != 12 {
		t.Errorf("expected target 12 (current 7 + increment 5), got %d", target)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(queries) != 2 {
		t.Fatalf("expected two queries, got %d", len(queries))
	}
	// Unchanged human labels keep their version, so the increment counts
	// only rows that will move relative to the current version.
	if !strings.Contains(queries[0], "4-`Total`.ModelVersion") {
		t.Errorf("expected the increment query to reference the current version, got %q", queries[0])
	}
}

func TestWaitForModelVersions(t *testing.T) {
	if testing.Short() {
		t.Skip("retries sleep between attempts")
	}

	var calls atomic.Int32
	client := newSyncClient(t, queryHandler(t, func(query string) any {
		if !strings.Contains(query, "sum_mv >= 12") {
			t.Errorf("expected the target in the query filter, got %q", query)
		}
		if calls.Add(1) == 1 {
			// Below target: the filter yields no rows yet.
			return map[string]any{"data": []any{}}
		}
		return map[string]any{"data": []map[string]any{{"sum_mv": 12}}}
	}))

	roots := []schema.Field{{Name: "Total", FieldType: platform.InferredNumber}}
	if err := waitForModelVersions(context.Background(), client, "c1", roots, 12, slog.Default()); err != nil {
		t.Fatalf("waitForModelVersions failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected the wait to retry once before the target was reached, got %d attempts", got)
	}
}
