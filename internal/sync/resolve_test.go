package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/platform"
)

func newSyncClient(t *testing.T, handler http.HandlerFunc) *platform.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := platform.NewClient(platform.Config{BaseURL: ts.URL, OrgName: "acme", APIToken: "x"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

// fileRow is one collection row in the shape of dataProjection.
func fileRow(uid, name string) map[string]any {
	return map[string]any{
		"uid":  uid,
		"name": name,
		"text": map[string]any{"words": []map[string]any{
			{"uid": "w1", "word": "Acme"},
		}},
		"entities": []any{},
	}
}

func docEntries(names ...string) []*doc.DocData {
	out := make([]*doc.DocData, len(names))
	for i, n := range names {
		out[i] = &doc.DocData{Fname: n}
	}
	return out
}

func resolveOpts() Options {
	return Options{SkipUpload: true, Parallelism: 1, Logger: slog.Default()}
}

// collectionServer mocks the endpoints behind resolveExisting: a
// collection's contents, the org-wide file index, and the membership
// endpoint that adds org files to the collection.
type collectionServer struct {
	mu       sync.Mutex
	requests int
	fail     bool
	inOrg    map[string]string         // filename -> uid, org-wide
	contents map[string]map[string]any // filename -> collection row
	added    []string                  // uids added to the collection
}

func (s *collectionServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests++
		if s.fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/ec/file_collection_contents"):
			var body struct {
				Data []struct {
					FileUID string `json:"file_uid"`
				} `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode membership body: %v", err)
			}
			for _, d := range body.Data {
				s.added = append(s.added, d.FileUID)
				for name, uid := range s.inOrg {
					if uid == d.FileUID {
						s.contents[name] = fileRow(uid, name)
					}
				}
			}
			if err := json.NewEncoder(w).Encode(map[string]any{"uids": []string{}}); err != nil {
				t.Errorf("failed to encode response: %v", err)
			}

		case strings.HasSuffix(r.URL.Path, "/iql"):
			var body struct {
				Query string `json:"query"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode query body: %v", err)
			}
			rows := []map[string]any{}
			if strings.HasPrefix(body.Query, "@files[name:") {
				for name, uid := range s.inOrg {
					if strings.Contains(body.Query, fmt.Sprintf("%q", name)) {
						rows = append(rows, map[string]any{"name": name, "uid": uid})
					}
				}
			} else {
				for _, row := range s.contents {
					rows = append(rows, row)
				}
			}
			if err := json.NewEncoder(w).Encode(map[string]any{"data": rows}); err != nil {
				t.Errorf("failed to encode response: %v", err)
			}

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}
}

func (s *collectionServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func TestResolveExistingFromCollection(t *testing.T) {
	srv := &collectionServer{contents: map[string]map[string]any{
		"a.pdf": fileRow("f1", "a.pdf"),
		"b.pdf": fileRow("f2", "b.pdf"),
	}}
	client := newSyncClient(t, srv.handler(t))

	opts := resolveOpts()
	opts.CacheDir = t.TempDir()
	out, err := resolveExisting(context.Background(), client, "c1", docEntries("a.pdf", "b.pdf"), opts)
	if err != nil {
		t.Fatalf("resolveExisting failed: %v", err)
	}
	if len(out) != 2 || out[0] == nil || out[1] == nil {
		t.Fatalf("expected two resolved entries, got %+v", out)
	}
	if out[0].UID != "f1" || out[1].UID != "f2" {
		t.Errorf("expected results aligned with entries, got %q and %q", out[0].UID, out[1].UID)
	}
	if len(out[0].Text.Words) != 1 || out[0].Text.Words[0].UID != "w1" {
		t.Errorf("expected the word stream decoded, got %+v", out[0].Text)
	}

	cache, err := NewCache(opts.CacheDir, slog.Default())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	entry := cache.Get("a.pdf")
	if entry == nil || entry.Missing || entry.Data == nil || entry.Data.UID != "f1" {
		t.Errorf("expected the resolved data cached, got %+v", entry)
	}

	t.Run("failed retrieval writes no cache", func(t *testing.T) {
		srv := &collectionServer{fail: true}
		client := newSyncClient(t, srv.handler(t))
		opts := resolveOpts()
		opts.CacheDir = t.TempDir()

		if _, err := resolveExisting(context.Background(), client, "c1", docEntries("a.pdf"), opts); err == nil {
			t.Fatal("expected an error from the failing query")
		}
		files, err := os.ReadDir(opts.CacheDir)
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		if len(files) != 0 {
			t.Errorf("expected no cache entries without an authoritative retrieval, got %d", len(files))
		}
	})
}

func TestResolveExistingCacheHits(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir, slog.Default())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	cache.Put("a.pdf", &FileData{UID: "f1", Name: "a.pdf"})
	cache.PutMissing("ghost.pdf")

	srv := &collectionServer{}
	client := newSyncClient(t, srv.handler(t))

	t.Run("cached data resolves without a query", func(t *testing.T) {
		opts := resolveOpts()
		opts.CacheDir = dir
		out, err := resolveExisting(context.Background(), client, "c1", docEntries("a.pdf"), opts)
		if err != nil {
			t.Fatalf("resolveExisting failed: %v", err)
		}
		if out[0] == nil || out[0].UID != "f1" {
			t.Fatalf("expected the cached entry, got %+v", out[0])
		}
		if srv.requestCount() != 0 {
			t.Errorf("expected no requests, got %d", srv.requestCount())
		}
	})

	t.Run("cached missing is skipped when allowed", func(t *testing.T) {
		opts := resolveOpts()
		opts.CacheDir = dir
		opts.SkipMissingFiles = true
		out, err := resolveExisting(context.Background(), client, "c1", docEntries("ghost.pdf"), opts)
		if err != nil {
			t.Fatalf("resolveExisting failed: %v", err)
		}
		if out[0] != nil {
			t.Errorf("expected the cached-missing entry dropped, got %+v", out[0])
		}
		if srv.requestCount() != 0 {
			t.Errorf("expected no requests, got %d", srv.requestCount())
		}
	})

	t.Run("cached missing fails the run otherwise", func(t *testing.T) {
		opts := resolveOpts()
		opts.CacheDir = dir
		_, err := resolveExisting(context.Background(), client, "c1", docEntries("ghost.pdf"), opts)
		if err == nil || !strings.Contains(err.Error(), "cached as missing") {
			t.Fatalf("expected a cached-as-missing error, got %v", err)
		}
	})
}

func TestResolveExistingAddsOrgFiles(t *testing.T) {
	srv := &collectionServer{
		inOrg:    map[string]string{"c.pdf": "f9"},
		contents: map[string]map[string]any{"a.pdf": fileRow("f1", "a.pdf")},
	}
	client := newSyncClient(t, srv.handler(t))

	opts := resolveOpts()
	opts.AddFiles = true
	out, err := resolveExisting(context.Background(), client, "c1", docEntries("a.pdf", "c.pdf"), opts)
	if err != nil {
		t.Fatalf("resolveExisting failed: %v", err)
	}
	if out[0] == nil || out[0].UID != "f1" {
		t.Errorf("expected a.pdf resolved from the collection, got %+v", out[0])
	}
	if out[1] == nil || out[1].UID != "f9" {
		t.Errorf("expected c.pdf resolved after being added, got %+v", out[1])
	}
	if len(srv.added) != 1 || srv.added[0] != "f9" {
		t.Errorf("expected only f9 added to the collection, got %v", srv.added)
	}
}

func TestResolveExistingMissingFromCollection(t *testing.T) {
	newServer := func() *collectionServer {
		return &collectionServer{contents: map[string]map[string]any{
			"a.pdf": fileRow("f1", "a.pdf"),
		}}
	}

	t.Run("dropped when skipping is allowed", func(t *testing.T) {
		srv := newServer()
		client := newSyncClient(t, srv.handler(t))
		opts := resolveOpts()
		opts.SkipMissingFiles = true
		opts.CacheDir = t.TempDir()

		out, err := resolveExisting(context.Background(), client, "c1", docEntries("a.pdf", "ghost.pdf"), opts)
		if err != nil {
			t.Fatalf("resolveExisting failed: %v", err)
		}
		if out[0] == nil || out[0].UID != "f1" {
			t.Errorf("expected a.pdf resolved, got %+v", out[0])
		}
		if out[1] != nil {
			t.Errorf("expected ghost.pdf dropped, got %+v", out[1])
		}
		cache, err := NewCache(opts.CacheDir, slog.Default())
		if err != nil {
			t.Fatalf("NewCache failed: %v", err)
		}
		if entry := cache.Get("ghost.pdf"); entry == nil || !entry.Missing {
			t.Errorf("expected the drop remembered as missing, got %+v", entry)
		}
	})

	t.Run("fails the run otherwise", func(t *testing.T) {
		srv := newServer()
		client := newSyncClient(t, srv.handler(t))
		_, err := resolveExisting(context.Background(), client, "c1", docEntries("a.pdf", "ghost.pdf"), resolveOpts())
		if err == nil || !strings.Contains(err.Error(), "documents not found: ghost.pdf") {
			t.Fatalf("expected a documents-not-found error, got %v", err)
		}
	})

	t.Run("org-wide lookup accounts for every unfound name", func(t *testing.T) {
		srv := newServer()
		srv.inOrg = map[string]string{}
		client := newSyncClient(t, srv.handler(t))
		opts := resolveOpts()
		opts.AddFiles = true
		_, err := resolveExisting(context.Background(), client, "c1", docEntries("a.pdf", "ghost.pdf"), opts)
		if err == nil || !strings.Contains(err.Error(), "only found 0/1 files in the org") {
			t.Fatalf("expected an only-found error, got %v", err)
		}
	})
}

// uploadServer mocks the async upload endpoint plus the poll that waits
// for processed text.
type uploadServer struct {
	mu      sync.Mutex
	batches []int             // upload request sizes, in arrival order
	names   map[string]string // assigned uid -> filename
}

func (s *uploadServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "/fc/c1"):
			if r.URL.Query().Get("async") != "1" {
				t.Errorf("expected an async upload, got %s", r.URL.RawQuery)
			}
			var body struct {
				Data []struct {
					File struct {
						Name string `json:"name"`
						Path string `json:"path"`
					} `json:"File"`
				} `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode upload body: %v", err)
			}
			uids := make([]string, 0, len(body.Data))
			for _, d := range body.Data {
				uid := "u-" + d.File.Name
				s.names[uid] = d.File.Name
				uids = append(uids, uid)
			}
			s.batches = append(s.batches, len(uids))
			if err := json.NewEncoder(w).Encode(map[string]any{"uids": uids}); err != nil {
				t.Errorf("failed to encode response: %v", err)
			}

		case strings.HasSuffix(r.URL.Path, "/poll"):
			var body struct {
				Query string `json:"query"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode poll body: %v", err)
			}
			changes := []map[string]any{}
			for uid, name := range s.names {
				if strings.Contains(body.Query, fmt.Sprintf("%q", uid)) {
					changes = append(changes, map[string]any{"action": "insert", "data": fileRow(uid, name)})
				}
			}
			if err := json.NewEncoder(w).Encode(map[string]any{"data": changes, "cursor": "next"}); err != nil {
				t.Errorf("failed to encode response: %v", err)
			}

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}
}

func TestUploadAllBatches(t *testing.T) {
	srv := &uploadServer{names: make(map[string]string)}
	client := newSyncClient(t, srv.handler(t))

	entries := make([]*doc.DocData, 25)
	for i := range entries {
		name := fmt.Sprintf("doc%02d.pdf", i)
		entries[i] = &doc.DocData{Fname: name, URL: "https://files.test/" + name}
	}

	opts := Options{Parallelism: 2, Logger: slog.Default()}
	out, err := uploadAll(context.Background(), client, "c1", entries, opts)
	if err != nil {
		t.Fatalf("uploadAll failed: %v", err)
	}

	sizes := append([]int(nil), srv.batches...)
	sort.Ints(sizes)
	if len(sizes) != 2 || sizes[0] != 5 || sizes[1] != 20 {
		t.Errorf("expected upload batches of 20 and 5, got %v", srv.batches)
	}

	for i, e := range entries {
		if out[i] == nil || out[i].UID != "u-"+e.Fname || out[i].Name != e.Fname {
			t.Fatalf("entry %d: expected data for %q aligned by index, got %+v", i, e.Fname, out[i])
		}
	}
}
