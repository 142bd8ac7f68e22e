package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/label"
	"github.com/docsift/docsift/internal/platform"
	"github.com/docsift/docsift/internal/schema"
)

// SnapshotOptions configures a snapshot run.
type SnapshotOptions struct {
	// Collections lists the collection ids to snapshot. Mutually
	// exclusive with AllCollections.
	Collections []string

	// AllCollections snapshots every collection in the org.
	AllCollections bool

	// NameFilter restricts AllCollections to collections whose name
	// matches.
	NameFilter string

	// Exclude drops the named collection ids from AllCollections.
	Exclude []string

	// OriginalNames uses the documents' original filenames instead of
	// appending the file uid. Fails when two documents share a name.
	OriginalNames bool

	// LabeledOnly drops documents whose decoded record is empty.
	LabeledOnly bool

	// FilterCollectionID restricts the snapshot to documents that are
	// also members of the given collection.
	FilterCollectionID string

	// LabelFilter is a DQL filter; rows matching it are treated as
	// confirmed, so their predicted labels survive the decode.
	LabelFilter string

	// AllowLowConfidence keeps low-confidence predictions on rows where
	// predictions are allowed at all.
	AllowLowConfidence bool

	// FieldMapping renames wire fields to output fields.
	FieldMapping map[string]string

	Parallelism int

	Logger *slog.Logger
}

func (o *SnapshotOptions) normalize() error {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU()
	}
	if len(o.Collections) > 0 == o.AllCollections {
		return fmt.Errorf("must select either explicit collections or all collections")
	}
	return nil
}

// SnapshotRecord is one snapshotted document: its output filename, the
// platform download URL, and the decoded record (nil when unlabeled).
type SnapshotRecord struct {
	Name   string
	URL    string
	Record doc.Record
}

// Snapshot decodes one or more collections back into a local schema and
// records. Schemas are merged across collections; later collections win
// on field-name collisions.
func Snapshot(ctx context.Context, client *platform.Client, opts SnapshotOptions) (*doc.DocSchema, []SnapshotRecord, error) {
	if err := opts.normalize(); err != nil {
		return nil, nil, err
	}
	log := opts.Logger

	collections := opts.Collections
	if opts.AllCollections {
		var err error
		collections, err = listCollections(ctx, client, opts.NameFilter, opts.Exclude)
		if err != nil {
			return nil, nil, err
		}
	}

	merged := doc.NewDocSchema()
	var records []SnapshotRecord
	for _, id := range collections {
		log.Info("snapshotting collection", "url", client.AppURL("fc", id))
		collectionSchema, collectionRecords, err := snapshotCollection(ctx, client, id, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("collection %s: %w", id, err)
		}
		merged.Merge(collectionSchema)
		records = append(records, collectionRecords...)
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, dup := seen[r.Name]; dup {
			return nil, nil, fmt.Errorf("expected each filename to be unique, got %q twice (drop --original-names?)", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return merged, records, nil
}

func listCollections(ctx context.Context, client *platform.Client, nameFilter string, exclude []string) ([]string, error) {
	query := "@file_collections[uid]"
	if nameFilter != "" {
		query = fmt.Sprintf("%s name:'%s'", query, nameFilter)
	}
	resp, err := client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	rows, err := resp.Rows()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, row := range rows {
		uid, _ := row["uid"].(string)
		if uid == "" || slices.Contains(exclude, uid) {
			continue
		}
		out = append(out, uid)
	}
	return out, nil
}

func snapshotCollection(ctx context.Context, client *platform.Client, collectionID string, opts SnapshotOptions) (*doc.DocSchema, []SnapshotRecord, error) {
	log := opts.Logger

	resp, err := client.Query(ctx, fmt.Sprintf("@`file_collections::%s`", collectionID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if resp.Schema == nil {
		return doc.NewDocSchema(), nil, nil
	}
	wireSchema, err := schema.ParseRemoteFields(schema.FilterInferred(resp.Schema.Children))
	if err != nil {
		return nil, nil, err
	}
	outSchema := label.RemapSchema(wireSchema, opts.FieldMapping)

	rows, err := resp.Rows()
	if err != nil {
		return nil, nil, err
	}

	var confirmed map[string]struct{}
	if opts.LabelFilter != "" {
		confirmed, err = queryUIDSet(ctx, client,
			fmt.Sprintf("@`file_collections::%s`[uid] %s", collectionID, opts.LabelFilter))
		if err != nil {
			return nil, nil, err
		}
	}

	var member map[string]struct{}
	if opts.FilterCollectionID != "" {
		member, err = queryUIDSet(ctx, client,
			fmt.Sprintf("@`file_collections::%s`[uid]", opts.FilterCollectionID))
		if err != nil {
			return nil, nil, err
		}
	}

	var records []SnapshotRecord
	for _, row := range rows {
		uid, _ := row["uid"].(string)
		if member != nil {
			if _, ok := member[uid]; !ok {
				continue
			}
		}

		name, url, err := rowFile(row, uid, opts.OriginalNames)
		if err != nil {
			log.Warn("skipping malformed row", "uid", uid, "error", err)
			continue
		}

		_, allowPredictions := confirmed[uid]
		rec := label.RowToRecord(row, outSchema, label.DecodeOptions{
			AllowPredictions:   allowPredictions,
			AllowLowConfidence: allowPredictions && opts.AllowLowConfidence,
			FieldMapping:       opts.FieldMapping,
			Logger:             log,
		})
		if rec == nil && opts.LabeledOnly {
			continue
		}
		records = append(records, SnapshotRecord{Name: name, URL: url, Record: rec})
	}
	return outSchema, records, nil
}

// queryUIDSet runs a [uid]-projected query and collects the result uids.
func queryUIDSet(ctx context.Context, client *platform.Client, query string) (map[string]struct{}, error) {
	resp, err := client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query uid filter: %w", err)
	}
	rows, err := resp.Rows()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if uid, _ := row["uid"].(string); uid != "" {
			set[uid] = struct{}{}
		}
	}
	return set, nil
}

// rowFile extracts the output filename and download URL from a row's
// File column. Unless originalNames is set, the file uid is spliced in
// before the extension so names stay unique across duplicates.
func rowFile(row map[string]any, uid string, originalNames bool) (string, string, error) {
	file, ok := row["File"].(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("row has no File column")
	}
	name, _ := file["name"].(string)
	if name == "" {
		return "", "", fmt.Errorf("row has no file name")
	}
	url, _ := file["download_url"].(string)

	if !originalNames {
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[:i] + "-" + uid + name[i:]
		} else {
			name = name + "-" + uid
		}
	}
	return name, url, nil
}

// DownloadFiles fetches every record's document into dir, bounded by
// parallelism.
func DownloadFiles(ctx context.Context, records []SnapshotRecord, dir string, parallelism int, log *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, r := range records {
		r := r
		g.Go(func() error {
			log.Debug("downloading", "file", r.Name)
			return downloadFile(gctx, r.URL, filepath.Join(dir, r.Name))
		})
	}
	return g.Wait()
}

func downloadFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", path, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteManifest serializes a snapshot into <dir>/manifest.json. With
// includeURLs the documents stay remote; otherwise the manifest refers
// to files already downloaded next to it.
func WriteManifest(dir string, docSchema *doc.DocSchema, records []SnapshotRecord, includeURLs bool) error {
	manifest := &doc.DocManifest{DocSchema: docSchema}
	for _, r := range records {
		d := &doc.DocData{Fname: r.Name}
		if includeURLs {
			d.URL = r.URL
		}
		if r.Record != nil {
			if err := d.SetRecord(docSchema, r.Record); err != nil {
				return fmt.Errorf("document %q: %w", r.Name, err)
			}
		}
		manifest.Docs = append(manifest.Docs, d)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	path := filepath.Join(dir, doc.ManifestFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
