package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/platform"
)

// addFilesMaxRounds bounds the re-query loop that waits for added files
// to appear in the collection.
const addFilesMaxRounds = 10

// resolveFileData produces one FileData per entry, aligned by index.
// Entries dropped by SkipMissingFiles come back nil.
func resolveFileData(ctx context.Context, client *platform.Client, collectionID string, entries []*doc.DocData, opts Options) ([]*FileData, error) {
	if opts.SkipUpload {
		return resolveExisting(ctx, client, collectionID, entries, opts)
	}
	return uploadAll(ctx, client, collectionID, entries, opts)
}

// uploadAll uploads the documents in batches and waits for each batch's
// processed text and entities. Batches run concurrently, bounded by
// Parallelism.
func uploadAll(ctx context.Context, client *platform.Client, collectionID string, entries []*doc.DocData, opts Options) ([]*FileData, error) {
	log := opts.Logger
	log.Info("uploading files", "count", len(entries))

	files := make([]platform.FilePath, len(entries))
	for i, e := range entries {
		path := e.URL
		if path == "" {
			path = e.Path
			logPageCount(log, e)
		}
		files[i] = platform.FilePath{Name: e.Fname, Path: path}
	}

	out := make([]*FileData, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for start := 0; start < len(files); start += uploadBatchSize {
		start := start
		end := min(start+uploadBatchSize, len(files))
		g.Go(func() error {
			batch, err := uploadBatch(gctx, client, collectionID, files[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func uploadBatch(ctx context.Context, client *platform.Client, collectionID string, files []platform.FilePath) ([]*FileData, error) {
	uids, err := client.UploadFiles(ctx, collectionID, files)
	if err != nil {
		return nil, fmt.Errorf("failed to upload batch: %w", err)
	}
	if len(uids) != len(files) {
		return nil, fmt.Errorf("upload returned %d uids for %d files", len(uids), len(files))
	}

	query := fmt.Sprintf("@`file_collections::%s`%s File.IsPreprocessed=true and in(uid, %s)",
		collectionID, dataProjection, platform.QuoteList(uids))
	rows, err := client.PollInserts(ctx, query, uids, platform.DefaultPollTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for processed text: %w", err)
	}

	byUID := make(map[string]*FileData, len(rows))
	for _, row := range rows {
		fd, err := decodeFileData(row)
		if err != nil {
			return nil, err
		}
		byUID[fd.UID] = fd
	}

	out := make([]*FileData, len(files))
	for i, uid := range uids {
		fd, ok := byUID[uid]
		if !ok {
			return nil, fmt.Errorf("no processed data returned for %s", uid)
		}
		out[i] = fd
	}
	return out, nil
}

// logPageCount reports PDF page counts at debug level so oversized
// uploads are easy to spot. Non-PDF documents are skipped quietly.
func logPageCount(log *slog.Logger, e *doc.DocData) {
	if !strings.HasSuffix(strings.ToLower(e.Fname), ".pdf") {
		return
	}
	f, err := os.Open(e.Path)
	if err != nil {
		return
	}
	defer f.Close()
	pages, err := api.PageCount(f, nil)
	if err != nil {
		log.Debug("could not read page count", "file", e.Fname, "error", err)
		return
	}
	log.Debug("uploading pdf", "file", e.Fname, "pages", pages)
}

// resolveExisting retrieves file data for documents already in the
// collection, optionally adding org files that are not yet members and
// consulting the filesystem cache.
func resolveExisting(ctx context.Context, client *platform.Client, collectionID string, entries []*doc.DocData, opts Options) ([]*FileData, error) {
	log := opts.Logger

	var cache *Cache
	if opts.CacheDir != "" {
		var err error
		cache, err = NewCache(opts.CacheDir, log)
		if err != nil {
			return nil, err
		}
	}

	out := make([]*FileData, len(entries))
	pending := make(map[string][]int) // filename -> entry indices still unresolved
	for i, e := range entries {
		if cache != nil {
			if entry := cache.Get(e.Fname); entry != nil {
				if entry.Missing {
					if !opts.SkipMissingFiles {
						return nil, fmt.Errorf("document %q is cached as missing from the org", e.Fname)
					}
					log.Warn("skipping document cached as missing", "file", e.Fname)
					continue
				}
				out[i] = entry.Data
				continue
			}
		}
		pending[e.Fname] = append(pending[e.Fname], i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	for round := 0; ; round++ {
		byName, err := queryCollectionData(ctx, client, collectionID)
		if err != nil {
			return nil, err
		}

		var missing []string
		for name := range pending {
			if _, ok := byName[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) == 0 || !opts.AddFiles {
			if len(missing) > 0 {
				dropped, err := dropMissing(missing, pending, cache, opts)
				if err != nil {
					return nil, err
				}
				log.Warn("skipping documents not in the collection", "count", dropped)
			}
			for name, indices := range pending {
				fd, ok := byName[name]
				if !ok {
					continue
				}
				if cache != nil {
					cache.Put(name, fd)
				}
				for _, i := range indices {
					out[i] = fd
				}
			}
			return out, nil
		}

		if round >= addFilesMaxRounds {
			return nil, fmt.Errorf("%w: added files did not appear in the collection", platform.ErrPollTimeout)
		}

		added, err := addMissingFiles(ctx, client, collectionID, missing, pending, cache, opts)
		if err != nil {
			return nil, err
		}
		if added == 0 {
			// Everything unfound was dropped; resolve what remains.
			opts.AddFiles = false
		}
	}
}

// addMissingFiles looks the named documents up org-wide and adds the
// matches to the collection. Unfound documents are dropped from pending
// when SkipMissingFiles allows it, and fail the run otherwise.
func addMissingFiles(ctx context.Context, client *platform.Client, collectionID string, missing []string, pending map[string][]int, cache *Cache, opts Options) (int, error) {
	log := opts.Logger

	query := fmt.Sprintf("@files[name: File.name, uid] in(File.name, %s)", platform.QuoteList(missing))
	resp, err := client.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to locate files in the org: %w", err)
	}
	rows, err := resp.Rows()
	if err != nil {
		return 0, err
	}

	uidByName := make(map[string]string, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		uid, _ := row["uid"].(string)
		if name != "" && uid != "" {
			uidByName[name] = uid
		}
	}

	if len(uidByName) < len(missing) {
		var unfound []string
		for _, name := range missing {
			if _, ok := uidByName[name]; !ok {
				unfound = append(unfound, name)
			}
		}
		dropped, err := dropMissing(unfound, pending, cache, opts)
		if err != nil {
			return 0, fmt.Errorf("only found %d/%d files in the org: %w", len(uidByName), len(missing), err)
		}
		log.Warn("skipping documents not found in the org", "count", dropped)
	}
	if len(uidByName) == 0 {
		return 0, nil
	}

	uids := make([]string, 0, len(uidByName))
	for _, uid := range uidByName {
		uids = append(uids, uid)
	}
	log.Info("adding files to collection", "count", len(uids), "collection", collectionID)
	if err := client.AddFilesToCollection(ctx, collectionID, uids); err != nil {
		return 0, fmt.Errorf("failed to add files to collection: %w", err)
	}
	return len(uids), nil
}

// dropMissing removes unfound documents from pending, recording them in
// the cache so later runs skip the org-wide lookup. Fails unless
// SkipMissingFiles is set.
func dropMissing(names []string, pending map[string][]int, cache *Cache, opts Options) (int, error) {
	if !opts.SkipMissingFiles {
		return 0, fmt.Errorf("documents not found: %s", strings.Join(names, ", "))
	}
	for _, name := range names {
		delete(pending, name)
		if cache != nil {
			cache.PutMissing(name)
		}
	}
	return len(names), nil
}

func queryCollectionData(ctx context.Context, client *platform.Client, collectionID string) (map[string]*FileData, error) {
	query := fmt.Sprintf("@`file_collections::%s`%s", collectionID, dataProjection)
	resp, err := client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection contents: %w", err)
	}

	var rows []json.RawMessage
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode collection rows: %w", err)
		}
	}

	byName := make(map[string]*FileData, len(rows))
	for _, row := range rows {
		fd, err := decodeFileData(row)
		if err != nil {
			return nil, err
		}
		byName[fd.Name] = fd
	}
	return byName, nil
}
