package sync

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/google/uuid"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/evidence"
	"github.com/docsift/docsift/internal/label"
	"github.com/docsift/docsift/internal/platform"
	"github.com/docsift/docsift/internal/schema"
)

const (
	// uploadBatchSize bounds how many files travel in a single upload
	// request and in the poll that waits for their processed text.
	uploadBatchSize = 20

	// DefaultBatchSize is the default number of records per update
	// request.
	DefaultBatchSize = 50
)

// Options configures a sync run.
type Options struct {
	// CollectionID targets an existing collection. When empty a new
	// collection is created.
	CollectionID string

	// CollectionName names a newly created collection. When empty a
	// name is derived from CollectionPrefix and a random uuid.
	CollectionName string

	// CollectionPrefix prefixes generated collection names.
	CollectionPrefix string

	// SkipUpload resolves documents already in the collection instead
	// of uploading. Requires CollectionID.
	SkipUpload bool

	// AddFiles locates manifest documents elsewhere in the org and adds
	// them to the collection. Only meaningful with SkipUpload.
	AddFiles bool

	// SkipMissingFiles drops manifest entries whose documents cannot be
	// found anywhere in the org, instead of failing the run.
	SkipMissingFiles bool

	SkipTypeInference bool
	SkipNewFields     bool

	// EmptyLabels writes explicit empty labels for null values.
	EmptyLabels bool

	// MaxFields truncates the local schema. Negative means no limit.
	MaxFields int

	// FirstFile skips the first n manifest entries.
	FirstFile int

	// MaxFiles caps how many entries are processed, keeping labeled
	// entries preferentially. Negative means no limit.
	MaxFiles int

	// BatchSize is the number of records per update request.
	BatchSize int

	// FirstBatch resumes a partially applied update run at the given
	// batch index.
	FirstBatch int

	// CacheDir enables the filesystem cache for resolved file data.
	CacheDir string

	// Parallelism bounds concurrent uploads and retrievals.
	Parallelism int

	Logger *slog.Logger
}

func (o *Options) normalize() error {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU()
	}
	if o.SkipUpload && !o.AddFiles && o.CollectionID == "" {
		return fmt.Errorf("cannot skip uploading when creating a new collection")
	}
	if o.AddFiles && !o.SkipUpload {
		return fmt.Errorf("cannot add existing files to the collection unless upload is skipped")
	}
	if o.FirstFile < 0 {
		return fmt.Errorf("first file index must not be negative")
	}
	if o.FirstBatch < 0 {
		return fmt.Errorf("first batch index must not be negative")
	}
	return nil
}

// Run pushes a manifest's documents and labels into a collection: it
// ensures the collection exists, uploads or resolves each document,
// builds wire labels from every labeled record, reconciles the schema,
// and applies the labels in batched updates.
func Run(ctx context.Context, client *platform.Client, manifest *doc.DocManifest, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	log := opts.Logger

	flat := schema.Flatten(manifest.DocSchema)

	collectionID, err := ensureCollection(ctx, client, &opts)
	if err != nil {
		return err
	}
	log.Info("you can visit the collection at", "url", client.AppURL("fc", collectionID))

	entries, err := selectEntries(manifest, opts)
	if err != nil {
		return err
	}

	fileData, err := resolveFileData(ctx, client, collectionID, entries, opts)
	if err != nil {
		return err
	}

	// Trim down to the labeled entries, dropping duplicate documents.
	var labeled []labeledFile
	seen := make(map[string]struct{})
	for i, e := range entries {
		fd := fileData[i]
		if !e.HasRecord() || fd == nil {
			continue
		}
		if _, dup := seen[fd.UID]; dup {
			log.Warn("skipping duplicate document", "file", e.Fname, "uid", fd.UID)
			continue
		}
		seen[fd.UID] = struct{}{}
		labeled = append(labeled, labeledFile{entry: e, data: fd})
	}
	if len(labeled) == 0 {
		log.Warn("no records have labels; stopping now that uploads have completed")
		return nil
	}

	modelVersions, err := fetchModelVersions(ctx, client, collectionID)
	if err != nil {
		return err
	}

	batches := make([]label.Set, len(labeled))
	for i, lf := range labeled {
		b := &label.Builder{
			FileName:      lf.data.Name,
			Words:         lf.data.Text.Words,
			Index:         evidence.NewIndex(lf.data.Entities),
			ModelVersions: modelVersions,
			EmptyLabels:   opts.EmptyLabels,
			Logger:        log,
		}
		set, err := b.Generate(lf.entry.ParsedRecord())
		if err != nil {
			log.Warn("failed to build labels for document; sending none",
				"file", lf.data.Name, "error", err)
			set = label.Set{}
		}
		batches[i] = set
	}

	remote, err := fetchRemoteSchema(ctx, client, collectionID)
	if err != nil {
		return err
	}

	plan, err := schema.Reconcile(flat, batches, remote, schema.ReconcileOptions{
		SkipTypeInference: opts.SkipTypeInference,
		SkipNewFields:     opts.SkipNewFields,
		MaxFields:         opts.MaxFields,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	for _, chunk := range plan.SpecChunks() {
		log.Info("creating fields", "count", len(chunk))
		if err := client.CreateFields(ctx, collectionID, chunk); err != nil {
			return fmt.Errorf("failed to create fields: %w", err)
		}
	}

	roots := plan.UpdateRoots(flat)

	// Snapshot the model version total before updating, so we can tell
	// when every model has retrained on the new labels. Fields whose
	// values do not change keep their version.
	target, err := modelVersionTarget(ctx, client, collectionID, roots, modelVersions)
	if err != nil {
		return err
	}

	records := make([]map[string]any, len(labeled))
	for i, lf := range labeled {
		rec := map[string]any{"uid": lf.data.UID}
		for name, l := range batches[i] {
			if plan.ShouldUpdate(name) {
				rec[name] = l
			}
		}
		records[i] = rec
	}

	log.Info("running update", "files", len(records), "batch_size", opts.BatchSize)
	if err := applyUpdates(ctx, client, collectionID, records, opts.BatchSize, opts.FirstBatch, log); err != nil {
		return err
	}

	log.Info("done running update; waiting for models to retrain", "files", len(records))
	if err := waitForModelVersions(ctx, client, collectionID, roots, target, log); err != nil {
		return err
	}
	log.Info("done")
	return nil
}

type labeledFile struct {
	entry *doc.DocData
	data  *FileData
}

func ensureCollection(ctx context.Context, client *platform.Client, opts *Options) (string, error) {
	if opts.CollectionID != "" {
		return opts.CollectionID, nil
	}
	name := opts.CollectionName
	if name == "" {
		name = fmt.Sprintf("%s-%s", opts.CollectionPrefix, uuid.New())
	}
	opts.Logger.Info("creating collection", "name", name)
	id, err := client.CreateCollection(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return id, nil
}

// selectEntries applies the first-file offset, then caps the run at
// MaxFiles entries with labeled entries kept preferentially.
func selectEntries(manifest *doc.DocManifest, opts Options) ([]*doc.DocData, error) {
	entries := manifest.Docs
	if opts.FirstFile > len(entries) {
		return nil, fmt.Errorf("first file index %d exceeds manifest size %d", opts.FirstFile, len(entries))
	}
	entries = entries[opts.FirstFile:]

	if opts.MaxFiles >= 0 && opts.MaxFiles < len(entries) {
		sorted := make([]*doc.DocData, len(entries))
		copy(sorted, entries)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].HasRecord() && !sorted[j].HasRecord()
		})
		entries = sorted[:opts.MaxFiles]
	}
	return entries, nil
}
