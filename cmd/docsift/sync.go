package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/sync"
)

var syncOpts = struct {
	data string

	collectionID     string
	collectionName   string
	collectionPrefix string

	skipUpload        bool
	addFiles          bool
	skipMissingFiles  bool
	skipTypeInference bool
	skipNewFields     bool
	emptyLabels       bool

	maxFields   int
	firstFile   int
	maxFiles    int
	batchSize   int
	firstBatch  int
	parallelism int

	useCache bool
	cacheDir string
}{}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push a labeled document set into a collection",
	Long: `Sync reads <data>/manifest.json, uploads (or resolves) every document,
builds labels anchored to the platform's OCR output, reconciles the
collection's field schema, and applies the labels in batched updates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := doc.LoadManifest(syncOpts.data)
		if err != nil {
			return err
		}

		client, err := newPlatformClient()
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		opts := sync.Options{
			CollectionID:      syncOpts.collectionID,
			CollectionName:    syncOpts.collectionName,
			CollectionPrefix:  syncOpts.collectionPrefix,
			SkipUpload:        syncOpts.skipUpload,
			AddFiles:          syncOpts.addFiles,
			SkipMissingFiles:  syncOpts.skipMissingFiles,
			SkipTypeInference: syncOpts.skipTypeInference,
			SkipNewFields:     syncOpts.skipNewFields,
			EmptyLabels:       syncOpts.emptyLabels,
			MaxFields:         syncOpts.maxFields,
			FirstFile:         syncOpts.firstFile,
			MaxFiles:          syncOpts.maxFiles,
			BatchSize:         syncOpts.batchSize,
			FirstBatch:        syncOpts.firstBatch,
			CacheDir:          syncOpts.cacheDir,
			Parallelism:       syncOpts.parallelism,
			Logger:            slog.Default(),
		}
		if opts.CollectionPrefix == "" {
			opts.CollectionPrefix = cfg.Sync.CollectionPrefix
		}
		if opts.BatchSize <= 0 {
			opts.BatchSize = cfg.Sync.BatchSize
		}
		if opts.Parallelism <= 0 {
			opts.Parallelism = cfg.Sync.Parallelism
		}
		if syncOpts.useCache && opts.CacheDir == "" {
			if opts.CollectionID == "" {
				return fmt.Errorf("--use-cache requires --collection")
			}
			d, err := homeDirs()
			if err != nil {
				return err
			}
			if err := d.EnsureExists(); err != nil {
				return err
			}
			opts.CacheDir = d.CachePath(opts.CollectionID)
		}

		return sync.Run(cmd.Context(), client, manifest, opts)
	},
}

func init() {
	f := syncCmd.Flags()
	f.StringVar(&syncOpts.data, "data", "", "directory containing manifest.json and documents")
	_ = syncCmd.MarkFlagRequired("data")

	f.StringVar(&syncOpts.collectionID, "collection", "", "uid of an existing collection to sync into")
	f.StringVar(&syncOpts.collectionName, "collection-name", "", "name for a newly created collection")
	f.StringVar(&syncOpts.collectionPrefix, "collection-prefix", "", "prefix for generated collection names")

	f.BoolVar(&syncOpts.skipUpload, "skip-upload", false, "resolve documents already in the collection instead of uploading")
	f.BoolVar(&syncOpts.addFiles, "add-files", false, "add org files missing from the collection (requires --skip-upload)")
	f.BoolVar(&syncOpts.skipMissingFiles, "skip-missing-files", false, "drop manifest entries whose documents cannot be found")
	f.BoolVar(&syncOpts.skipTypeInference, "skip-type-inference", false, "disable entity-evidence type narrowing")
	f.BoolVar(&syncOpts.skipNewFields, "skip-new-fields", false, "only label fields that already exist remotely")
	f.BoolVar(&syncOpts.emptyLabels, "empty-labels", false, "write explicit empty labels for null values")

	f.IntVar(&syncOpts.maxFields, "max-fields", -1, "cap the number of schema fields synced (-1 for all)")
	f.IntVar(&syncOpts.firstFile, "first-file", 0, "skip the first n manifest entries")
	f.IntVar(&syncOpts.maxFiles, "max-files", -1, "cap the number of documents synced, keeping labeled ones (-1 for all)")
	f.IntVar(&syncOpts.batchSize, "batch-size", 0, "records per update request (default from config)")
	f.IntVar(&syncOpts.firstBatch, "first-batch", 0, "resume updates at this batch index")
	f.IntVar(&syncOpts.parallelism, "parallelism", 0, "concurrent upload/retrieval workers (default from config)")

	f.BoolVar(&syncOpts.useCache, "use-cache", false, "cache resolved documents under the home directory")
	f.StringVar(&syncOpts.cacheDir, "cache-dir", "", "explicit cache directory (implies --use-cache)")
}
