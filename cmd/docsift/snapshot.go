package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/sync"
)

var snapOpts = struct {
	collections    []string
	allCollections bool
	nameFilter     string
	exclude        []string

	data          string
	downloadFiles bool
	originalNames bool

	labeledOnly        bool
	filterCollection   string
	labelFilter        string
	allowLowConfidence bool
	fieldMapping       string

	parallelism int
}{}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Pull a collection's labels down as a local document set",
	Long: `Snapshot decodes one or more collections back into a manifest.json plus
(optionally) the documents themselves. By default only confirmed labels
survive; --label-filter treats matching rows as confirmed so their
predictions are kept too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newPlatformClient()
		if err != nil {
			return err
		}

		mapping, err := parseFieldMapping(snapOpts.fieldMapping)
		if err != nil {
			return err
		}

		opts := sync.SnapshotOptions{
			Collections:        snapOpts.collections,
			AllCollections:     snapOpts.allCollections,
			NameFilter:         snapOpts.nameFilter,
			Exclude:            snapOpts.exclude,
			OriginalNames:      snapOpts.originalNames,
			LabeledOnly:        snapOpts.labeledOnly,
			FilterCollectionID: snapOpts.filterCollection,
			LabelFilter:        snapOpts.labelFilter,
			AllowLowConfidence: snapOpts.allowLowConfidence,
			FieldMapping:       mapping,
			Parallelism:        snapOpts.parallelism,
			Logger:             slog.Default(),
		}

		docSchema, records, err := sync.Snapshot(cmd.Context(), client, opts)
		if err != nil {
			return err
		}

		dir := snapOpts.data
		if dir == "" {
			d, err := homeDirs()
			if err != nil {
				return err
			}
			if err := d.EnsureExists(); err != nil {
				return err
			}
			dir = d.SnapshotsPath(snapshotDirName(opts))
		}

		if snapOpts.downloadFiles {
			slog.Info("downloading files", "count", len(records), "dir", dir)
			if err := sync.DownloadFiles(cmd.Context(), records, dir, opts.Parallelism, slog.Default()); err != nil {
				return err
			}
		}
		if err := sync.WriteManifest(dir, docSchema, records, !snapOpts.downloadFiles); err != nil {
			return err
		}

		slog.Info("documents and labels have been written", "dir", dir)
		// Print the directory alone so scripts can capture it
		fmt.Println(dir)
		return nil
	},
}

// snapshotDirName derives a fresh output directory name from the first
// snapshotted collection.
func snapshotDirName(opts sync.SnapshotOptions) string {
	prefix := "all"
	if len(opts.Collections) > 0 {
		prefix = opts.Collections[0]
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:4])
}

// parseFieldMapping parses "src:dst,src2:dst2" into a map.
func parseFieldMapping(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	mapping := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		src, dst, ok := strings.Cut(strings.TrimSpace(pair), ":")
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid field mapping %q (want src:dst)", pair)
		}
		mapping[src] = dst
	}
	return mapping, nil
}

func init() {
	f := snapshotCmd.Flags()
	f.StringSliceVar(&snapOpts.collections, "collection", nil, "uid of a collection to snapshot (repeatable)")
	f.BoolVar(&snapOpts.allCollections, "all-collections", false, "snapshot every collection in the org")
	f.StringVar(&snapOpts.nameFilter, "collection-name-filter", "", "restrict --all-collections to matching names")
	f.StringSliceVar(&snapOpts.exclude, "exclude-collection", nil, "collection uids to skip with --all-collections")

	f.StringVar(&snapOpts.data, "data", "", "output directory (default: a fresh dir under ~/.docsift/snapshots)")
	f.BoolVar(&snapOpts.downloadFiles, "download-files", false, "download the documents next to the manifest")
	f.BoolVar(&snapOpts.originalNames, "original-names", false, "use original filenames without a uid suffix")

	f.BoolVar(&snapOpts.labeledOnly, "labeled-files-only", false, "only snapshot documents with decoded labels")
	f.StringVar(&snapOpts.filterCollection, "filter-collection", "", "only snapshot documents also in this collection uid")
	f.StringVar(&snapOpts.labelFilter, "label-filter", "", "DQL filter; matching rows are treated as confirmed")
	f.BoolVar(&snapOpts.allowLowConfidence, "allow-low-confidence", false, "keep low-confidence predictions on confirmed rows")
	f.StringVar(&snapOpts.fieldMapping, "field-mapping", "", "rename fields while snapshotting (src:dst,...)")

	f.IntVar(&snapOpts.parallelism, "parallelism", 0, "concurrent download workers")
}
