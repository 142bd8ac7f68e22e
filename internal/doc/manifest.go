package doc

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ManifestFileName is the manifest file expected in a data directory.
const ManifestFileName = "manifest.json"

//go:embed manifest_schema.json
var manifestSchemaJSON string

var manifestSchema = jsonschema.MustCompileString("manifest_schema.json", manifestSchemaJSON)

// DocData is one document in a manifest: a filename, an optional remote
// URL, and an optional ground-truth record. The record arrives as generic
// JSON and is parsed against the manifest schema by ParseRecords; entries
// without a record participate in upload but not in label sync.
type DocData struct {
	Fname  string          `json:"fname"`
	URL    string          `json:"url,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`

	// Path is the resolved on-disk location (data dir + Fname). Not part
	// of the manifest wire format.
	Path string `json:"-"`

	parsed Record
}

// HasRecord reports whether the entry carries label data.
func (d *DocData) HasRecord() bool {
	return len(d.Record) > 0 && string(d.Record) != "null"
}

// ParsedRecord returns the typed record, or nil for unlabeled entries.
// ParseRecords must have been called on the owning manifest first.
func (d *DocData) ParsedRecord() Record {
	return d.parsed
}

// DocManifest describes a document set: the field schema plus one entry
// per document.
type DocManifest struct {
	DocSchema *DocSchema `json:"doc_schema"`
	Docs      []*DocData `json:"docs"`
}

// LoadManifest reads and validates <dir>/manifest.json, resolves each
// document path against dir, and parses every record against the schema.
// Local files must exist unless the entry carries a URL.
func LoadManifest(dir string) (*DocManifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := ParseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for _, d := range m.Docs {
		d.Path = filepath.Join(dir, d.Fname)
		if d.URL == "" {
			if _, err := os.Stat(d.Path); err != nil {
				return nil, fmt.Errorf("document %q not found in %s and no url given", d.Fname, dir)
			}
		}
	}

	return m, nil
}

// ParseManifest validates raw manifest JSON against the embedded JSON
// Schema, then decodes and type-checks every record.
func ParseManifest(raw []byte) (*DocManifest, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON: %w", err)
	}
	if err := manifestSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("manifest failed validation: %w", err)
	}

	var m DocManifest
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.DocSchema == nil {
		return nil, fmt.Errorf("manifest has no doc_schema")
	}

	if err := m.ParseRecords(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseRecords parses every entry's generic record payload against the
// manifest schema.
func (m *DocManifest) ParseRecords() error {
	for _, d := range m.Docs {
		if !d.HasRecord() {
			continue
		}
		rec, err := ParseRecord(m.DocSchema, d.Record)
		if err != nil {
			return fmt.Errorf("record for %q: %w", d.Fname, err)
		}
		d.parsed = rec
	}
	return nil
}

// SetRecord attaches a typed record to an entry and refreshes its wire
// payload. Used by the snapshot path when writing manifests.
func (d *DocData) SetRecord(schema *DocSchema, rec Record) error {
	if rec == nil {
		d.Record = nil
		d.parsed = nil
		return nil
	}
	raw, err := MarshalRecord(schema, rec)
	if err != nil {
		return err
	}
	d.Record = raw
	d.parsed = rec
	return nil
}
