package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the docsift home directory.
	DefaultDirName = ".docsift"

	// CacheDirName is the subdirectory for resolved-document cache data.
	CacheDirName = "cache"

	// SnapshotsDirName is the subdirectory for snapshot output.
	SnapshotsDirName = "snapshots"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// CredentialsFileName holds saved org credentials.
	CredentialsFileName = "credentials.yaml"
)

// Dir represents the docsift home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.docsift).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// CredentialsPath returns the path to the saved credentials file.
func (d *Dir) CredentialsPath() string {
	return filepath.Join(d.path, CredentialsFileName)
}

// CachePath returns the resolved-document cache directory for one
// collection.
func (d *Dir) CachePath(collectionID string) string {
	return filepath.Join(d.path, CacheDirName, collectionID)
}

// SnapshotsPath returns the output directory for a snapshot run.
func (d *Dir) SnapshotsPath(name string) string {
	return filepath.Join(d.path, SnapshotsDirName, name)
}

// EnsureExists creates the home directory and subdirectories if they
// don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(filepath.Join(d.path, CacheDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(d.path, SnapshotsDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
