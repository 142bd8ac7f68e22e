package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-docsift")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-docsift" {
			t.Errorf("expected path /tmp/test-docsift, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-docsift")

	t.Run("ConfigPath", func(t *testing.T) {
		expected := "/tmp/test-docsift/config.yaml"
		if dir.ConfigPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ConfigPath())
		}
	})

	t.Run("CredentialsPath", func(t *testing.T) {
		expected := "/tmp/test-docsift/credentials.yaml"
		if dir.CredentialsPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.CredentialsPath())
		}
	})

	t.Run("CachePath", func(t *testing.T) {
		expected := "/tmp/test-docsift/cache/abc123"
		if dir.CachePath("abc123") != expected {
			t.Errorf("expected %s, got %s", expected, dir.CachePath("abc123"))
		}
	})

	t.Run("SnapshotsPath", func(t *testing.T) {
		expected := "/tmp/test-docsift/snapshots/run-1"
		if dir.SnapshotsPath("run-1") != expected {
			t.Errorf("expected %s, got %s", expected, dir.SnapshotsPath("run-1"))
		}
	})
}

func TestDir_EnsureExists(t *testing.T) {
	// Use a temp directory
	tmpDir := t.TempDir()
	homePath := filepath.Join(tmpDir, "docsift-test")

	dir, err := New(homePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Directory shouldn't exist yet
	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}

	// Create it
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}

	// Now it should exist
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}

	// Subdirectories should also exist
	if _, err := os.Stat(filepath.Join(homePath, CacheDirName)); os.IsNotExist(err) {
		t.Error("cache directory should exist after EnsureExists")
	}
	if _, err := os.Stat(filepath.Join(homePath, SnapshotsDirName)); os.IsNotExist(err) {
		t.Error("snapshots directory should exist after EnsureExists")
	}
}

func TestDir_ConfigExists(t *testing.T) {
	tmpDir := t.TempDir()
	dir, _ := New(tmpDir)

	// Config doesn't exist
	if dir.ConfigExists() {
		t.Error("config should not exist initially")
	}

	// Create a config file
	configPath := dir.ConfigPath()
	if err := os.WriteFile(configPath, []byte("test: true\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	// Now it should exist
	if !dir.ConfigExists() {
		t.Error("config should exist after creation")
	}
}
