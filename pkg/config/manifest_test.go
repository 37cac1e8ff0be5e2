package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var testLayout = Layout{BlockSize: 256, FragmentSize: 32, EntryDataLen: 32}

func TestNewManifest(t *testing.T) {
	dataPath := "/tmp/testdb.bt"
	cfg := NewDefaultConfig()

	manifest, err := NewManifest(dataPath, cfg, testLayout)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	if manifest.DataPath != dataPath {
		t.Errorf("expected DataPath %s, got %s", dataPath, manifest.DataPath)
	}

	if len(manifest.Entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(manifest.Entries))
	}

	if manifest.Current == nil {
		t.Error("current entry is nil")
	} else if manifest.Current.Config != cfg {
		t.Error("current config does not match the provided config")
	}

	if manifest.GetLayout() != testLayout {
		t.Errorf("expected layout %+v, got %+v", testLayout, manifest.GetLayout())
	}

	// An invalid config is rejected up front
	bad := NewDefaultConfig()
	bad.Version = 0
	if _, err := NewManifest(dataPath, bad, testLayout); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestManifestUpdateConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	manifest, err := NewManifest("/tmp/testdb.bt", cfg, testLayout)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	err = manifest.UpdateConfig(func(c *Config) {
		c.BlockCacheSize = 4096
		c.SyncMode = SyncImmediate
	})
	if err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	if len(manifest.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(manifest.Entries))
	}

	current := manifest.GetConfig()
	if current.BlockCacheSize != 4096 {
		t.Errorf("expected block cache size %d, got %d", 4096, current.BlockCacheSize)
	}
	if current.SyncMode != SyncImmediate {
		t.Errorf("expected sync mode %s, got %s", SyncImmediate, current.SyncMode)
	}

	// The earlier entry keeps its own copy
	if cfg.BlockCacheSize != 1024 {
		t.Errorf("original config changed to %d", cfg.BlockCacheSize)
	}

	// Invalid updates are refused and leave the history alone
	err = manifest.UpdateConfig(func(c *Config) {
		c.BlockCacheSize = -5
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if len(manifest.Entries) != 2 {
		t.Errorf("expected 2 entries after a refused update, got %d", len(manifest.Entries))
	}
}

func TestManifestSaveLoad(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "nested", "store.bt")

	manifest, err := NewManifest(dataPath, NewDefaultConfig(), testLayout)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	err = manifest.UpdateConfig(func(c *Config) {
		c.LogLevel = "warn"
	})
	if err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	if err := manifest.Save(); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}

	if _, err := os.Stat(ManifestPath(dataPath)); err != nil {
		t.Fatalf("manifest not written next to the data file: %v", err)
	}

	loadedManifest, err := LoadManifest(dataPath)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	if len(loadedManifest.Entries) != len(manifest.Entries) {
		t.Errorf("expected %d entries, got %d", len(manifest.Entries), len(loadedManifest.Entries))
	}

	if loadedManifest.GetConfig().LogLevel != "warn" {
		t.Errorf("expected log level warn, got %s", loadedManifest.GetConfig().LogLevel)
	}

	if err := loadedManifest.GetLayout().Check(testLayout); err != nil {
		t.Errorf("layout check failed: %v", err)
	}
}

func TestManifestInvalidFile(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "store.bt")

	if err := os.WriteFile(ManifestPath(dataPath), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(dataPath); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("expected ErrInvalidManifest, got %v", err)
	}

	if err := os.WriteFile(ManifestPath(dataPath), []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(dataPath); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("expected ErrInvalidManifest for an empty manifest, got %v", err)
	}
}

func TestLayoutCheck(t *testing.T) {
	other := testLayout
	other.BlockSize = 512

	if err := testLayout.Check(other); !errors.Is(err, ErrLayoutMismatch) {
		t.Errorf("expected ErrLayoutMismatch, got %v", err)
	}
	if err := testLayout.Check(testLayout); err != nil {
		t.Errorf("expected matching layouts to pass, got %v", err)
	}
}
