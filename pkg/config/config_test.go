package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/KevoDB/btkv/pkg/common/log"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Version != CurrentManifestVersion {
		t.Errorf("expected version %d, got %d", CurrentManifestVersion, cfg.Version)
	}

	if cfg.SyncMode != SyncNone {
		t.Errorf("expected sync mode %s, got %s", SyncNone, cfg.SyncMode)
	}

	if cfg.BlockCacheSize != 1024 {
		t.Errorf("expected block cache size %d, got %d", 1024, cfg.BlockCacheSize)
	}

	if cfg.ReadOnly {
		t.Error("expected a writable default config")
	}

	if cfg.Level() != log.LevelInfo {
		t.Errorf("expected log level %s, got %s", log.LevelInfo, cfg.Level())
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()

	// Valid config
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	// Test invalid configs
	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name: "invalid version",
			mutate: func(c *Config) {
				c.Version = 0
			},
			expected: "invalid configuration: invalid version 0",
		},
		{
			name: "negative cache size",
			mutate: func(c *Config) {
				c.BlockCacheSize = -1
			},
			expected: "invalid configuration: block cache size must not be negative",
		},
		{
			name: "unknown sync mode",
			mutate: func(c *Config) {
				c.SyncMode = SyncMode(7)
			},
			expected: "invalid configuration: unknown sync mode 7",
		},
		{
			name: "unknown log level",
			mutate: func(c *Config) {
				c.LogLevel = "chatty"
			},
			expected: `invalid configuration: unknown log level "chatty"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}

			if err.Error() != tc.expected {
				t.Errorf("expected error %q, got %q", tc.expected, err.Error())
			}
		})
	}
}

func TestConfigManifestSaveLoad(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "store.bt")

	cfg := NewDefaultConfig()
	cfg.BlockCacheSize = 64
	cfg.SyncMode = SyncImmediate

	manifest, err := NewManifest(dataPath, cfg, Layout{BlockSize: 256, FragmentSize: 32, EntryDataLen: 32})
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}
	if err := manifest.Save(); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}

	loadedCfg, err := LoadConfigFromManifest(dataPath)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	if loadedCfg.BlockCacheSize != 64 {
		t.Errorf("expected block cache size %d, got %d", 64, loadedCfg.BlockCacheSize)
	}

	if loadedCfg.SyncMode != SyncImmediate {
		t.Errorf("expected sync mode %s, got %s", SyncImmediate, loadedCfg.SyncMode)
	}

	// Test loading non-existent manifest
	_, err = LoadConfigFromManifest(dataPath + ".missing")
	if !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestConfigUpdate(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Update(func(c *Config) {
		c.BlockCacheSize = 0
		c.LogLevel = "debug"
	})

	if cfg.BlockCacheSize != 0 {
		t.Errorf("expected block cache size 0, got %d", cfg.BlockCacheSize)
	}

	if cfg.Level() != log.LevelDebug {
		t.Errorf("expected log level %s, got %s", log.LevelDebug, cfg.Level())
	}
}

func TestConfigClone(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ReadOnly = true

	clone, err := cfg.Clone()
	if err != nil {
		t.Fatalf("failed to clone config: %v", err)
	}

	clone.ReadOnly = false
	clone.BlockCacheSize = 7

	if !cfg.ReadOnly || cfg.BlockCacheSize != 1024 {
		t.Error("changing the clone changed the original")
	}
}

func TestParseSyncMode(t *testing.T) {
	for name, want := range map[string]SyncMode{"none": SyncNone, "IMMEDIATE": SyncImmediate, "": SyncNone} {
		got, err := ParseSyncMode(name)
		if err != nil || got != want {
			t.Errorf("ParseSyncMode(%q) = %v, %v; want %v", name, got, err, want)
		}
	}

	if _, err := ParseSyncMode("sometimes"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
