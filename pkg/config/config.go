package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/KevoDB/btkv/pkg/common/log"
)

const (
	// ManifestSuffix is appended to the data file path to name its manifest
	ManifestSuffix         = ".manifest"
	CurrentManifestVersion = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
	ErrLayoutMismatch   = errors.New("file layout does not match this build")
)

// SyncMode controls when the data file is flushed to stable storage
type SyncMode int

const (
	// SyncNone leaves flushing to the operating system and Close
	SyncNone SyncMode = iota
	// SyncImmediate flushes after every mutating call
	SyncImmediate
)

func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("syncmode(%d)", int(m))
	}
}

// ParseSyncMode converts a sync mode name into a SyncMode
func ParseSyncMode(name string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return SyncNone, nil
	case "immediate":
		return SyncImmediate, nil
	default:
		return SyncNone, fmt.Errorf("%w: unknown sync mode %q", ErrInvalidConfig, name)
	}
}

type Config struct {
	Version int `json:"version"`

	// Block cache size in blocks; 0 disables the cache
	BlockCacheSize int `json:"block_cache_size"`

	SyncMode SyncMode `json:"sync_mode"`
	ReadOnly bool     `json:"read_only"`
	LogLevel string   `json:"log_level"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version:        CurrentManifestVersion,
		BlockCacheSize: 1024, // 256KB of 256-byte blocks
		SyncMode:       SyncNone,
		LogLevel:       "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.BlockCacheSize < 0 {
		return fmt.Errorf("%w: block cache size must not be negative", ErrInvalidConfig)
	}

	if c.SyncMode != SyncNone && c.SyncMode != SyncImmediate {
		return fmt.Errorf("%w: unknown sync mode %d", ErrInvalidConfig, c.SyncMode)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

// Level returns the configured log level
func (c *Config) Level() log.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

// Clone returns an independent copy of the configuration
func (c *Config) Clone() (*Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &clone, nil
}

// LoadConfigFromManifest loads just the configuration portion from the
// manifest kept next to the data file at dataPath
func LoadConfigFromManifest(dataPath string) (*Config, error) {
	m, err := LoadManifest(dataPath)
	if err != nil {
		return nil, err
	}
	return m.GetConfig(), nil
}

// ManifestPath returns where the manifest of the data file at dataPath lives
func ManifestPath(dataPath string) string {
	return dataPath + ManifestSuffix
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
