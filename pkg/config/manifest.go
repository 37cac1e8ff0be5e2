package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Layout records the block geometry a data file was created with. A file
// can only be opened by a build with the same geometry.
type Layout struct {
	BlockSize    int `json:"block_size"`
	FragmentSize int `json:"fragment_size"`
	EntryDataLen int `json:"entry_data_len"`
}

// Check returns ErrLayoutMismatch when other differs from l
func (l Layout) Check(other Layout) error {
	if l != other {
		return fmt.Errorf("%w: file has %+v, build has %+v", ErrLayoutMismatch, l, other)
	}
	return nil
}

type ManifestEntry struct {
	Timestamp int64   `json:"timestamp"`
	Version   int     `json:"version"`
	Config    *Config `json:"config"`
	Layout    Layout  `json:"layout"`
}

// Manifest is the JSON sidecar of a data file. It keeps every
// configuration the file has been used with; the last entry is current.
type Manifest struct {
	DataPath   string
	Entries    []ManifestEntry
	Current    *ManifestEntry
	LastUpdate time.Time
	mu         sync.RWMutex
}

// NewManifest creates a new manifest for the data file at dataPath
func NewManifest(dataPath string, config *Config, layout Layout) (*Manifest, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    config,
		Layout:    layout,
	}

	m := &Manifest{
		DataPath:   dataPath,
		Entries:    []ManifestEntry{entry},
		LastUpdate: time.Now(),
	}
	m.Current = &m.Entries[0]

	return m, nil
}

// LoadManifest loads the manifest of the data file at dataPath
func LoadManifest(dataPath string) (*Manifest, error) {
	manifestPath := ManifestPath(dataPath)
	file, err := os.Open(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries in manifest", ErrInvalidManifest)
	}

	current := &entries[len(entries)-1]
	if current.Config == nil {
		return nil, fmt.Errorf("%w: current entry has no config", ErrInvalidManifest)
	}
	if err := current.Config.Validate(); err != nil {
		return nil, err
	}

	m := &Manifest{
		DataPath:   dataPath,
		Entries:    entries,
		Current:    current,
		LastUpdate: time.Now(),
	}

	return m, nil
}

// Save persists the manifest next to the data file
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Current.Config.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.DataPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := ManifestPath(m.DataPath)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(m.Entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	m.LastUpdate = time.Now()
	return nil
}

// UpdateConfig creates a new configuration entry
func (m *Manifest) UpdateConfig(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newConfig, err := m.Current.Config.Clone()
	if err != nil {
		return err
	}

	// Apply the update function
	fn(newConfig)

	// Validate the new config
	if err := newConfig.Validate(); err != nil {
		return err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    newConfig,
		Layout:    m.Current.Layout,
	}

	m.Entries = append(m.Entries, entry)
	m.Current = &m.Entries[len(m.Entries)-1]

	return nil
}

// GetConfig returns the current configuration
func (m *Manifest) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Current.Config
}

// GetLayout returns the geometry the data file was created with
func (m *Manifest) GetLayout() Layout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Current.Layout
}
