package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// SyncMode controls when the version ledger log is fsynced.
type SyncMode int

const (
	SyncNone SyncMode = iota
	SyncBatch
	SyncImmediate
)

// Compression codecs for ledger snapshots.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
)

type Config struct {
	Version int `json:"version"`

	// Block storage configuration
	BlockDir string `json:"block_dir"`

	// Version ledger configuration
	LedgerDir              string   `json:"ledger_dir"`
	LedgerSyncMode         SyncMode `json:"ledger_sync_mode"`
	LedgerSyncBytes        int64    `json:"ledger_sync_bytes"`
	LedgerCompactThreshold int64    `json:"ledger_compact_threshold"`
	SnapshotCompression    string   `json:"snapshot_compression"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values.
// The ledger defaults to immediate sync: it is the trust anchor, and a lost
// update would widen the window for replaying stale blocks after a crash.
func NewDefaultConfig(dbPath string) *Config {
	return &Config{
		Version: CurrentManifestVersion,

		BlockDir: filepath.Join(dbPath, "blocks"),

		LedgerDir:              filepath.Join(dbPath, "ledger"),
		LedgerSyncMode:         SyncImmediate,
		LedgerSyncBytes:        64 * 1024,       // 64KB
		LedgerCompactThreshold: 4 * 1024 * 1024, // 4MB
		SnapshotCompression:    CompressionSnappy,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.BlockDir == "" {
		return fmt.Errorf("%w: block directory not specified", ErrInvalidConfig)
	}

	if c.LedgerDir == "" {
		return fmt.Errorf("%w: ledger directory not specified", ErrInvalidConfig)
	}

	if c.LedgerSyncMode < SyncNone || c.LedgerSyncMode > SyncImmediate {
		return fmt.Errorf("%w: unknown ledger sync mode %d", ErrInvalidConfig, c.LedgerSyncMode)
	}

	if c.LedgerSyncMode == SyncBatch && c.LedgerSyncBytes <= 0 {
		return fmt.Errorf("%w: ledger sync bytes must be positive in batch mode", ErrInvalidConfig)
	}

	if c.LedgerCompactThreshold <= 0 {
		return fmt.Errorf("%w: ledger compact threshold must be positive", ErrInvalidConfig)
	}

	switch c.SnapshotCompression {
	case CompressionNone, CompressionSnappy, CompressionZstd:
	default:
		return fmt.Errorf("%w: unknown snapshot compression %q", ErrInvalidConfig, c.SnapshotCompression)
	}

	return nil
}

// LoadConfigFromManifest loads the configuration from the manifest file
func LoadConfigFromManifest(dbPath string) (*Config, error) {
	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveManifest saves the configuration to the manifest file
func (c *Config) SaveManifest(dbPath string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
