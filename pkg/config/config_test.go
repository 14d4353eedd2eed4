package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/latch-test")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero version", func(c *Config) { c.Version = 0 }},
		{"missing block dir", func(c *Config) { c.BlockDir = "" }},
		{"missing ledger dir", func(c *Config) { c.LedgerDir = "" }},
		{"bad sync mode", func(c *Config) { c.LedgerSyncMode = SyncMode(99) }},
		{"batch mode without sync bytes", func(c *Config) {
			c.LedgerSyncMode = SyncBatch
			c.LedgerSyncBytes = 0
		}},
		{"zero compact threshold", func(c *Config) { c.LedgerCompactThreshold = 0 }},
		{"unknown compression", func(c *Config) { c.SnapshotCompression = "lz77" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig("/tmp/latch-test")
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := NewDefaultConfig(dir)
	cfg.Update(func(c *Config) {
		c.SnapshotCompression = CompressionZstd
		c.LedgerCompactThreshold = 12345
	})

	if err := cfg.SaveManifest(dir); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}

	loaded, err := LoadConfigFromManifest(dir)
	if err != nil {
		t.Fatalf("LoadConfigFromManifest failed: %v", err)
	}

	if loaded.SnapshotCompression != CompressionZstd {
		t.Errorf("SnapshotCompression = %q, expected %q", loaded.SnapshotCompression, CompressionZstd)
	}
	if loaded.LedgerCompactThreshold != 12345 {
		t.Errorf("LedgerCompactThreshold = %d, expected 12345", loaded.LedgerCompactThreshold)
	}
	if loaded.LedgerSyncMode != SyncImmediate {
		t.Errorf("LedgerSyncMode = %d, expected SyncImmediate", loaded.LedgerSyncMode)
	}

	// No temp file left behind
	if _, err := os.Stat(filepath.Join(dir, DefaultManifestFileName+".tmp")); !os.IsNotExist(err) {
		t.Error("Temporary manifest file left behind")
	}
}

func TestLoadMissingManifest(t *testing.T) {
	if _, err := LoadConfigFromManifest(t.TempDir()); err != ErrManifestNotFound {
		t.Errorf("Got %v, expected ErrManifestNotFound", err)
	}
}
