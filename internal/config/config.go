// internal/config/config.go
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type Config struct {
	// DataDir holds the repository: badger database, blob objects, and the
	// search index database.
	DataDir string `json:"data_dir"`

	LogLevel     string `json:"log_level"` // debug, info, warn, error
	CacheSize    int    `json:"cache_size"`
	QueueDepth   int    `json:"queue_depth"`
	ContextLines int    `json:"context_lines"`

	// RenameThreshold is the minimum shared-line similarity for advisory
	// rename detection, in (0, 1].
	RenameThreshold float64 `json:"rename_threshold"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		DataDir:         ".scribe",
		LogLevel:        "info",
		CacheSize:       1000,
		QueueDepth:      64,
		ContextLines:    3,
		RenameThreshold: 0.5,
	}
}

// Path returns the config file location, overridable via SCRIBE_CONFIG.
func Path() string {
	if p := os.Getenv("SCRIBE_CONFIG"); p != "" {
		return p
	}
	return "scribe.json"
}

// Load reads the config file at path, falling back to defaults for a missing
// file and for any omitted field.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BadgerDir returns the badger database location under the data dir.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.DataDir, "db")
}

// ObjectsDir returns the blob store location under the data dir.
func (c *Config) ObjectsDir() string {
	return filepath.Join(c.DataDir, "objects")
}

// IndexPath returns the search index database location under the data dir.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.db")
}
