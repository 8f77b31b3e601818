package audit

import (
	"fmt"

	"github.com/kilianp07/parlock/core/audit"
)

// Config selects and tunes the audit backend.
type Config struct {
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults fills unset rotation values.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "data/audit.db"
		default:
			c.Path = "data/audit.jsonl"
		}
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
}

// Validate checks the backend name.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite", "none":
		return nil
	default:
		return fmt.Errorf("audit: unknown backend %q", c.Backend)
	}
}

// New opens the configured store.
func New(c Config) (audit.Store, error) {
	switch c.Backend {
	case "sqlite":
		return NewSQLiteStore(c.Path)
	case "none":
		return audit.NopStore{}, nil
	case "jsonl", "":
		return NewJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	default:
		return nil, fmt.Errorf("audit: unknown backend %q", c.Backend)
	}
}
