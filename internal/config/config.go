// Package config loads the backup configuration file: a source directory
// and a passphrase, the same two fields chup/__init__.py's Config reads
// from a TOML file via tomllib.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Backup holds the [backup] table of a chup-style config file.
type Backup struct {
	DirToBackup string `toml:"dir_to_backup"`
	Password    string `toml:"password"`
}

// Config is the root document: currently just the [backup] table.
type Config struct {
	Backup Backup `toml:"backup"`
}

// Load reads and parses a config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &cfg, nil
}

// DirToBackup returns the configured source directory.
func (c *Config) DirToBackup() string { return c.Backup.DirToBackup }

// Password returns the configured passphrase.
func (c *Config) Password() string { return c.Backup.Password }
