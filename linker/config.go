package linker

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all linker configuration.
type Config struct {
	DBPath string `yaml:"db_path"`

	// AllowedContainers is the block-element allow-list for link placement.
	// Empty means the engine default (p, ul).
	AllowedContainers []string `yaml:"allowed_containers"`

	// AllowDuplicateLinks disables the one-applied-link-per-destination guard.
	AllowDuplicateLinks bool `yaml:"allow_duplicate_links"`

	// RevisionKeep is how many content snapshots to retain per document.
	RevisionKeep int `yaml:"revision_keep"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "smartlink.db"
	}
	if c.RevisionKeep <= 0 {
		c.RevisionKeep = 10
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
