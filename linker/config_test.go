package linker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.defaults()

	if cfg.DBPath != "smartlink.db" {
		t.Errorf("db path: %q", cfg.DBPath)
	}
	if cfg.RevisionKeep != 10 {
		t.Errorf("revision keep: %d", cfg.RevisionKeep)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "db_path: /tmp/links.db\nallowed_containers: [p, ul, blockquote]\nallow_duplicate_links: true\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/links.db" {
		t.Errorf("db path: %q", cfg.DBPath)
	}
	if len(cfg.AllowedContainers) != 3 || cfg.AllowedContainers[2] != "blockquote" {
		t.Errorf("allowed containers: %v", cfg.AllowedContainers)
	}
	if !cfg.AllowDuplicateLinks {
		t.Error("allow_duplicate_links not read")
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := LoadConfigFile("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error")
	}
}
