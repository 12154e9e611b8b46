package appconfig

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("HOME", "/home/ops")
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.Source.Port != "COM7" || cfg.Source.Baud != 115200 {
		t.Fatalf("unexpected source defaults %+v", cfg.Source)
	}
	if cfg.HTTP.HistorySize != 1000 {
		t.Fatalf("history size = %d", cfg.HTTP.HistorySize)
	}
	if !strings.HasPrefix(cfg.StateDir, filepath.Join("/home/ops", ".groundstation")) {
		t.Fatalf("state dir = %q", cfg.StateDir)
	}
	if len(cfg.Permissions.GlobalDefault) != 0 {
		t.Fatalf("global default should start empty (meaning all widgets)")
	}
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default path: %v", err)
	}
	if path != "/home/ops/.groundstation/config.yaml" {
		t.Fatalf("default path = %q", path)
	}
}
