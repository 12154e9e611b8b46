package appconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":27580" || cfg.Viewer.ReconnectSeconds != 2 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverridesSections(t *testing.T) {
	t.Setenv("GS_PORT", "/dev/ttyUSB0")
	path := writeConfig(t, `
config_version: 1
state_dir: /var/lib/groundstation
http:
  addr: 127.0.0.1:9000
  allowed_origins:
    - "https://ground.example"
source:
  port: $GS_PORT
  baud: 57600
permissions:
  global_default: [Altitude, Map]
admin:
  password_hash: $2a$10$abcdefghijklmnopqrstuu
viewer:
  store_backend: sqlite
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != "/var/lib/groundstation" || cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.HTTP.AllowedOrigins, []string{"https://ground.example"}) {
		t.Fatalf("origins = %v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.Source.Port != "/dev/ttyUSB0" || cfg.Source.Baud != 57600 || cfg.Source.IntervalMS != 100 {
		t.Fatalf("source = %+v", cfg.Source)
	}
	if !reflect.DeepEqual(cfg.Permissions.GlobalDefault, []string{"Altitude", "Map"}) {
		t.Fatalf("global default = %v", cfg.Permissions.GlobalDefault)
	}
	if cfg.Admin.PasswordHash != "$2a$10$abcdefghijklmnopqrstuu" {
		t.Fatalf("password hash altered: %q", cfg.Admin.PasswordHash)
	}
	if cfg.Viewer.StoreBackend != "sqlite" {
		t.Fatalf("store backend = %q", cfg.Viewer.StoreBackend)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 4
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"http.base_path":       "http:\n  base_path: https://example.com/x\n",
		"viewer.store_backend": "viewer:\n  store_backend: redis\n",
		"viewer.server":        "viewer:\n  server: http://localhost:1/ws\n",
		"source.baud":          "source:\n  baud: 0\n",
	}
	for key, body := range cases {
		path := writeConfig(t, "config_version: 1\n"+body)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), key) {
			t.Fatalf("%s: expected error, got %v", key, err)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("written default should load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
