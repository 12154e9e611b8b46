package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.allowed_origins", cfg.HTTP.AllowedOrigins)
	v.SetDefault("http.history_size", cfg.HTTP.HistorySize)
	v.SetDefault("http.handshake_timeout_seconds", cfg.HTTP.HandshakeTimeoutSeconds)
	v.SetDefault("http.ping_interval_seconds", cfg.HTTP.PingIntervalSeconds)
	v.SetDefault("http.shutdown_timeout_seconds", cfg.HTTP.ShutdownTimeoutSeconds)
	v.SetDefault("ssh.enabled", cfg.SSH.Enabled)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys_path", cfg.SSH.AuthorizedKeysPath)
	v.SetDefault("source.port", cfg.Source.Port)
	v.SetDefault("source.baud", cfg.Source.Baud)
	v.SetDefault("source.interval_ms", cfg.Source.IntervalMS)
	v.SetDefault("source.probe_timeout_ms", cfg.Source.ProbeTimeoutMS)
	v.SetDefault("source.retry_delay_ms", cfg.Source.RetryDelayMS)
	v.SetDefault("permissions.global_default", cfg.Permissions.GlobalDefault)
	v.SetDefault("admin.password_hash", cfg.Admin.PasswordHash)
	v.SetDefault("admin.totp_secret", cfg.Admin.TOTPSecret)
	v.SetDefault("viewer.server", cfg.Viewer.Server)
	v.SetDefault("viewer.store_backend", cfg.Viewer.StoreBackend)
	v.SetDefault("viewer.store_path", cfg.Viewer.StorePath)
	v.SetDefault("viewer.session_path", cfg.Viewer.SessionPath)
	v.SetDefault("viewer.reconnect_seconds", cfg.Viewer.ReconnectSeconds)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	basePath := strings.TrimSpace(cfg.HTTP.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	if cfg.HTTP.HistorySize < 0 {
		return fmt.Errorf("http.history_size must not be negative")
	}
	if cfg.Source.Baud <= 0 {
		return fmt.Errorf("source.baud must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Viewer.StoreBackend)) {
	case "", "file", "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported viewer.store_backend %q", cfg.Viewer.StoreBackend)
	}
	server := strings.TrimSpace(cfg.Viewer.Server)
	if server != "" {
		parsed, err := url.Parse(server)
		if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") || parsed.Host == "" {
			return fmt.Errorf("viewer.server must be a ws:// or wss:// URL")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeysPath = expandEnv(cfg.SSH.AuthorizedKeysPath)
	cfg.Source.Port = expandEnv(cfg.Source.Port)
	cfg.Admin.PasswordHash = expandSecret(cfg.Admin.PasswordHash)
	cfg.Admin.TOTPSecret = expandEnv(cfg.Admin.TOTPSecret)
	cfg.Viewer.Server = expandEnv(cfg.Viewer.Server)
	cfg.Viewer.StorePath = expandEnv(cfg.Viewer.StorePath)
	cfg.Viewer.SessionPath = expandEnv(cfg.Viewer.SessionPath)
}

// expandSecret expands only whole-value references such as $ADMIN_HASH, since
// bcrypt hashes contain literal dollar signs.
func expandSecret(value string) string {
	if strings.HasPrefix(value, "$2") {
		return value
	}
	return expandEnv(value)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
