package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int               `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string            `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig        `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig         `mapstructure:"ssh" yaml:"ssh"`
	Source        SourceConfig      `mapstructure:"source" yaml:"source"`
	Permissions   PermissionsConfig `mapstructure:"permissions" yaml:"permissions"`
	Admin         AdminConfig       `mapstructure:"admin" yaml:"admin"`
	Viewer        ViewerConfig      `mapstructure:"viewer" yaml:"viewer"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HTTPConfig configures the HTTP server and event channel.
type HTTPConfig struct {
	Addr                    string   `mapstructure:"addr" yaml:"addr"`
	BasePath                string   `mapstructure:"base_path" yaml:"base_path"`
	AllowedOrigins          []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	HistorySize             int      `mapstructure:"history_size" yaml:"history_size"`
	HandshakeTimeoutSeconds int      `mapstructure:"handshake_timeout_seconds" yaml:"handshake_timeout_seconds"`
	PingIntervalSeconds     int      `mapstructure:"ping_interval_seconds" yaml:"ping_interval_seconds"`
	ShutdownTimeoutSeconds  int      `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// SSHConfig configures the read-only SSH viewer.
type SSHConfig struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr               string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath        string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
}

// SourceConfig configures the telemetry data source.
type SourceConfig struct {
	Port           string `mapstructure:"port" yaml:"port"`
	Baud           int    `mapstructure:"baud" yaml:"baud"`
	IntervalMS     int    `mapstructure:"interval_ms" yaml:"interval_ms"`
	ProbeTimeoutMS int    `mapstructure:"probe_timeout_ms" yaml:"probe_timeout_ms"`
	RetryDelayMS   int    `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// PermissionsConfig seeds the permission engine. An empty GlobalDefault
// means every catalog widget.
type PermissionsConfig struct {
	GlobalDefault []string `mapstructure:"global_default" yaml:"global_default"`
}

// AdminConfig holds the optional admin credentials.
type AdminConfig struct {
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret   string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// ViewerConfig configures the terminal client and its local stores.
type ViewerConfig struct {
	Server           string `mapstructure:"server" yaml:"server"`
	StoreBackend     string `mapstructure:"store_backend" yaml:"store_backend"`
	StorePath        string `mapstructure:"store_path" yaml:"store_path"`
	SessionPath      string `mapstructure:"session_path" yaml:"session_path"`
	ReconnectSeconds int    `mapstructure:"reconnect_seconds" yaml:"reconnect_seconds"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	root := filepath.Join(home, ".groundstation")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(root, "state"),
		HTTP: HTTPConfig{
			Addr:                    ":27580",
			BasePath:                "",
			AllowedOrigins:          []string{},
			HistorySize:             1000,
			HandshakeTimeoutSeconds: 10,
			PingIntervalSeconds:     30,
			ShutdownTimeoutSeconds:  5,
		},
		SSH: SSHConfig{
			Enabled:            true,
			Addr:               ":27522",
			HostKeyPath:        filepath.Join(root, "ssh_host_key"),
			AuthorizedKeysPath: filepath.Join(root, "authorized_keys"),
		},
		Source: SourceConfig{
			Port:           "COM7",
			Baud:           115200,
			IntervalMS:     100,
			ProbeTimeoutMS: 500,
			RetryDelayMS:   2000,
		},
		Permissions: PermissionsConfig{
			GlobalDefault: []string{},
		},
		Admin: AdminConfig{},
		Viewer: ViewerConfig{
			Server:           "ws://localhost:27580/ws",
			StoreBackend:     "file",
			StorePath:        filepath.Join(root, "client.json"),
			SessionPath:      filepath.Join(root, "session.json"),
			ReconnectSeconds: 2,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".groundstation", "config.yaml"), nil
}
