package mcconsole

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	defaults "github.com/Paranoid-AF/mcconsole/default"
)

// Stream transports accepted by RemoteConfig.StreamTransport.
const (
	TransportSocket    = "socket"
	TransportWebsocket = "websocket"
)

// Config represents the user's mcconsole configuration.
type Config struct {
	Version int           `toml:"version"`
	Remote  RemoteConfig  `toml:"remote"`
	Feed    FeedConfig    `toml:"feed"`
	History HistoryConfig `toml:"history"`
	State   StateConfig   `toml:"state"`
	UI      UIConfig      `toml:"ui"`
}

// RemoteConfig holds the JSONAPI connection settings.
type RemoteConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Salt     string `toml:"salt"`
	// StreamPort is the line stream port; 0 means Port+1.
	StreamPort      int      `toml:"stream_port,omitempty"`
	StreamTransport string   `toml:"stream_transport"`
	Timeout         Duration `toml:"timeout"`
	// MethodsMethod is the method that lists callable methods.
	MethodsMethod string `toml:"methods_method"`
	// ConsoleMethod runs a raw console command line.
	ConsoleMethod string `toml:"console_method"`
	// ChatMethod broadcasts a message under a sender name.
	ChatMethod string `toml:"chat_method"`
}

// StreamAddrPort returns the effective line stream port.
func (r RemoteConfig) StreamAddrPort() int {
	if r.StreamPort != 0 {
		return r.StreamPort
	}
	return r.Port + 1
}

// FeedConfig holds subscription feed settings.
type FeedConfig struct {
	Source         string   `toml:"source"`
	IgnoreSuffixes []string `toml:"ignore_suffixes"`
	DedupeWindow   Duration `toml:"dedupe_window"`
	// StripFormatting removes colour codes from streamed lines.
	StripFormatting *bool `toml:"strip_formatting,omitempty"`
	// Format maps a stream source to a jq program producing its display line.
	Format map[string]string `toml:"format"`
}

// HistoryConfig holds input history settings.
type HistoryConfig struct {
	Max int `toml:"max"`
}

// StateConfig holds persisted state settings.
type StateConfig struct {
	Dir string `toml:"dir"`
}

// UIConfig holds terminal front end settings.
type UIConfig struct {
	Scrollback int   `toml:"scrollback"`
	QueueSize  int   `toml:"queue_size"`
	NoColor    *bool `toml:"no_color,omitempty"`
}

// Duration is a time.Duration written as a string such as "10s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ConfigDir returns the config directory path.
// Resolution order: $MCCONSOLE_CONFIG_DIR > $XDG_CONFIG_HOME/mcconsole > ~/.config/mcconsole
func ConfigDir() string {
	if dir := os.Getenv("MCCONSOLE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "mcconsole")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "mcconsole-config")
	}
	return filepath.Join(home, ".config", "mcconsole")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// StateDir returns the directory holding the saved session state.
// Resolution order: config value > $XDG_STATE_HOME/mcconsole > ~/.local/state/mcconsole
func StateDir(cfg *Config) string {
	if cfg != nil && cfg.State.Dir != "" {
		return cfg.State.Dir
	}
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, "mcconsole")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "mcconsole-state")
	}
	return filepath.Join(home, ".local", "state", "mcconsole")
}

// StatePath returns the saved session state file.
func StatePath(cfg *Config) string {
	return filepath.Join(StateDir(cfg), "state.json")
}

// LoadEnvFile loads KEY=value pairs from the .env file in the config dir into
// the process environment. Variables already set are left alone.
func LoadEnvFile() error {
	path := filepath.Join(ConfigDir(), ".env")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("mcconsole: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from ConfigPath or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path or returns defaults if not found.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Remote.Host == "" {
		cfg.Remote.Host = defaults.Remote.Host
	}
	if cfg.Remote.Port == 0 {
		cfg.Remote.Port = defaults.Remote.Port
	}
	if cfg.Remote.StreamTransport == "" {
		cfg.Remote.StreamTransport = defaults.Remote.StreamTransport
	}
	if cfg.Remote.Timeout.Duration == 0 {
		cfg.Remote.Timeout = defaults.Remote.Timeout
	}
	if cfg.Remote.MethodsMethod == "" {
		cfg.Remote.MethodsMethod = defaults.Remote.MethodsMethod
	}
	if cfg.Remote.ConsoleMethod == "" {
		cfg.Remote.ConsoleMethod = defaults.Remote.ConsoleMethod
	}
	if cfg.Remote.ChatMethod == "" {
		cfg.Remote.ChatMethod = defaults.Remote.ChatMethod
	}
	if cfg.Feed.Source == "" {
		cfg.Feed.Source = defaults.Feed.Source
	}
	if cfg.Feed.IgnoreSuffixes == nil {
		cfg.Feed.IgnoreSuffixes = defaults.Feed.IgnoreSuffixes
	}
	if cfg.Feed.DedupeWindow.Duration == 0 {
		cfg.Feed.DedupeWindow = defaults.Feed.DedupeWindow
	}
	if cfg.Feed.StripFormatting == nil {
		cfg.Feed.StripFormatting = defaults.Feed.StripFormatting
	}
	for source, program := range defaults.Feed.Format {
		if cfg.Feed.Format == nil {
			cfg.Feed.Format = make(map[string]string)
		}
		if _, ok := cfg.Feed.Format[source]; !ok {
			cfg.Feed.Format[source] = program
		}
	}
	if cfg.History.Max == 0 {
		cfg.History.Max = defaults.History.Max
	}
	if cfg.UI.Scrollback == 0 {
		cfg.UI.Scrollback = defaults.UI.Scrollback
	}
	if cfg.UI.QueueSize == 0 {
		cfg.UI.QueueSize = defaults.UI.QueueSize
	}
	if cfg.UI.NoColor == nil {
		cfg.UI.NoColor = defaults.UI.NoColor
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Remote.Port < 0 || cfg.Remote.Port > 65535 {
		warnings = append(warnings, fmt.Sprintf("remote.port %d is out of range 0..65535", cfg.Remote.Port))
	}
	switch cfg.Remote.StreamTransport {
	case TransportSocket, TransportWebsocket:
	default:
		warnings = append(warnings, fmt.Sprintf("remote.stream_transport %q is not one of socket, websocket", cfg.Remote.StreamTransport))
	}
	if cfg.History.Max < 1 {
		warnings = append(warnings, "history.max must be positive")
	}
	return warnings
}

// ResolveRemote returns the remote settings with environment overrides applied.
// Priority: $MCCONSOLE_REMOTE_* env > config value.
func ResolveRemote(cfg *Config) RemoteConfig {
	var r RemoteConfig
	if cfg != nil {
		r = cfg.Remote
	}
	if host := os.Getenv("MCCONSOLE_REMOTE_HOST"); host != "" {
		r.Host = host
	}
	if port := os.Getenv("MCCONSOLE_REMOTE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			r.Port = p
		}
	}
	if user := os.Getenv("MCCONSOLE_REMOTE_USERNAME"); user != "" {
		r.Username = user
	}
	if pass := os.Getenv("MCCONSOLE_REMOTE_PASSWORD"); pass != "" {
		r.Password = pass
	}
	if salt := os.Getenv("MCCONSOLE_REMOTE_SALT"); salt != "" {
		r.Salt = salt
	}
	return r
}

// StripFormattingEnabled returns whether colour codes are removed from feed lines.
func StripFormattingEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Feed.StripFormatting == nil {
		return true // default true
	}
	return *cfg.Feed.StripFormatting
}

// NoColorEnabled returns whether the terminal front end prints without colour.
func NoColorEnabled(cfg *Config) bool {
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	if cfg == nil || cfg.UI.NoColor == nil {
		return false
	}
	return *cfg.UI.NoColor
}
