package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Identity   IdentityConfig   `toml:"identity"`
	Database   DatabaseConfig   `toml:"database"`
	Store      StoreConfig      `toml:"store"`
	Server     ServerConfig     `toml:"server"`
	Session    SessionConfig    `toml:"session"`
	Onboarding OnboardingConfig `toml:"onboarding"`
}

// IdentityConfig points the client at the remote identity service.
type IdentityConfig struct {
	BaseURL        string   `toml:"base_url"`
	ClientID       string   `toml:"client_id"`
	ClientSecret   string   `toml:"client_secret"`
	Scopes         []string `toml:"scopes"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Timeout returns the per-request timeout for identity calls.
func (c IdentityConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// StoreConfig selects the key-value backend for navigation-intent flags. The credential always
// lives in the database under Namespace.
type StoreConfig struct {
	Backend          string `toml:"backend"`
	Namespace        string `toml:"namespace"`
	RedisURL         string `toml:"redis_url"`
	IntentTTLSeconds int    `toml:"intent_ttl_seconds"`
}

// IntentTTL is how long navigation-intent flags live in backends that support expiry.
func (c StoreConfig) IntentTTL() time.Duration {
	return time.Duration(c.IntentTTLSeconds) * time.Second
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port for [http.Server].
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionConfig tunes the session lifecycle manager.
type SessionConfig struct {
	FocusRefreshIntervalSeconds int `toml:"focus_refresh_interval_seconds"`
}

// FocusRefreshInterval is the minimum spacing between focus-triggered session checks.
func (c SessionConfig) FocusRefreshInterval() time.Duration {
	return time.Duration(c.FocusRefreshIntervalSeconds) * time.Second
}

// OnboardingConfig lists the wizard steps in order and their selection minimums.
type OnboardingConfig struct {
	Steps      []string `toml:"steps"`
	MinGenres  int      `toml:"min_genres"`
	MinArtists int      `toml:"min_artists"`
}

// Validate reports obviously broken settings.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	if c.Store.Namespace == "" {
		return fmt.Errorf("%w: store namespace is required", ErrInvalidConfig)
	}
	if len(c.Onboarding.Steps) == 0 {
		return fmt.Errorf("%w: at least one onboarding step is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Onboarding.Steps))
	for _, s := range c.Onboarding.Steps {
		if seen[s] {
			return fmt.Errorf("%w: duplicate onboarding step %q", ErrInvalidConfig, s)
		}
		seen[s] = true
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
