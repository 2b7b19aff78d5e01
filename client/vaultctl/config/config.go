package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/yeti47/cryovault/core/ccc/logging"
	"github.com/yeti47/cryovault/core/encryption"
)

// Config holds the vaultctl configuration. Every field can also be set through the
// environment variable named in its env tag.
type Config struct {
	ServerURL            string `json:"server_url" env:"VAULT_SERVER_URL"`
	DatabasePath         string `json:"database_path" env:"VAULT_DATABASE_PATH"`
	SessionKeyPath       string `json:"session_key_path" env:"VAULT_SESSION_KEY_PATH"`
	LogPath              string `json:"log_path" env:"VAULT_LOG_PATH"`
	LogLevel             string `json:"log_level" env:"VAULT_LOG_LEVEL"`
	KDFIterations        int    `json:"kdf_iterations" env:"VAULT_KDF_ITERATIONS"`             // PBKDF2 iterations, 100000..600000
	ServerTimeoutSeconds int    `json:"server_timeout_seconds" env:"VAULT_SERVER_TIMEOUT_SECONDS"` // HTTP timeout for server requests (in seconds)
}

// DefaultConfig returns the configuration used when no file exists. Local state lives
// below baseDir.
func DefaultConfig(baseDir string) *Config {
	return &Config{
		ServerURL:            "http://localhost:8000",
		DatabasePath:         filepath.Join(baseDir, "vault.db"),
		SessionKeyPath:       filepath.Join(baseDir, "session.key"),
		LogPath:              filepath.Join(baseDir, "logs"),
		LogLevel:             string(logging.LogLevelInfo),
		KDFIterations:        encryption.DefaultIterations,
		ServerTimeoutSeconds: 30,
	}
}

// LoadConfig loads configuration from a JSON file. If the file doesn't exist, the
// default configuration is written to it and returned.
func LoadConfig(filename string) (*Config, error) {
	defaults := DefaultConfig(filepath.Dir(filename))

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			if err := SaveConfig(filename, defaults); err != nil {
				return nil, fmt.Errorf("failed to create default config file: %w", err)
			}
			return defaults, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults for missing values
	if config.ServerURL == "" {
		config.ServerURL = defaults.ServerURL
	}
	if config.DatabasePath == "" {
		config.DatabasePath = defaults.DatabasePath
	}
	if config.SessionKeyPath == "" {
		config.SessionKeyPath = defaults.SessionKeyPath
	}
	if config.LogPath == "" {
		config.LogPath = defaults.LogPath
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.KDFIterations == 0 {
		config.KDFIterations = defaults.KDFIterations
	}
	if config.ServerTimeoutSeconds == 0 {
		config.ServerTimeoutSeconds = defaults.ServerTimeoutSeconds
	}

	return &config, nil
}

// SaveConfig writes config to filename as indented JSON, creating the directory if needed.
func SaveConfig(filename string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays values from the environment. The given dotenv files are loaded
// first; missing files are skipped and variables already set are not overwritten.
func (c *Config) ApplyEnv(dotenvFiles ...string) error {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// ConfigOverrides holds potential override values for configuration
type ConfigOverrides struct {
	ServerURL            *string
	DatabasePath         *string
	SessionKeyPath       *string
	LogPath              *string
	LogLevel             *string
	KDFIterations        *int
	ServerTimeoutSeconds *int
}

// Override allows overriding specific configuration values using ConfigOverrides struct
func (c *Config) Override(overrides ConfigOverrides) {
	if overrides.ServerURL != nil && *overrides.ServerURL != "" {
		c.ServerURL = *overrides.ServerURL
	}
	if overrides.DatabasePath != nil && *overrides.DatabasePath != "" {
		c.DatabasePath = *overrides.DatabasePath
	}
	if overrides.SessionKeyPath != nil && *overrides.SessionKeyPath != "" {
		c.SessionKeyPath = *overrides.SessionKeyPath
	}
	if overrides.LogPath != nil && *overrides.LogPath != "" {
		c.LogPath = *overrides.LogPath
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		c.LogLevel = *overrides.LogLevel
	}
	if overrides.KDFIterations != nil && *overrides.KDFIterations > 0 {
		c.KDFIterations = *overrides.KDFIterations
	}
	if overrides.ServerTimeoutSeconds != nil && *overrides.ServerTimeoutSeconds > 0 {
		c.ServerTimeoutSeconds = *overrides.ServerTimeoutSeconds
	}
}

// Validate checks the configuration for values the client cannot work with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url must be an absolute http(s) URL, got %q", c.ServerURL)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.SessionKeyPath == "" {
		return fmt.Errorf("session_key_path is required")
	}
	switch logging.LogLevel(c.LogLevel) {
	case logging.LogLevelDebug, logging.LogLevelInfo, logging.LogLevelWarn, logging.LogLevelError:
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.KDFIterations < encryption.MinIterations || c.KDFIterations > encryption.MaxIterations {
		return fmt.Errorf("kdf_iterations must be between %d and %d, got %d", encryption.MinIterations, encryption.MaxIterations, c.KDFIterations)
	}
	if c.ServerTimeoutSeconds <= 0 {
		return fmt.Errorf("server_timeout_seconds must be positive")
	}
	return nil
}

// Origin returns scheme://host of the server URL. Session values are bound to it.
func (c *Config) Origin() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return c.ServerURL
	}
	return u.Scheme + "://" + u.Host
}
