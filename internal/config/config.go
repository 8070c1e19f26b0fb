package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings
const (
	EnvConfig      = "MAILZERO_CONFIG"
	EnvCredentials = "MAILZERO_CREDENTIALS"
	EnvToken       = "MAILZERO_TOKEN"
	EnvDatabase    = "MAILZERO_DB"
)

// MailConfig holds the data layer tuning knobs
type MailConfig struct {
	// PageSize is the number of threads requested per list page
	PageSize int `json:"page_size" yaml:"page_size"`

	// UnsubscribeDelay is the pause before each bulk unsubscribe request (e.g. "499ms")
	UnsubscribeDelay string `json:"unsubscribe_delay" yaml:"unsubscribe_delay"`

	// StaleTime is how long a cached response is served without revalidating
	StaleTime string `json:"stale_time" yaml:"stale_time"`

	// MetadataConcurrency bounds parallel thread metadata requests
	MetadataConcurrency int `json:"metadata_concurrency" yaml:"metadata_concurrency"`

	DefaultFolder string `json:"default_folder" yaml:"default_folder"`
}

// Config holds all configuration for mailzero
type Config struct {
	Credentials string `json:"credentials" yaml:"credentials"`
	Token       string `json:"token" yaml:"token"`

	// Database is the SQLite file holding connections and notes
	Database string `json:"database" yaml:"database"`

	// UserID owns the stored connections
	UserID string `json:"user_id" yaml:"user_id"`

	// Logging
	LogFile string `json:"log_file" yaml:"log_file"`

	Mail MailConfig `json:"mail" yaml:"mail"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		UserID: "local",
		Mail:   DefaultMailConfig(),
	}
}

// DefaultMailConfig returns default data layer settings
func DefaultMailConfig() MailConfig {
	return MailConfig{
		PageSize:            20,
		UnsubscribeDelay:    "499ms",
		StaleTime:           "30s",
		MetadataConcurrency: 10,
		DefaultFolder:       "inbox",
	}
}

// LoadConfig loads configuration from file. A missing file yields defaults;
// .yaml and .yml files are parsed as YAML, anything else as JSON.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filepath.Base(configPath), err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// DefaultConfigDir is ~/.config/mailzero
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mailzero")
}

// DefaultConfigPath returns the config file path, honoring MAILZERO_CONFIG
func DefaultConfigPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.json")
}

// DefaultCredentialPaths returns the default OAuth client and token files
func DefaultCredentialPaths() (string, string) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", ""
	}
	return filepath.Join(dir, "credentials.json"), filepath.Join(dir, "token.json")
}

// DefaultDatabasePath returns the default SQLite location
func DefaultDatabasePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "mailzero.db")
}

// DefaultLogDir returns the directory for the log file
func DefaultLogDir() string {
	return DefaultConfigDir()
}

// SaveConfig writes the configuration, as YAML or JSON depending on the extension
func (c *Config) SaveConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides paths from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvCredentials); v != "" {
		c.Credentials = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database = v
	}
}

// Validate checks the configuration for values the data layer cannot use
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.Mail.PageSize < 0 || c.Mail.PageSize > 500 {
		return fmt.Errorf("page_size out of range: %d", c.Mail.PageSize)
	}
	if c.Mail.MetadataConcurrency < 0 {
		return fmt.Errorf("metadata_concurrency cannot be negative")
	}
	if c.Mail.UnsubscribeDelay != "" {
		if d, err := time.ParseDuration(c.Mail.UnsubscribeDelay); err != nil || d < 0 {
			return fmt.Errorf("invalid unsubscribe_delay %q", c.Mail.UnsubscribeDelay)
		}
	}
	if c.Mail.StaleTime != "" {
		if d, err := time.ParseDuration(c.Mail.StaleTime); err != nil || d < 0 {
			return fmt.Errorf("invalid stale_time %q", c.Mail.StaleTime)
		}
	}
	if c.Mail.DefaultFolder != "" && strings.TrimSpace(c.Mail.DefaultFolder) == "" {
		return fmt.Errorf("default_folder cannot be blank")
	}
	return nil
}

// GetUnsubscribeDelay returns the parsed delay, or the default when unset
func (c *Config) GetUnsubscribeDelay() time.Duration {
	return parseDuration(c.Mail.UnsubscribeDelay, 499*time.Millisecond)
}

// GetStaleTime returns the parsed stale time, or the default when unset
func (c *Config) GetStaleTime() time.Duration {
	return parseDuration(c.Mail.StaleTime, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
