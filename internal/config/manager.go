package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Manager provides centralized configuration management with validation
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	watchers   []func(*Config)
	configPath string
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{config: DefaultConfig()}
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped; variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a file with validation. Environment
// overrides are applied on top of the file.
func (m *Manager) LoadFromFile(configPath string) error {
	configPath = expandPath(configPath)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()
	m.applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.configPath = configPath
	watchers := append([]func(*Config){}, m.watchers...)
	m.mu.Unlock()

	notify(watchers, cfg)
	return nil
}

// LoadFromDefaults loads default configuration plus environment overrides
func (m *Manager) LoadFromDefaults() {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	m.applyDefaults(cfg)

	m.mu.Lock()
	m.config = cfg
	m.configPath = ""
	watchers := append([]func(*Config){}, m.watchers...)
	m.mu.Unlock()

	notify(watchers, cfg)
}

// GetConfig returns a copy of the current configuration
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyConfig(m.config)
}

// ConfigPath returns the file the configuration was loaded from
func (m *Manager) ConfigPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configPath
}

// UpdateConfig updates the configuration with validation
func (m *Manager) UpdateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	cfg = copyConfig(cfg)
	m.applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	watchers := append([]func(*Config){}, m.watchers...)
	m.mu.Unlock()

	notify(watchers, cfg)
	return nil
}

// SaveToFile saves the current configuration to a file
func (m *Manager) SaveToFile(filePath string) error {
	cfg := m.GetConfig()
	if err := cfg.SaveConfig(expandPath(filePath)); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// AddWatcher adds a configuration change watcher
func (m *Manager) AddWatcher(watcher func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, watcher)
}

// GetCredentialPaths returns the credential and token paths with proper expansion
func (m *Manager) GetCredentialPaths() (string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	credPath, tokenPath := DefaultCredentialPaths()
	if m.config.Credentials != "" {
		credPath = expandPath(m.config.Credentials)
	}
	if m.config.Token != "" {
		tokenPath = expandPath(m.config.Token)
	}
	return credPath, tokenPath
}

// GetDatabasePath returns the SQLite path with proper expansion
func (m *Manager) GetDatabasePath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config.Database != "" {
		return expandPath(m.config.Database)
	}
	return DefaultDatabasePath()
}

// applyDefaults fills zero values left by partial config files
func (m *Manager) applyDefaults(cfg *Config) {
	def := DefaultMailConfig()
	if cfg.Mail.PageSize == 0 {
		cfg.Mail.PageSize = def.PageSize
	}
	if cfg.Mail.UnsubscribeDelay == "" {
		cfg.Mail.UnsubscribeDelay = def.UnsubscribeDelay
	}
	if cfg.Mail.StaleTime == "" {
		cfg.Mail.StaleTime = def.StaleTime
	}
	if cfg.Mail.MetadataConcurrency == 0 {
		cfg.Mail.MetadataConcurrency = def.MetadataConcurrency
	}
	if cfg.Mail.DefaultFolder == "" {
		cfg.Mail.DefaultFolder = def.DefaultFolder
	}
	if cfg.UserID == "" {
		cfg.UserID = DefaultConfig().UserID
	}
}

func copyConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	c := *cfg
	return &c
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
}

func notify(watchers []func(*Config), cfg *Config) {
	for _, w := range watchers {
		w(copyConfig(cfg))
	}
}
