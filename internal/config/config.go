// Package config provides the network registry and daemon configuration for walletlinkd.
//
// ALL network metadata and Portfolio contract addresses are defined in this
// package. Do not scatter chain ids or addresses throughout the codebase.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Config holds all configuration for walletlinkd.
type Config struct {
	// Provider describes how to reach the user's wallet.
	Provider ProviderConfig `yaml:"provider"`

	// Connection tunes the connection state machine.
	Connection ConnectionConfig `yaml:"connection"`

	// Networks overrides built-in network profiles, keyed by chain id.
	Networks map[uint64]NetworkOverride `yaml:"networks,omitempty"`

	// DeploymentsDir holds deployment records written by the deploy script.
	DeploymentsDir string `yaml:"deployments_dir"`

	// API settings
	API APIConfig `yaml:"api"`

	// Storage settings
	Storage StorageConfig `yaml:"storage"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig holds wallet provider settings.
type ProviderConfig struct {
	// BridgeURL is the websocket endpoint of the wallet bridge. Empty means
	// no wallet is available and connect attempts fail immediately.
	BridgeURL string `yaml:"bridge_url"`

	// AccountsTimeout bounds eth_requestAccounts, which may wait on the user.
	AccountsTimeout time.Duration `yaml:"accounts_timeout"`

	// ChainTimeout bounds eth_chainId, eth_accounts and network switch reads.
	ChainTimeout time.Duration `yaml:"chain_timeout"`

	// RateLimit is the maximum sustained requests per second sent to the wallet.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the number of requests allowed in a burst.
	RateBurst int `yaml:"rate_burst"`
}

// ConnectionConfig holds connection state machine settings.
type ConnectionConfig struct {
	// Cooldown is the minimum spacing between user or auto triggered connects.
	Cooldown time.Duration `yaml:"cooldown"`

	// Debounce is the quiet window for chainChanged bursts.
	Debounce time.Duration `yaml:"debounce"`

	// RetryAttempts is the total number of tries for a transient failure.
	RetryAttempts uint `yaml:"retry_attempts"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`

	// AutoConnect restores the previous session silently at startup.
	AutoConnect bool `yaml:"auto_connect"`

	// JournalLimit is how many settled states are kept in the session journal.
	JournalLimit int `yaml:"journal_limit"`
}

// APIConfig holds JSON-RPC API settings.
type APIConfig struct {
	// ListenAddr is the address the API and websocket hub listen on.
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BridgeURL:       "",
			AccountsTimeout: 10 * time.Second,
			ChainTimeout:    5 * time.Second,
			RateLimit:       5,
			RateBurst:       3,
		},
		Connection: ConnectionConfig{
			Cooldown:       3 * time.Second,
			Debounce:       300 * time.Millisecond,
			RetryAttempts:  3,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  5 * time.Second,
			AutoConnect:    true,
			JournalLimit:   500,
		},
		DeploymentsDir: "",
		API: APIConfig{
			ListenAddr: "127.0.0.1:8645",
		},
		Storage: StorageConfig{
			DataDir: "~/.walletlink",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Provider.BridgeURL != "" {
		u, err := url.Parse(c.Provider.BridgeURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Errorf("provider.bridge_url must be a ws:// or wss:// URL, got %q", c.Provider.BridgeURL))
		}
	}
	if c.Provider.AccountsTimeout <= 0 {
		errs = append(errs, errors.New("provider.accounts_timeout must be positive"))
	}
	if c.Provider.ChainTimeout <= 0 {
		errs = append(errs, errors.New("provider.chain_timeout must be positive"))
	}
	if c.Provider.RateLimit < 0 || c.Provider.RateBurst < 0 {
		errs = append(errs, errors.New("provider rate limit must not be negative"))
	}
	if c.Connection.Cooldown < 0 || c.Connection.Debounce < 0 {
		errs = append(errs, errors.New("connection cooldown and debounce must not be negative"))
	}
	if c.Connection.RetryAttempts == 0 {
		errs = append(errs, errors.New("connection.retry_attempts must be at least 1"))
	}
	if c.Connection.RetryMaxDelay < c.Connection.RetryBaseDelay {
		errs = append(errs, errors.New("connection.retry_max_delay must be >= retry_base_delay"))
	}
	if c.API.ListenAddr == "" {
		errs = append(errs, errors.New("api.listen_addr is required"))
	}

	return errors.Join(errs...)
}

// BuildRegistry assembles the immutable network registry: built-in networks,
// then deployment records, then config overrides.
func (c *Config) BuildRegistry() (*Registry, error) {
	deployments, err := LoadDeployments(c.DeploymentsDir)
	if err != nil {
		return nil, err
	}
	profiles, err := ApplyOverrides(DefaultNetworks(), c.Networks, deployments)
	if err != nil {
		return nil, err
	}
	return NewRegistry(profiles...)
}

// LoadConfig loads configuration from a YAML file in dataDir.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	return LoadConfigFile(ConfigPath(dataDir), dataDir)
}

// LoadConfigFile loads configuration from configPath, creating it with
// defaults rooted at dataDir if it does not exist.
func LoadConfigFile(configPath, dataDir string) (*Config, error) {
	configPath = expandPath(configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# walletlinkd configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	return expandPath(path)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
