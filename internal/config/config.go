package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Authority AuthorityConfig `yaml:"authority" envconfig:"AUTHORITY"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
}

// AuthorityConfig contains the remote license authority connection settings
type AuthorityConfig struct {
	BaseURL   string        `yaml:"base_url" envconfig:"BASE_URL" default:"https://api.keygen.sh/v1"`
	AccountID string        `yaml:"account_id" envconfig:"ACCOUNT_ID"`
	APIKey    string        `yaml:"api_key" envconfig:"API_KEY"`
	Product   string        `yaml:"product" envconfig:"PRODUCT" default:"codecontext"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
}

// LicenseConfig contains local entitlement persistence settings
type LicenseConfig struct {
	CacheFile          string        `yaml:"cache_file" envconfig:"CACHE_FILE"`
	RefreshInterval    time.Duration `yaml:"refresh_interval" envconfig:"REFRESH_INTERVAL" default:"5m"`
	ActivationRate     float64       `yaml:"activation_rate" envconfig:"ACTIVATION_RATE" default:"0.2"`
	ActivationBurst    int           `yaml:"activation_burst" envconfig:"ACTIVATION_BURST" default:"3"`
	ValidationCacheTTL time.Duration `yaml:"validation_cache_ttl" envconfig:"VALIDATION_CACHE_TTL" default:"5m"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/codecontext.log"`
}

// ServerConfig contains HTTP server configuration for serve mode
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8585"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load loads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("CODECONTEXT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Authority.AccountID == "" {
		envConfig.Authority.AccountID = fileConfig.Authority.AccountID
	}
	if envConfig.Authority.APIKey == "" {
		envConfig.Authority.APIKey = fileConfig.Authority.APIKey
	}
	if envConfig.License.CacheFile == "" {
		envConfig.License.CacheFile = fileConfig.License.CacheFile
	}
	return envConfig
}

// resolvePaths fills in any path fields left empty with project-scoped defaults
func (c *Config) resolvePaths() error {
	if c.License.CacheFile == "" {
		path, err := LicensePath()
		if err != nil {
			return fmt.Errorf("failed to resolve license path: %w", err)
		}
		c.License.CacheFile = path
	}
	return nil
}

// validate checks configuration invariants that would otherwise surface as
// confusing runtime failures
func (c *Config) validate() error {
	if _, err := url.Parse(c.Authority.BaseURL); err != nil {
		return fmt.Errorf("invalid authority base URL %q: %w", c.Authority.BaseURL, err)
	}
	if c.Authority.Timeout <= 0 {
		return fmt.Errorf("authority timeout must be positive, got %s", c.Authority.Timeout)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}

// getConfigFilePath returns the expected location of the YAML config file
func getConfigFilePath() string {
	if path := os.Getenv("CODECONTEXT_CONFIG"); path != "" {
		return path
	}
	dir, err := ProjectDir()
	if err != nil {
		return "codecontext.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}
