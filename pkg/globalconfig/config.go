// Package globalconfig provides global configuration management for amify.
// Configuration is stored at ~/.config/amify/config.yaml and holds the
// defaults applied to every build. Values can be overridden with AMIFY_*
// environment variables.
package globalconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/crucialwebstudio/amify/pkg/config"
)

// Version is the current config schema version.
const Version = "1.0"

// Default values for the global configuration.
const (
	DefaultAnsiblePlaybookBin = "ansible-playbook"
	DefaultLogLevel           = "info"
	DefaultHistoryLimit       = 200
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "AMIFY"

var (
	// ErrNotInitialized is returned when the config file doesn't exist.
	ErrNotInitialized = errors.New("amify not initialized: run 'amify init' first")
	// ErrConfigExists is returned by Init when the config file already exists.
	ErrConfigExists = errors.New("config file already exists")
)

// Config represents the global amify configuration.
type Config struct {
	Version            string `yaml:"version" mapstructure:"version"`
	Region             string `yaml:"region,omitempty" mapstructure:"region"`
	Profile            string `yaml:"profile,omitempty" mapstructure:"profile"`
	InstanceType       string `yaml:"instance_type,omitempty" mapstructure:"instance_type"`
	SSHUsername        string `yaml:"ssh_username,omitempty" mapstructure:"ssh_username"`
	AnsiblePlaybookBin string `yaml:"ansible_playbook_bin" mapstructure:"ansible_playbook_bin"`
	LogLevel           string `yaml:"log_level" mapstructure:"log_level"`
	HistoryLimit       int    `yaml:"history_limit" mapstructure:"history_limit"`
	KeepOnFailure      bool   `yaml:"keep_on_failure" mapstructure:"keep_on_failure"`
	MetricsFile        string `yaml:"metrics_file,omitempty" mapstructure:"metrics_file"`

	// path is where the config was loaded from, used by Save.
	path string
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version:            Version,
		AnsiblePlaybookBin: DefaultAnsiblePlaybookBin,
		LogLevel:           DefaultLogLevel,
		HistoryLimit:       DefaultHistoryLimit,
	}
}

// Load loads the config from path, or ~/.config/amify/config.yaml when path
// is empty. Environment overrides are applied on top of the file.
// Returns ErrNotInitialized if the file doesn't exist.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadOrCreate loads the config if it exists, or returns defaults with
// environment overrides applied. Unlike Load(), this doesn't require the
// config to be initialized.
func LoadOrCreate(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, requireFile bool) (*Config, error) {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	v := newViper()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if os.IsNotExist(err) {
		if requireFile {
			return nil, ErrNotInitialized
		}
	} else {
		return nil, fmt.Errorf("failed to access config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	// The standard AWS variables only fill what the file and AMIFY_* leave unset.
	if cfg.Region == "" {
		cfg.Region = firstEnv("AWS_REGION", "AWS_DEFAULT_REGION")
	}
	if cfg.Profile == "" {
		cfg.Profile = firstEnv("AWS_PROFILE")
	}
	cfg.path = path

	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func newViper() *viper.Viper {
	v := viper.New()

	defaults := NewConfig()
	v.SetDefault("version", defaults.Version)
	v.SetDefault("region", "")
	v.SetDefault("profile", "")
	v.SetDefault("instance_type", "")
	v.SetDefault("ssh_username", "")
	v.SetDefault("ansible_playbook_bin", defaults.AnsiblePlaybookBin)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("history_limit", defaults.HistoryLimit)
	v.SetDefault("keep_on_failure", defaults.KeepOnFailure)
	v.SetDefault("metrics_file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Save writes the config to the path it was loaded from, or the default path.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	c.path = path
	return nil
}

// Path returns the file the config was loaded from or saved to.
func (c *Config) Path() string {
	return c.path
}

// Defaults returns the build definition defaults carried by the config.
func (c *Config) Defaults() config.Defaults {
	return config.Defaults{
		Region:       c.Region,
		Profile:      c.Profile,
		InstanceType: c.InstanceType,
		SSHUsername:  c.SSHUsername,
	}
}

// Init writes a default config to path (or the default path) unless one exists.
func Init(path string, force bool) (*Config, error) {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil && !force {
		return nil, fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	cfg := NewConfig()
	if err := cfg.SaveTo(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsInitialized checks if the config file exists.
func IsInitialized() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
