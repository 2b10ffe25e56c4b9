// Package config loads contacts configuration from defaults, an optional YAML
// file, CONTACTS_* environment variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/directory"
)

// EnvPrefix is prepended to environment variable names (CONTACTS_DATA_DIR, ...).
const EnvPrefix = "CONTACTS"

type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Storage       BackendConfig       `mapstructure:"storage"`
	Directory     DirectoryConfig     `mapstructure:"directory"`
	Bridge        BridgeConfig        `mapstructure:"bridge"`
}

type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

type DirectoryConfig struct {
	PageCache PageCacheConfig `mapstructure:"page_cache"`
}

// PageCacheConfig controls the first-page cache. The cache only fills when
// the store holds more than Threshold rows.
type PageCacheConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Threshold int  `mapstructure:"threshold"`
	Capacity  int  `mapstructure:"capacity"`
}

type BridgeConfig struct {
	Addr string `mapstructure:"addr"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contacts"
	}
	return filepath.Join(home, ".contacts")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", ":9090")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.service_name", "contacts")
	v.SetDefault("observability.service_version", "dev")

	v.SetDefault("storage.backend", "sqlite")

	v.SetDefault("directory.page_cache.enabled", true)
	v.SetDefault("directory.page_cache.threshold", directory.DefaultCacheThreshold)
	v.SetDefault("directory.page_cache.capacity", directory.DefaultCacheCapacity)

	v.SetDefault("bridge.addr", ":8080")
}

// Load reads config from flags, env, and file, returning the merged Config.
// A missing config file is only an error when configFile names it explicitly.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("contacts")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.arc-contacts")
		v.AddConfigPath("/etc/arc-contacts")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c Config) Validate() error {
	if c.Storage.Backend == "" {
		return errors.New("storage.backend: cannot be empty")
	}
	pc := c.Directory.PageCache
	if pc.Threshold < 0 {
		return fmt.Errorf("directory.page_cache.threshold: must be non-negative, got %d", pc.Threshold)
	}
	if pc.Capacity < 1 {
		return fmt.Errorf("directory.page_cache.capacity: must be at least 1, got %d", pc.Capacity)
	}
	switch c.Observability.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("observability.log_format: unknown format %q", c.Observability.LogFormat)
	}
	return nil
}

// StorageConfig returns the backend config with paths resolved against
// DataDir. A sqlite path or badger directory left unset lands in DataDir.
func (c Config) StorageConfig() map[string]string {
	out := make(map[string]string, len(c.Storage.Config)+1)
	for k, v := range c.Storage.Config {
		out[k] = v
	}
	if _, ok := out["path"]; !ok {
		switch c.Storage.Backend {
		case "sqlite":
			out["path"] = filepath.Join(c.DataDir, "contacts.db")
		case "badger":
			out["path"] = filepath.Join(c.DataDir, "badger")
		}
	}
	return out
}
