package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string         `mapstructure:"env" yaml:"env"` // "dev" or "prod"
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Bybit    BybitConfig    `mapstructure:"bybit" yaml:"bybit"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type BybitConfig struct {
	REST RESTConfig `mapstructure:"rest" yaml:"rest"`
	WS   WSConfig   `mapstructure:"ws" yaml:"ws"`
}

type RESTConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Category       string        `mapstructure:"category" yaml:"category"`               // "spot" or "linear"
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"` // parallel ticker lookups per snapshot
	CacheSymbols   bool          `mapstructure:"cache_symbols" yaml:"cache_symbols"`     // refresh the symbol list daily instead of per request
}

type WSConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`             // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format" yaml:"format"`           // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file" yaml:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment" yaml:"environment"` // environment: "dev" or "prod"
}

// StoreConfig selects the ledger persistence backend.
type StoreConfig struct {
	Driver     string      `mapstructure:"driver" yaml:"driver"` // "file", "sqlite", "postgres", "redis" or "memory"
	Dir        string      `mapstructure:"dir" yaml:"dir"`
	SQLitePath string      `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Redis      RedisConfig `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Env: "dev",
		HTTP: HTTPConfig{
			Addr:            ":5000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Bybit: BybitConfig{
			REST: RESTConfig{
				BaseURL:        "https://api.bybit.com",
				Timeout:        5 * time.Second,
				Category:       "spot",
				MaxConcurrency: 5,
				CacheSymbols:   true,
			},
			WS: WSConfig{
				URL:            "wss://stream.bybit.com/v5/public/spot",
				Timeout:        10 * time.Second,
				ReconnectDelay: 3 * time.Second,
			},
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Environment: "dev",
		},
		Store: StoreConfig{
			Driver:     "file",
			Dir:        "data/ledgers",
			SQLitePath: "data/ledger.db",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "portfolio:ledger:",
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			DBName:          "portfolio",
			SSLMode:         "disable",
			TimeZone:        "UTC",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
	}
}

// setDefaults registers every key of Default so that environment variables
// can override keys missing from the config file.
func setDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return err
	}
	for key, val := range flatten("", m) {
		v.SetDefault(key, val)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// Load loads application configuration using Viper.
// It reads the given YAML file (or config.yaml from the working directory,
// ./config and the executable's ../config) and overrides with environment
// variables such as LEDGER_STORE_DRIVER. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	}

	// Support environment variables with dot notation (e.g., LEDGER_BYBIT_REST_BASE_URL)
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "file", "sqlite", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("invalid store driver: %q", c.Store.Driver)
	}
	if c.Bybit.REST.Timeout <= 0 {
		return fmt.Errorf("bybit.rest.timeout must be positive")
	}
	if c.Bybit.REST.MaxConcurrency <= 0 {
		return fmt.Errorf("bybit.rest.max_concurrency must be positive")
	}
	return nil
}

// SaveToFile writes c as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}
