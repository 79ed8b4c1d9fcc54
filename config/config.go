// Package config holds the sensorgraph configuration, its defaults and its
// validation rules.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/sensorgraph/errors"
)

// Storage mode constants
const (
	StorageModeMemory = "memory" // in-process graph, lost on exit
	StorageModeKV     = "kv"     // NATS JetStream KV bucket
	StorageModeSQL    = "sql"    // SQL table via gorm
)

// SQL drivers accepted in store.driver
var sqlDrivers = map[string]bool{"sqlite": true, "postgres": true, "mysql": true}

const redacted = "[REDACTED]"

// Config represents the complete application configuration
type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store" json:"store"`
	NATS    NATSConfig    `mapstructure:"nats" yaml:"nats" json:"nats"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http" json:"http"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
}

// StoreConfig selects and connects the graph backend. URI is a NATS URL in
// kv mode and a DSN in sql mode.
type StoreConfig struct {
	Mode        string        `mapstructure:"mode" yaml:"mode" json:"mode"`
	URI         string        `mapstructure:"uri" yaml:"uri" json:"uri"`
	Username    string        `mapstructure:"username" yaml:"username" json:"username"`
	Password    string        `mapstructure:"password" yaml:"password" json:"password"`
	Bucket      string        `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Key         string        `mapstructure:"key" yaml:"key" json:"key"`
	Driver      string        `mapstructure:"driver" yaml:"driver" json:"driver"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
}

// NATSConfig defines NATS connection settings used in kv mode
type NATSConfig struct {
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait" json:"reconnect_wait"`
	Token         string        `mapstructure:"token" yaml:"token" json:"token"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// HTTPConfig controls the API listener
type HTTPConfig struct {
	Address        string        `mapstructure:"address" yaml:"address" json:"address"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	MaxRequestSize int64         `mapstructure:"max_request_size" yaml:"max_request_size" json:"max_request_size"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port" json:"port"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Mode:        StorageModeMemory,
			Bucket:      "SENSOR_GRAPH",
			Key:         "graph",
			Driver:      "sqlite",
			MaxAttempts: 10,
			RetryDelay:  5 * time.Millisecond,
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		HTTP: HTTPConfig{
			Address:        ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			MaxRequestSize: 1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	c.Store.Mode = strings.ToLower(c.Store.Mode)

	switch c.Store.Mode {
	case StorageModeMemory:
	case StorageModeKV:
		if c.Store.URI == "" {
			return invalid("store.uri is required in kv mode")
		}
		if c.Store.Bucket == "" || c.Store.Key == "" {
			return invalid("store.bucket and store.key are required in kv mode")
		}
	case StorageModeSQL:
		if !sqlDrivers[c.Store.Driver] {
			return invalid("store.driver %q is not one of sqlite, postgres, mysql", c.Store.Driver)
		}
		if c.Store.URI == "" {
			return invalid("store.uri is required in sql mode")
		}
	default:
		return invalid("store.mode %q is not one of memory, kv, sql", c.Store.Mode)
	}

	if c.Store.MaxAttempts < 1 {
		return invalid("store.max_attempts must be at least 1")
	}
	if c.Store.RetryDelay < 0 {
		return invalid("store.retry_delay must not be negative")
	}
	if c.HTTP.Address == "" {
		return invalid("http.address is required")
	}
	if c.HTTP.MaxRequestSize <= 0 {
		return invalid("http.max_request_size must be positive")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return invalid("metrics.port %d out of range", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path must start with /")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format %q is not one of json, text", c.Log.Format)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "check configuration")
}

// Redacted returns a copy with credentials masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Store.Password != "" {
		out.Store.Password = redacted
	}
	if out.NATS.Token != "" {
		out.NATS.Token = redacted
	}
	out.Store.URI = redactURI(out.Store.URI)
	return &out
}

// YAML renders the redacted configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, errors.Wrap(err, "Config", "YAML", "marshal")
	}
	return data, nil
}

// redactURI masks the password part of a URL or DSN userinfo.
func redactURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	if at < 0 {
		if i := strings.Index(strings.ToLower(uri), "password="); i >= 0 {
			end := strings.IndexAny(uri[i:], " &")
			if end < 0 {
				return uri[:i] + "password=" + redacted
			}
			return uri[:i] + "password=" + redacted + uri[i+end:]
		}
		return uri
	}
	start := strings.Index(uri, "://")
	if start < 0 {
		start = 0
	} else {
		start += 3
	}
	userinfo := uri[start:at]
	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return uri
	}
	return uri[:start] + userinfo[:colon+1] + redacted + uri[at:]
}
