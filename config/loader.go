package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/c360/sensorgraph/errors"
)

// EnvPrefix prefixes every environment override, e.g. SENSORGRAPH_STORE_URI.
const EnvPrefix = "SENSORGRAPH"

// secretKeys are checked with validateEnvVar after loading.
var secretKeys = []string{"store.uri", "store.username", "store.password", "nats.token"}

// Loader reads configuration from defaults, an optional file and the
// environment, in increasing order of precedence.
type Loader struct {
	v          *viper.Viper
	validation bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return &Loader{v: v, validation: true}
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Set overrides a key, taking precedence over file and environment. Used for
// command-line flags.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load reads path (JSON or YAML; empty for none) and returns the merged
// configuration.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		if err := checkConfigFile(path); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "config file check")
		}
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "read "+path)
		}
	}

	for _, key := range secretKeys {
		if err := validateEnvVar(key, l.v.GetString(key)); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "check "+key)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode configuration")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("store.mode", d.Store.Mode)
	v.SetDefault("store.uri", d.Store.URI)
	v.SetDefault("store.username", d.Store.Username)
	v.SetDefault("store.password", d.Store.Password)
	v.SetDefault("store.bucket", d.Store.Bucket)
	v.SetDefault("store.key", d.Store.Key)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.max_attempts", d.Store.MaxAttempts)
	v.SetDefault("store.retry_delay", d.Store.RetryDelay)

	v.SetDefault("nats.max_reconnects", d.NATS.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", d.NATS.ReconnectWait)
	v.SetDefault("nats.token", d.NATS.Token)
	v.SetDefault("nats.timeout", d.NATS.Timeout)

	v.SetDefault("http.address", d.HTTP.Address)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.max_request_size", d.HTTP.MaxRequestSize)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
