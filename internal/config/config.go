// Package config loads zinitctl settings from a yaml file, ZINITCTL_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/zinitctl/pkg/zinit"
)

// EnvPrefix is prepended to every environment override, e.g. ZINITCTL_ZINIT_SOCKET
const EnvPrefix = "ZINITCTL"

// Config is the complete zinitctl configuration
type Config struct {
	Zinit   ZinitConfig   `mapstructure:"zinit" yaml:"zinit" json:"zinit"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent" json:"agent"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// ZinitConfig locates the zinit binary, socket and service directory
type ZinitConfig struct {
	Binary    string        `mapstructure:"binary" yaml:"binary" json:"binary"`
	Socket    string        `mapstructure:"socket" yaml:"socket" json:"socket"`
	ConfigDir string        `mapstructure:"config_dir" yaml:"config_dir" json:"config_dir"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"` // 0 blocks until zinit exits
}

// LogConfig selects level, format and optional log file
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json" json:"json"`
	File  bool   `mapstructure:"file" yaml:"file" json:"file"`
}

// AgentConfig drives `zinitctl agent`
type AgentConfig struct {
	Listen      string        `mapstructure:"listen" yaml:"listen" json:"listen"`
	Services    []string      `mapstructure:"services" yaml:"services" json:"services"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	Rate        float64       `mapstructure:"rate" yaml:"rate" json:"rate"`
	Burst       int           `mapstructure:"burst" yaml:"burst" json:"burst"`
	Retries     int           `mapstructure:"retries" yaml:"retries" json:"retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
	HTTPRate    float64       `mapstructure:"http_rate" yaml:"http_rate" json:"http_rate"`
	HTTPBurst   int           `mapstructure:"http_burst" yaml:"http_burst" json:"http_burst"`

	// TrustedProxies may set X-Forwarded-For for rate limiting
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies" json:"trusted_proxies"`
}

// TracingConfig enables OTLP span export
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("zinit.binary", zinit.DefaultBinary)
	v.SetDefault("zinit.socket", zinit.DefaultSocket)
	v.SetDefault("zinit.config_dir", zinit.DefaultConfigDir)
	v.SetDefault("zinit.timeout", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", false)

	v.SetDefault("agent.listen", ":9310")
	v.SetDefault("agent.services", []string{})
	v.SetDefault("agent.concurrency", 4)
	v.SetDefault("agent.rate", 0.0)
	v.SetDefault("agent.burst", 1)
	v.SetDefault("agent.retries", 0)
	v.SetDefault("agent.retry_delay", time.Second)
	v.SetDefault("agent.http_rate", 10.0)
	v.SetDefault("agent.http_burst", 20)
	v.SetDefault("agent.trusted_proxies", []string{})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
}

// New returns a viper instance with defaults and environment binding set up.
// When path is non-empty the file is registered but not yet read.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/zinitctl")
		v.AddConfigPath("$HOME/.zinitctl")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads configuration. An explicit path must exist; without one a
// missing config file just means defaults plus environment.
func Load(path string) (*Config, error) {
	v := New(path)
	return FromViper(v, path != "")
}

// FromViper reads the config file registered on v (if any) and decodes it
func FromViper(v *viper.Viper, required bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if required || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// AutomaticEnv only applies to Get, so lists coming from the
	// environment arrive as one space or comma separated string
	if raw := v.GetString("agent.services"); len(cfg.Agent.Services) == 1 && raw == cfg.Agent.Services[0] {
		cfg.Agent.Services = splitList(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings zinitctl cannot run with
func (c *Config) Validate() error {
	if c.Zinit.Binary == "" {
		return errors.New("zinit.binary must not be empty")
	}
	if c.Zinit.Timeout < 0 {
		return fmt.Errorf("zinit.timeout must not be negative, got %s", c.Zinit.Timeout)
	}
	if c.Agent.Concurrency < 1 {
		return fmt.Errorf("agent.concurrency must be at least 1, got %d", c.Agent.Concurrency)
	}
	if c.Agent.Retries < 0 {
		return fmt.Errorf("agent.retries must not be negative, got %d", c.Agent.Retries)
	}
	if c.Agent.Rate < 0 || c.Agent.HTTPRate < 0 {
		return errors.New("rates must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
