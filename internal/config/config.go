// Package config loads orchestrator configuration from features.yaml
// with environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/routing"
)

// Features is the full orchestrator configuration.
type Features struct {
	Service  ServiceConfig       `mapstructure:"service"`
	Logging  LoggingConfig       `mapstructure:"logging"`
	Temporal TemporalConfig      `mapstructure:"temporal"`
	Redis    RedisConfig         `mapstructure:"redis"`
	Database DatabaseConfig      `mapstructure:"database"`
	Workers  WorkersConfig       `mapstructure:"workers"`
	Routing  *routing.ConfigSpec `mapstructure:"routing"`
	Metrics  MetricsConfig       `mapstructure:"metrics"`
	Tracing  TracingConfig       `mapstructure:"tracing"`

	// RoutingFile points at a standalone routing table; it takes
	// precedence over the inline routing section.
	RoutingFile string `mapstructure:"routing_file"`
}

type ServiceConfig struct {
	// Port serves the turn-submission API.
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type WorkersConfig struct {
	// Endpoints maps worker name to base URL.
	Endpoints     map[string]string `mapstructure:"endpoints"`
	ClassifierURL string            `mapstructure:"classifier_url"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load reads configuration from the given file, or from the standard
// search paths when path is empty. Environment variables prefixed
// SALESDESK override file values (SALESDESK_REDIS_ADDR, etc).
func Load(path string) (*Features, error) {
	v := viper.New()

	v.SetDefault("service.port", 8081)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", constants.TaskQueue)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.enabled", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("tracing.enabled", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("features")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/salesdesk")
	}

	v.SetEnvPrefix("SALESDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file found; run on defaults and env.
	}

	var cfg Features
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Features) validate() error {
	if c.Temporal.HostPort == "" {
		return fmt.Errorf("temporal.host_port is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.enabled")
	}
	if _, ok := c.Workers.Endpoints[constants.DefaultWorker]; !ok {
		return fmt.Errorf("workers.endpoints must include %q", constants.DefaultWorker)
	}
	for name, url := range c.Workers.Endpoints {
		if url == "" {
			return fmt.Errorf("workers.endpoints[%s] is empty", name)
		}
	}
	return nil
}

// RoutingConfig compiles the routing section, falling back to the
// built-in tables when the section is absent.
func (c *Features) RoutingConfig(knownWorkers []string) (*routing.Config, error) {
	spec := c.Routing
	if c.RoutingFile != "" {
		loaded, err := routing.LoadSpecFile(c.RoutingFile)
		if err != nil {
			return nil, err
		}
		spec = &loaded
	}
	if spec == nil {
		return routing.DefaultConfig(), nil
	}
	known := make(map[string]bool, len(knownWorkers))
	for _, w := range knownWorkers {
		known[w] = true
	}
	compiled, err := routing.Compile(*spec, known)
	if err != nil {
		return nil, fmt.Errorf("compile routing config: %w", err)
	}
	return compiled, nil
}
