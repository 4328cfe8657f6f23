package config

import (
	"fmt"
	"time"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/persistence"
	"github.com/fluxorio/blockflow/pkg/router"
)

// ServiceConfig describes one block host: the blocks it runs, how they are
// linked and the infrastructure around them.
type ServiceConfig struct {
	Name        string             `json:"name" yaml:"name"`
	Log         LogConfig          `json:"log" yaml:"log"`
	Blocks      []BlockConfig      `json:"blocks" yaml:"blocks"`
	Links       []router.Link      `json:"links" yaml:"links"`
	Router      RouterConfig       `json:"router" yaml:"router"`
	Bus         BusConfig          `json:"bus" yaml:"bus"`
	Persistence persistence.Config `json:"persistence" yaml:"persistence"`
	Metrics     MetricsConfig      `json:"metrics" yaml:"metrics"`
	Tracing     TracingConfig      `json:"tracing" yaml:"tracing"`
	API         APIConfig          `json:"api" yaml:"api"`
}

// LogConfig configures the host logger.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// BlockConfig declares one block instance.
type BlockConfig struct {
	Name       string                 `json:"name" yaml:"name"`
	Type       string                 `json:"type" yaml:"type"`
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// RouterConfig tunes signal delivery.
type RouterConfig struct {
	Workers     int `json:"workers" yaml:"workers"`
	QueueSize   int `json:"queue_size" yaml:"queue_size"`
	MailboxSize int `json:"mailbox_size" yaml:"mailbox_size"`
	// DrainTimeout bounds how long stopping a block waits for the signals
	// already sent to it, e.g. "5s" in YAML.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// BusConfig selects the event bus deliveries travel on.
type BusConfig struct {
	// Driver is memory or nats.
	Driver string `json:"driver" yaml:"driver"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// MetricsConfig toggles the prometheus collectors.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Runtime bool `json:"runtime" yaml:"runtime"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is jaeger, zipkin, stdout or none.
	Exporter   string  `json:"exporter" yaml:"exporter"`
	Endpoint   string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// APIConfig configures the management API.
type APIConfig struct {
	// Addr is the listen address; empty disables the API.
	Addr string `json:"addr" yaml:"addr"`
	// JWTSecret enables bearer authentication on mutating routes.
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
	// RateLimit caps injected requests per second; 0 means unlimited.
	RateLimit int `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	// APIKeys maps API keys to the roles they grant on mutating routes.
	APIKeys map[string][]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`
	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// Default returns a configuration for a single-process host with no blocks.
func Default() ServiceConfig {
	rc := router.DefaultConfig()
	return ServiceConfig{
		Name: "blockflow",
		Log:  LogConfig{Level: "INFO"},
		Router: RouterConfig{
			Workers:      rc.Workers,
			QueueSize:    rc.QueueSize,
			MailboxSize:  core.DefaultMailboxSize,
			DrainTimeout: rc.DrainTimeout,
		},
		Bus:         BusConfig{Driver: "memory", Prefix: "blockflow"},
		Persistence: persistence.Config{Driver: "memory"},
		Metrics:     MetricsConfig{Enabled: true},
		Tracing:     TracingConfig{Exporter: "none", SampleRate: 1.0},
		API:         APIConfig{Addr: ":8080"},
	}
}

// Validate checks the configuration is complete and consistent.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("service name cannot be empty")
	}

	names := make(map[string]struct{}, len(c.Blocks))
	for i, b := range c.Blocks {
		if err := core.ValidateBlockName(b.Name); err != nil {
			return fmt.Errorf("blocks[%d]: %w", i, err)
		}
		if b.Type == "" {
			return fmt.Errorf("block %q: type cannot be empty", b.Name)
		}
		if _, dup := names[b.Name]; dup {
			return fmt.Errorf("block %q declared twice", b.Name)
		}
		names[b.Name] = struct{}{}
	}
	for i, l := range c.Links {
		if _, ok := names[l.From]; !ok {
			return fmt.Errorf("links[%d]: unknown source block %q", i, l.From)
		}
		if _, ok := names[l.To]; !ok {
			return fmt.Errorf("links[%d]: unknown target block %q", i, l.To)
		}
	}

	if c.Router.Workers < 0 || c.Router.QueueSize < 0 || c.Router.MailboxSize < 0 || c.Router.DrainTimeout < 0 {
		return fmt.Errorf("router sizes cannot be negative")
	}

	switch c.Bus.Driver {
	case "", "memory":
	case "nats":
		if c.Bus.URL == "" {
			return fmt.Errorf("bus driver nats needs a url")
		}
	default:
		return fmt.Errorf("unknown bus driver %q", c.Bus.Driver)
	}

	switch c.Persistence.Driver {
	case "", "memory", "sqlite", "sqlite3", "postgres", "pgx", "pq":
	default:
		return fmt.Errorf("unknown persistence driver %q", c.Persistence.Driver)
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout", "jaeger", "zipkin":
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0.0 and 1.0")
	}

	if c.API.RateLimit < 0 {
		return fmt.Errorf("api rate limit cannot be negative")
	}
	for key, roles := range c.API.APIKeys {
		if key == "" {
			return fmt.Errorf("api key cannot be empty")
		}
		if len(roles) == 0 {
			return fmt.Errorf("api key %q grants no roles", key)
		}
	}
	return nil
}

// RouterSettings returns the router part of the configuration.
func (c *ServiceConfig) RouterSettings() router.Config {
	return router.Config{Workers: c.Router.Workers, QueueSize: c.Router.QueueSize, DrainTimeout: c.Router.DrainTimeout}
}
