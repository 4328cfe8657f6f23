package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BLOCKFLOW_API_ADDR.
const EnvPrefix = "BLOCKFLOW"

// LoadService reads a service configuration on top of Default, applies
// environment overrides and validates the result. An empty path yields the
// defaults with overrides applied.
func LoadService(path string) (*ServiceConfig, error) {
	cfg := Default()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return nil, err
		}
	}
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// envOverrides maps a dotted key (BLOCKFLOW_ plus the key with dots as
// underscores) to the field it sets. Block properties are left to the file
// because their names are case-sensitive.
var envOverrides = map[string]func(v *viper.Viper, key string, cfg *ServiceConfig){
	"name":                 func(v *viper.Viper, k string, c *ServiceConfig) { c.Name = v.GetString(k) },
	"log.level":            func(v *viper.Viper, k string, c *ServiceConfig) { c.Log.Level = v.GetString(k) },
	"log.json":             func(v *viper.Viper, k string, c *ServiceConfig) { c.Log.JSON = v.GetBool(k) },
	"router.workers":       func(v *viper.Viper, k string, c *ServiceConfig) { c.Router.Workers = v.GetInt(k) },
	"router.drain_timeout": func(v *viper.Viper, k string, c *ServiceConfig) { c.Router.DrainTimeout = v.GetDuration(k) },
	"bus.driver":           func(v *viper.Viper, k string, c *ServiceConfig) { c.Bus.Driver = v.GetString(k) },
	"bus.url":              func(v *viper.Viper, k string, c *ServiceConfig) { c.Bus.URL = v.GetString(k) },
	"bus.prefix":           func(v *viper.Viper, k string, c *ServiceConfig) { c.Bus.Prefix = v.GetString(k) },
	"persistence.driver":   func(v *viper.Viper, k string, c *ServiceConfig) { c.Persistence.Driver = v.GetString(k) },
	"persistence.dsn":      func(v *viper.Viper, k string, c *ServiceConfig) { c.Persistence.DSN = v.GetString(k) },
	"metrics.enabled":      func(v *viper.Viper, k string, c *ServiceConfig) { c.Metrics.Enabled = v.GetBool(k) },
	"tracing.exporter":     func(v *viper.Viper, k string, c *ServiceConfig) { c.Tracing.Exporter = v.GetString(k) },
	"tracing.endpoint":     func(v *viper.Viper, k string, c *ServiceConfig) { c.Tracing.Endpoint = v.GetString(k) },
	"api.addr":             func(v *viper.Viper, k string, c *ServiceConfig) { c.API.Addr = v.GetString(k) },
	"api.jwt_secret":       func(v *viper.Viper, k string, c *ServiceConfig) { c.API.JWTSecret = v.GetString(k) },
	"api.rate_limit":       func(v *viper.Viper, k string, c *ServiceConfig) { c.API.RateLimit = v.GetInt(k) },
}

// ApplyEnv overrides cfg with any BLOCKFLOW_* environment variables set.
func ApplyEnv(cfg *ServiceConfig) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, set := range envOverrides {
		if err := v.BindEnv(key); err != nil {
			continue
		}
		if v.IsSet(key) {
			set(v, key, cfg)
		}
	}
}
