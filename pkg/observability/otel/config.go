package otel

import (
	"fmt"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterJaeger = "jaeger"
	ExporterZipkin = "zipkin"
)

// Config selects where spans go and how many are kept.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Exporter is one of the Exporter* names; empty means none.
	Exporter string
	// Endpoint overrides the exporter's default collector URL.
	Endpoint    string
	Environment string
	// SampleRate is the fraction of root spans kept, 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig traces every request but exports nothing.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "blockflow",
		ServiceVersion: "dev",
		Exporter:       ExporterNone,
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// Enabled reports whether spans are exported anywhere.
func (c Config) Enabled() bool {
	return c.Exporter != "" && c.Exporter != ExporterNone
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample rate must be between 0.0 and 1.0, got %v", c.SampleRate)
	}
	switch c.Exporter {
	case "", ExporterNone, ExporterStdout, ExporterJaeger, ExporterZipkin:
		return nil
	}
	return fmt.Errorf("unsupported exporter: %s", c.Exporter)
}
