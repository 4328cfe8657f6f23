package health

import (
	"time"

	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/valyala/fasthttp"
)

// Aggregator serves the combined result of a Registry.
type Aggregator struct {
	registry *Registry
}

// NewAggregator creates an aggregator over registry.
func NewAggregator(registry *Registry) *Aggregator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Aggregator{registry: registry}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HandleHealth answers 200 when every check is up and 503 otherwise.
func (a *Aggregator) HandleHealth(ctx *web.FastRequestContext) error {
	results := a.registry.Check(ctx.Context())
	status := Overall(results)

	code := fasthttp.StatusOK
	if status == StatusDown {
		code = fasthttp.StatusServiceUnavailable
	}
	return ctx.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
		RequestID: ctx.RequestID(),
	})
}
