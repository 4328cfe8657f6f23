// Package gateway exposes a running block service over HTTP: health,
// block discovery, per-block status, metrics and signal injection.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/core/fsm"
	"github.com/fluxorio/blockflow/pkg/discovery"
	blockotel "github.com/fluxorio/blockflow/pkg/observability/otel"
	prom "github.com/fluxorio/blockflow/pkg/observability/prometheus"
	"github.com/fluxorio/blockflow/pkg/service"
	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/fluxorio/blockflow/pkg/web/health"
	"github.com/fluxorio/blockflow/pkg/web/middleware"
	"github.com/fluxorio/blockflow/pkg/web/middleware/auth"
	"github.com/fluxorio/blockflow/pkg/web/middleware/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
)

// OperatorRole is required to inject signals when auth is enabled.
const OperatorRole = "operator"

// APIKeyHeader carries an API key on authenticated requests.
const APIKeyHeader = "X-API-Key"

// Host is the part of a block service the gateway serves.
type Host interface {
	Name() string
	State() fsm.State
	Status() []service.BlockStatus
	Inject(ctx context.Context, name, inputID string, signals interface{}) error
	Registry() *discovery.Registry
	Gatherer() prometheus.Gatherer
	Ping(ctx context.Context) error
}

// Config configures the gateway.
type Config struct {
	Addr string
	// JWTSecret enables bearer auth on mutating routes when set.
	JWTSecret string
	// APIKeys enables API key auth on mutating routes, mapping each key to
	// the roles it grants.
	APIKeys map[string][]string
	// CORSOrigins enables CORS for the listed origins; "*" allows any.
	CORSOrigins []string
	// RateLimit bounds signal injections per second; 0 disables it.
	RateLimit int
	Logger    core.Logger
	Server    *web.FastHTTPServerConfig
}

// Gateway is the management HTTP server of a block service.
type Gateway struct {
	host   Host
	cfg    Config
	server *web.FastHTTPServer
	checks *health.Registry
}

// New builds a gateway serving host.
func New(host Host, cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = core.NewDefaultLogger()
	}
	serverCfg := cfg.Server
	if serverCfg == nil {
		serverCfg = web.DefaultFastHTTPServerConfig(cfg.Addr)
	}

	g := &Gateway{
		host:   host,
		cfg:    cfg,
		server: web.NewFastHTTPServer(serverCfg, web.WithServerLogger(cfg.Logger)),
		checks: health.NewRegistry(),
	}
	g.checks.Register("service", health.PingCheck(host))
	g.routes()
	return g
}

func (g *Gateway) routes() {
	r := g.server.Router()

	logging := middleware.DefaultLoggingConfig()
	logging.Logger = g.cfg.Logger
	recovery := middleware.DefaultRecoveryConfig()
	recovery.Logger = g.cfg.Logger
	r.Use(
		middleware.Recovery(recovery),
		middleware.Logging(logging),
		blockotel.HTTPMiddleware(),
		security.Headers(security.DefaultHeadersConfig()),
	)
	if len(g.cfg.CORSOrigins) > 0 {
		cors := security.DefaultCORSConfig()
		cors.AllowedOrigins = g.cfg.CORSOrigins
		cors.AllowedHeaders = append(cors.AllowedHeaders, APIKeyHeader)
		r.Use(security.CORS(cors))
	}
	r.Use(middleware.Compression(middleware.DefaultCompressionConfig()))

	r.GET("/health", health.NewAggregator(g.checks).HandleHealth)
	r.GET("/metrics", g.handleMetrics)
	r.GET("/blocks/types", g.handleTypes)
	r.GET("/service", g.handleService)
	r.GET("/service/blocks", g.handleBlocks)
	r.GET("/service/blocks/{name}", g.handleBlock)

	inject := []web.FastMiddleware{middleware.RateLimit(g.cfg.RateLimit)}
	if authn := g.authenticate(); authn != nil {
		inject = append(inject, authn, auth.RequireRole(OperatorRole))
	}
	r.POST("/service/blocks/{name}/signals", g.handleInject, inject...)
}

// authenticate picks API key auth for requests carrying APIKeyHeader and
// bearer auth otherwise. It returns nil when neither is configured.
func (g *Gateway) authenticate() web.FastMiddleware {
	var jwt, apiKey web.FastMiddleware
	if g.cfg.JWTSecret != "" {
		jwt = auth.JWT(auth.DefaultJWTConfig(g.cfg.JWTSecret))
	}
	if len(g.cfg.APIKeys) > 0 {
		keys := make(map[string]map[string]interface{}, len(g.cfg.APIKeys))
		for key, roles := range g.cfg.APIKeys {
			keys[key] = map[string]interface{}{"roles": roles}
		}
		apiKey = auth.APIKey(APIKeyHeader, auth.SimpleAPIKeyValidator(keys))
	}

	switch {
	case jwt == nil:
		return apiKey
	case apiKey == nil:
		return jwt
	}
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		byKey, byToken := apiKey(next), jwt(next)
		return func(ctx *web.FastRequestContext) error {
			if ctx.Header(APIKeyHeader) != "" {
				return byKey(ctx)
			}
			return byToken(ctx)
		}
	}
}

// Health returns the check registry behind /health so callers can add
// checks of their own.
func (g *Gateway) Health() *health.Registry {
	return g.checks
}

// Server returns the underlying HTTP server.
func (g *Gateway) Server() *web.FastHTTPServer {
	return g.server
}

// Start serves on the configured address until Stop.
func (g *Gateway) Start() error {
	g.cfg.Logger.WithFields(map[string]interface{}{"addr": g.server.Addr()}).Info("gateway listening")
	return g.server.Start()
}

// Serve serves on ln until Stop.
func (g *Gateway) Serve(ln net.Listener) error {
	return g.server.Serve(ln)
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (g *Gateway) Stop(ctx context.Context) error {
	g.cfg.Logger.Info("stopping gateway")
	return g.server.Stop(ctx)
}

type serviceView struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Blocks int    `json:"blocks"`
}

func (g *Gateway) handleService(ctx *web.FastRequestContext) error {
	return ctx.JSON(fasthttp.StatusOK, serviceView{
		Name:   g.host.Name(),
		State:  string(g.host.State()),
		Blocks: len(g.host.Status()),
	})
}

func (g *Gateway) handleTypes(ctx *web.FastRequestContext) error {
	return ctx.JSON(fasthttp.StatusOK, g.host.Registry().Describe())
}

func (g *Gateway) handleBlocks(ctx *web.FastRequestContext) error {
	return ctx.JSON(fasthttp.StatusOK, g.host.Status())
}

func (g *Gateway) handleBlock(ctx *web.FastRequestContext) error {
	status, ok := g.lookup(ctx.Param("name"))
	if !ok {
		return blockNotFound(ctx.Param("name"))
	}
	return ctx.JSON(fasthttp.StatusOK, status)
}

func (g *Gateway) handleMetrics(ctx *web.FastRequestContext) error {
	gatherer := g.host.Gatherer()
	if gatherer == nil {
		return web.NewHTTPError(fasthttp.StatusNotFound, "metrics_disabled", "metrics are disabled")
	}
	prom.FastHTTPHandlerFor(gatherer)(ctx.RequestCtx)
	return nil
}

type injectResponse struct {
	Block    string `json:"block"`
	Input    string `json:"input,omitempty"`
	Accepted int    `json:"accepted"`
}

// handleInject accepts one JSON object as a single signal or a JSON array
// of objects as a batch.
func (g *Gateway) handleInject(ctx *web.FastRequestContext) error {
	name := ctx.Param("name")
	if _, ok := g.lookup(name); !ok {
		return blockNotFound(name)
	}

	batch, err := decodeSignals(ctx.Body())
	if err != nil {
		return web.NewHTTPError(fasthttp.StatusBadRequest, "invalid_signals", err.Error())
	}

	input := ctx.Query("input")
	if err := g.host.Inject(ctx.Context(), name, input, batch); err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidSignals):
			return web.NewHTTPError(fasthttp.StatusBadRequest, "invalid_signals", err.Error())
		case errors.Is(err, core.ErrInvalidState):
			return web.NewHTTPError(fasthttp.StatusConflict, "invalid_state", err.Error())
		case errors.Is(err, core.ErrBackpressure):
			ctx.RequestCtx.Response.Header.Set("Retry-After", "1")
			return web.NewHTTPError(fasthttp.StatusServiceUnavailable, "backpressure", err.Error())
		}
		return err
	}
	return ctx.JSON(fasthttp.StatusAccepted, injectResponse{Block: name, Input: input, Accepted: len(batch)})
}

func decodeSignals(body []byte) ([]*core.Signal, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("request body is empty")
	}
	switch body[0] {
	case '{':
		sig := &core.Signal{}
		if err := core.JSONDecode(body, sig); err != nil {
			return nil, err
		}
		return []*core.Signal{sig}, nil
	case '[':
		var batch []*core.Signal
		if err := core.JSONDecode(body, &batch); err != nil {
			return nil, err
		}
		return core.ToSignals(batch)
	}
	return nil, fmt.Errorf("body must be a JSON object or an array of objects")
}

func (g *Gateway) lookup(name string) (service.BlockStatus, bool) {
	for _, st := range g.host.Status() {
		if st.Name == name {
			return st, true
		}
	}
	return service.BlockStatus{}, false
}

func blockNotFound(name string) error {
	return web.NewHTTPError(fasthttp.StatusNotFound, "block_not_found", fmt.Sprintf("no block named %q", name))
}
