package web

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// FastHTTPServer serves a FastRouter with fasthttp. Requests beyond
// MaxInFlight are rejected with 503 instead of queueing.
type FastHTTPServer struct {
	router *FastRouter
	server *fasthttp.Server
	bus    core.EventBus
	logger core.Logger
	addr   string

	maxInFlight int64
	inFlight    int64
	rejected    int64
	served      int64

	mu      sync.Mutex
	ln      net.Listener
	stopped bool
	baseCtx context.Context
}

// FastHTTPServerConfig configures the fasthttp server
type FastHTTPServerConfig struct {
	Addr string
	// MaxInFlight bounds concurrent requests; 0 means unbounded.
	MaxInFlight     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxConnsPerIP   int
	ReadBufferSize  int
	WriteBufferSize int
	MaxBodySize     int
}

// DefaultFastHTTPServerConfig returns the management API defaults.
func DefaultFastHTTPServerConfig(addr string) *FastHTTPServerConfig {
	return &FastHTTPServerConfig{
		Addr:            addr,
		MaxInFlight:     1024,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		MaxBodySize:     4 << 20,
	}
}

// ServerOption configures a FastHTTPServer.
type ServerOption func(*FastHTTPServer)

// WithServerLogger sets the server logger.
func WithServerLogger(logger core.Logger) ServerOption {
	return func(s *FastHTTPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus exposes bus to handlers through FastRequestContext.EventBus.
func WithEventBus(bus core.EventBus) ServerOption {
	return func(s *FastHTTPServer) {
		s.bus = bus
	}
}

// NewFastHTTPServer creates a server for config.
func NewFastHTTPServer(config *FastHTTPServerConfig, opts ...ServerOption) *FastHTTPServer {
	if config == nil {
		config = DefaultFastHTTPServerConfig(":8080")
	}

	s := &FastHTTPServer{
		router:      NewFastRouter(),
		addr:        config.Addr,
		logger:      core.NewNopLogger(),
		maxInFlight: int64(config.MaxInFlight),
		baseCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &fasthttp.Server{
		Handler:               s.handleRequest,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		MaxConnsPerIP:         config.MaxConnsPerIP,
		ReadBufferSize:        config.ReadBufferSize,
		WriteBufferSize:       config.WriteBufferSize,
		MaxRequestBodySize:    config.MaxBodySize,
		NoDefaultServerHeader: true,
		ReduceMemoryUsage:     true,
	}
	return s
}

// Router returns the router
func (s *FastHTTPServer) Router() Router {
	return s.router
}

// FastRouter returns the fast router for direct access
func (s *FastHTTPServer) FastRouter() *FastRouter {
	return s.router
}

// Addr returns the address the server listens on, once listening.
func (s *FastHTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Start listens on the configured address and serves until Stop.
func (s *FastHTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves requests from ln until Stop. It returns nil once stopped.
func (s *FastHTTPServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ln.Close()
	}
	s.ln = ln
	s.mu.Unlock()
	s.logger.WithFields(map[string]interface{}{"addr": ln.Addr().String()}).Info("http server listening")

	err := s.server.Serve(ln)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	return err
}

// Stop stops the server gracefully, waiting for open requests until ctx is
// done. A server stopped before it serves never starts.
func (s *FastHTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := s.server.ShutdownWithContext(ctx)
	// Serve may not have handed ln to fasthttp yet.
	_ = ln.Close()
	return err
}

// ServerMetrics provides server counters.
type ServerMetrics struct {
	InFlight    int64 `json:"in_flight"`
	Served      int64 `json:"served"`
	Rejected    int64 `json:"rejected"`
	MaxInFlight int64 `json:"max_in_flight"`
}

// Metrics returns current server counters.
func (s *FastHTTPServer) Metrics() ServerMetrics {
	return ServerMetrics{
		InFlight:    atomic.LoadInt64(&s.inFlight),
		Served:      atomic.LoadInt64(&s.served),
		Rejected:    atomic.LoadInt64(&s.rejected),
		MaxInFlight: s.maxInFlight,
	}
}

// handleRequest applies backpressure, assigns a request id and routes the
// request. A handler panic becomes a 500.
func (s *FastHTTPServer) handleRequest(rc *fasthttp.RequestCtx) {
	current := atomic.AddInt64(&s.inFlight, 1)
	defer atomic.AddInt64(&s.inFlight, -1)
	if s.maxInFlight > 0 && current > s.maxInFlight {
		atomic.AddInt64(&s.rejected, 1)
		rc.SetStatusCode(fasthttp.StatusServiceUnavailable)
		rc.SetContentType("application/json")
		rc.SetBodyString(`{"code":"backpressure","message":"server at capacity"}`)
		return
	}
	atomic.AddInt64(&s.served, 1)

	requestID := string(rc.Request.Header.Peek(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.New().String()
	}
	rc.Response.Header.Set(RequestIDHeader, requestID)

	ctx := NewFastRequestContext(core.WithRequestID(s.baseCtx, requestID), rc, s.bus)

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(map[string]interface{}{"request_id": requestID}).Error(fmt.Sprintf("handler panic (isolated): %v", r))
			rc.ResetBody()
			rc.SetStatusCode(fasthttp.StatusInternalServerError)
			rc.SetContentType("application/json")
			rc.SetBodyString(`{"code":"handler_panic","message":"request handler failed"}`)
		}
	}()
	s.router.ServeFastHTTP(ctx)
}
