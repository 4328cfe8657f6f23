package web

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/valyala/fasthttp"
)

// RequestIDHeader carries the request id in and out of the server.
const RequestIDHeader = "X-Request-ID"

// FastRequestContext wraps fasthttp RequestCtx with host context
type FastRequestContext struct {
	RequestCtx *fasthttp.RequestCtx
	EventBus   core.EventBus
	Params     map[string]string
	ctx        context.Context
	data       map[string]interface{}
	mu         sync.RWMutex
}

// NewFastRequestContext wraps rc. It is exported for handler tests.
func NewFastRequestContext(parent context.Context, rc *fasthttp.RequestCtx, bus core.EventBus) *FastRequestContext {
	if parent == nil {
		parent = context.Background()
	}
	return &FastRequestContext{
		RequestCtx: rc,
		EventBus:   bus,
		Params:     make(map[string]string),
		ctx:        parent,
	}
}

// Context returns the request-scoped context. It carries the request id.
func (c *FastRequestContext) Context() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

// SetContext replaces the request-scoped context, e.g. to attach a span.
func (c *FastRequestContext) SetContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
}

// RequestID returns the id assigned to this request.
func (c *FastRequestContext) RequestID() string {
	return core.GetRequestID(c.Context())
}

// Set stores a value in the context
func (c *FastRequestContext) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]interface{})
	}
	c.data[key] = value
}

// Get retrieves a value from the context
func (c *FastRequestContext) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return nil
	}
	return c.data[key]
}

// JSON writes JSON response (default format) - fail-fast
func (c *FastRequestContext) JSON(statusCode int, data interface{}) error {
	if statusCode < 100 || statusCode > 599 {
		return fmt.Errorf("invalid status code: %d", statusCode)
	}

	jsonData, err := core.JSONEncode(data)
	if err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}

	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("application/json")
	c.RequestCtx.SetBody(jsonData)
	return nil
}

// BindJSON binds JSON request body to a value - fail-fast
func (c *FastRequestContext) BindJSON(v interface{}) error {
	if v == nil {
		return fmt.Errorf("cannot bind to nil value")
	}

	body := c.RequestCtx.PostBody()
	if len(body) == 0 {
		return fmt.Errorf("empty request body")
	}
	return core.JSONDecode(body, v)
}

// Body returns the raw request body.
func (c *FastRequestContext) Body() []byte {
	return c.RequestCtx.PostBody()
}

// Text writes text response
func (c *FastRequestContext) Text(statusCode int, text string) error {
	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("text/plain; charset=utf-8")
	c.RequestCtx.SetBodyString(text)
	return nil
}

// Query returns query parameter value
func (c *FastRequestContext) Query(key string) string {
	return string(c.RequestCtx.QueryArgs().Peek(key))
}

// Param returns path parameter value
func (c *FastRequestContext) Param(key string) string {
	return c.Params[key]
}

// Header returns a request header value.
func (c *FastRequestContext) Header(key string) string {
	return string(c.RequestCtx.Request.Header.Peek(key))
}

// Method returns HTTP method
func (c *FastRequestContext) Method() []byte {
	return c.RequestCtx.Method()
}

// Path returns request path
func (c *FastRequestContext) Path() []byte {
	return c.RequestCtx.Path()
}

// Error writes error response
func (c *FastRequestContext) Error(msg string, statusCode int) {
	c.RequestCtx.Error(msg, statusCode)
}

// HTTPError is returned by handlers to answer with a specific status.
type HTTPError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError builds an HTTPError.
func NewHTTPError(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}
