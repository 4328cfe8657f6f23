package web

import (
	"errors"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
)

// FastRequestHandler handles one request.
type FastRequestHandler func(ctx *FastRequestContext) error

// FastMiddleware wraps a handler.
type FastMiddleware func(next FastRequestHandler) FastRequestHandler

// Router registers routes. Patterns are slash-separated; a segment written
// as {name} matches any single segment and is exposed through Param.
type Router interface {
	Use(mw ...FastMiddleware)
	Handle(method, pattern string, handler FastRequestHandler, mw ...FastMiddleware)
	GET(pattern string, handler FastRequestHandler, mw ...FastMiddleware)
	POST(pattern string, handler FastRequestHandler, mw ...FastMiddleware)
	DELETE(pattern string, handler FastRequestHandler, mw ...FastMiddleware)
}

type route struct {
	method   string
	segments []string
	handler  FastRequestHandler
}

func (r *route) match(segments []string, params map[string]string) bool {
	if len(segments) != len(r.segments) {
		return false
	}
	for i, seg := range r.segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if seg != segments[i] {
			return false
		}
	}
	for i, seg := range r.segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params[seg[1:len(seg)-1]] = segments[i]
		}
	}
	return true
}

// FastRouter dispatches requests to the registered routes.
type FastRouter struct {
	mu         sync.RWMutex
	routes     []*route
	middleware []FastMiddleware
}

// NewFastRouter creates an empty router.
func NewFastRouter() *FastRouter {
	return &FastRouter{}
}

// Use appends middleware applied to every route, outermost first.
func (r *FastRouter) Use(mw ...FastMiddleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

func (r *FastRouter) Handle(method, pattern string, handler FastRequestHandler, mw ...FastMiddleware) {
	if handler == nil {
		panic("handler cannot be nil")
	}
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, &route{method: method, segments: splitPath(pattern), handler: handler})
}

func (r *FastRouter) GET(pattern string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Handle(fasthttp.MethodGet, pattern, handler, mw...)
}

func (r *FastRouter) POST(pattern string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Handle(fasthttp.MethodPost, pattern, handler, mw...)
}

func (r *FastRouter) DELETE(pattern string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Handle(fasthttp.MethodDelete, pattern, handler, mw...)
}

// ServeFastHTTP routes ctx through the global middleware to its handler and
// writes any returned error as a JSON response.
func (r *FastRouter) ServeFastHTTP(ctx *FastRequestContext) {
	r.mu.RLock()
	middleware := r.middleware
	r.mu.RUnlock()

	var handler FastRequestHandler = r.dispatch
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	if err := handler(ctx); err != nil {
		writeError(ctx, err)
	}
}

func (r *FastRouter) dispatch(ctx *FastRequestContext) error {
	segments := splitPath(string(ctx.Path()))
	method := string(ctx.Method())

	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	pathMatched := false
	for _, rt := range routes {
		params := make(map[string]string)
		if !rt.match(segments, params) {
			continue
		}
		pathMatched = true
		if rt.method != method {
			continue
		}
		for k, v := range params {
			ctx.Params[k] = v
		}
		return rt.handler(ctx)
	}

	if pathMatched {
		return NewHTTPError(fasthttp.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
	return NewHTTPError(fasthttp.StatusNotFound, "not_found", "no route for "+string(ctx.Path()))
}

func writeError(ctx *FastRequestContext, err error) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = NewHTTPError(fasthttp.StatusInternalServerError, "internal_error", err.Error())
	}
	if jsonErr := ctx.JSON(httpErr.Status, httpErr); jsonErr != nil {
		ctx.Error(httpErr.Message, httpErr.Status)
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
