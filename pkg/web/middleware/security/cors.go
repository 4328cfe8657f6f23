package security

import (
	"strconv"
	"strings"

	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/valyala/fasthttp"
)

// CORSConfig configures CORS (Cross-Origin Resource Sharing)
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins (use "*" for all)
	AllowedOrigins []string

	// AllowedMethods is a list of allowed HTTP methods
	AllowedMethods []string

	// AllowedHeaders is a list of allowed request headers
	AllowedHeaders []string

	// ExposedHeaders is a list of headers that can be exposed to the client
	ExposedHeaders []string

	// AllowCredentials indicates whether credentials can be included
	AllowCredentials bool

	// MaxAge is the maximum age for preflight requests (in seconds)
	MaxAge int
}

// DefaultCORSConfig returns a default CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// CORS answers preflight requests and adds the CORS headers to responses
// for allowed origins.
func CORS(config CORSConfig) web.FastMiddleware {
	allowed := make(map[string]bool)
	allowAll := false
	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}
	methods := strings.Join(config.AllowedMethods, ", ")
	headers := strings.Join(config.AllowedHeaders, ", ")
	exposed := strings.Join(config.ExposedHeaders, ", ")

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			h := &ctx.RequestCtx.Response.Header
			origin := ctx.Header("Origin")

			switch {
			case allowAll:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			if config.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if string(ctx.Method()) == fasthttp.MethodOptions {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
				}
				ctx.RequestCtx.SetStatusCode(fasthttp.StatusNoContent)
				return nil
			}

			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}
			return next(ctx)
		}
	}
}
