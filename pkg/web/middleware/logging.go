// Package middleware provides the FastMiddleware the management API is
// assembled from.
package middleware

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/web"
)

// LoggingConfig configures request logging middleware
type LoggingConfig struct {
	// Logger is the logger to use (default: core.NewDefaultLogger())
	Logger core.Logger

	// LogRequestID includes request ID in logs
	LogRequestID bool

	// SkipPaths is a list of path prefixes to skip logging
	SkipPaths []string
}

// DefaultLoggingConfig returns a default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Logger:       core.NewDefaultLogger(),
		LogRequestID: true,
		SkipPaths:    []string{"/health", "/metrics"},
	}
}

func skipped(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Logging logs one line per completed request.
func Logging(config LoggingConfig) web.FastMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			path := string(ctx.Path())
			if skipped(path, config.SkipPaths) {
				return next(ctx)
			}

			start := time.Now()
			method := string(ctx.Method())
			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			fields := map[string]interface{}{
				"method":      method,
				"path":        path,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": ctx.RequestCtx.RemoteIP().String(),
			}
			if config.LogRequestID {
				fields["request_id"] = ctx.RequestID()
			}

			switch {
			case err != nil:
				fields[core.KeyError] = err.Error()
				logger.WithFields(fields).Error(fmt.Sprintf("%s %s failed", method, path))
			case status >= 500:
				logger.WithFields(fields).Error(fmt.Sprintf("%s %s", method, path))
			default:
				logger.WithFields(fields).Info(fmt.Sprintf("%s %s", method, path))
			}
			return err
		}
	}
}

// RecoveryConfig configures panic recovery middleware
type RecoveryConfig struct {
	Logger core.Logger
	// StackTrace logs the stack of the recovered panic.
	StackTrace bool
}

// DefaultRecoveryConfig returns a default recovery configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{Logger: core.NewDefaultLogger(), StackTrace: true}
}

// Recovery turns a handler panic into a 500 error.
func Recovery(config RecoveryConfig) web.FastMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					fields := map[string]interface{}{"request_id": ctx.RequestID(), "path": string(ctx.Path())}
					if config.StackTrace {
						fields["stack"] = string(debug.Stack())
					}
					logger.WithFields(fields).Error(fmt.Sprintf("panic recovered: %v", r))
					err = web.NewHTTPError(500, "handler_panic", "request handler failed")
				}
			}()
			return next(ctx)
		}
	}
}
