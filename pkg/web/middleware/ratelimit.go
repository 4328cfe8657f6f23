package middleware

import (
	"github.com/fluxorio/blockflow/pkg/web"
	"go.uber.org/ratelimit"
)

// RateLimit paces requests to at most rps per second. Requests over the
// rate wait for their slot rather than being rejected. rps <= 0 disables
// limiting.
func RateLimit(rps int) web.FastMiddleware {
	if rps <= 0 {
		return func(next web.FastRequestHandler) web.FastRequestHandler { return next }
	}
	limiter := ratelimit.New(rps)

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			limiter.Take()
			return next(ctx)
		}
	}
}
