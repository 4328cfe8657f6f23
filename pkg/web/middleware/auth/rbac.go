package auth

import (
	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/valyala/fasthttp"
)

// roles reads the "roles" claim, which may be a list or a single string.
func roles(ctx *web.FastRequestContext) map[string]bool {
	claims, ok := Claims(ctx)
	if !ok {
		return nil
	}
	out := make(map[string]bool)
	switch v := claims["roles"].(type) {
	case string:
		out[v] = true
	case []string:
		for _, r := range v {
			out[r] = true
		}
	case []interface{}:
		for _, r := range v {
			if s, ok := r.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

func requireRoles(match func(have map[string]bool) bool) web.FastMiddleware {
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			have := roles(ctx)
			if have == nil {
				return unauthorized("request is not authenticated")
			}
			if !match(have) {
				return web.NewHTTPError(fasthttp.StatusForbidden, "forbidden", "missing required role")
			}
			return next(ctx)
		}
	}
}

// RequireRole admits requests whose claims carry role.
func RequireRole(role string) web.FastMiddleware {
	return RequireAnyRole(role)
}

// RequireAnyRole admits requests carrying at least one of roles.
func RequireAnyRole(roles ...string) web.FastMiddleware {
	return requireRoles(func(have map[string]bool) bool {
		for _, r := range roles {
			if have[r] {
				return true
			}
		}
		return false
	})
}
