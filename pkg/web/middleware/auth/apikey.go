package auth

import (
	"fmt"

	"github.com/fluxorio/blockflow/pkg/web"
)

// APIKeyValidator resolves an API key to its claims.
type APIKeyValidator func(key string) (map[string]interface{}, error)

// SimpleAPIKeyValidator validates against a fixed key set.
func SimpleAPIKeyValidator(keys map[string]map[string]interface{}) APIKeyValidator {
	return func(key string) (map[string]interface{}, error) {
		claims, ok := keys[key]
		if !ok {
			return nil, fmt.Errorf("unknown api key")
		}
		return claims, nil
	}
}

// APIKey authenticates requests by the key in header and stores the
// resolved claims under ClaimsKey.
func APIKey(header string, validate APIKeyValidator) web.FastMiddleware {
	if header == "" {
		header = "X-API-Key"
	}
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			key := ctx.Header(header)
			if key == "" {
				return unauthorized("missing api key")
			}
			claims, err := validate(key)
			if err != nil {
				return unauthorized(err.Error())
			}
			ctx.Set(ClaimsKey, claims)
			return next(ctx)
		}
	}
}
