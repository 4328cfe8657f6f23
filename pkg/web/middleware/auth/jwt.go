// Package auth authenticates management API requests with JWT bearer
// tokens or API keys and authorizes them by role.
package auth

import (
	"fmt"
	"strings"

	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// ClaimsKey is the FastRequestContext key authenticated claims are stored under.
const ClaimsKey = "auth.claims"

// JWTConfig configures JWT authentication.
type JWTConfig struct {
	// SecretKey verifies HS256 signatures.
	SecretKey string
	// Header holds the token (default: Authorization).
	Header string
	// Scheme prefixes the token in Header (default: Bearer).
	Scheme string
	// SkipPaths are path prefixes served without a token.
	SkipPaths []string
}

// DefaultJWTConfig returns a configuration verifying tokens signed with secret.
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		SecretKey: secret,
		Header:    fasthttp.HeaderAuthorization,
		Scheme:    "Bearer",
	}
}

func unauthorized(message string) error {
	return web.NewHTTPError(fasthttp.StatusUnauthorized, "unauthorized", message)
}

// JWT rejects requests without a valid HS256 token and stores the token
// claims under ClaimsKey.
func JWT(config JWTConfig) web.FastMiddleware {
	if config.SecretKey == "" {
		panic("jwt secret key cannot be empty")
	}
	if config.Header == "" {
		config.Header = fasthttp.HeaderAuthorization
	}
	if config.Scheme == "" {
		config.Scheme = "Bearer"
	}
	key := []byte(config.SecretKey)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			path := string(ctx.Path())
			for _, p := range config.SkipPaths {
				if strings.HasPrefix(path, p) {
					return next(ctx)
				}
			}

			raw := ctx.Header(config.Header)
			prefix := config.Scheme + " "
			if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
				return unauthorized("missing bearer token")
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(raw[len(prefix):], claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil {
				return unauthorized(fmt.Sprintf("invalid token: %v", err))
			}

			ctx.Set(ClaimsKey, map[string]interface{}(claims))
			return next(ctx)
		}
	}
}

// Claims returns the claims stored by JWT or APIKey.
func Claims(ctx *web.FastRequestContext) (map[string]interface{}, bool) {
	claims, ok := ctx.Get(ClaimsKey).(map[string]interface{})
	return claims, ok
}

// NewToken signs an HS256 token carrying claims. Used by tooling and tests.
func NewToken(secret string, claims map[string]interface{}) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString([]byte(secret))
}
