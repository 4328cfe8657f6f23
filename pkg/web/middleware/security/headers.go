package security

import (
	"strconv"

	"github.com/fluxorio/blockflow/pkg/web"
)

// HeadersConfig configures security headers
type HeadersConfig struct {
	// HSTS (HTTP Strict Transport Security)
	HSTS           bool
	HSTSMaxAge     int // in seconds, default 31536000 (1 year)
	HSTSIncludeSub bool

	// CSP (Content Security Policy)
	CSP string

	// X-Frame-Options
	XFrameOptions string // DENY, SAMEORIGIN, or ALLOW-FROM uri

	// X-Content-Type-Options
	XContentTypeOptions bool // nosniff

	// X-XSS-Protection
	XXSSProtection string // 1; mode=block

	// Referrer-Policy
	ReferrerPolicy string // no-referrer, no-referrer-when-downgrade, origin, etc.

	// Permissions-Policy (formerly Feature-Policy)
	PermissionsPolicy string

	// Custom headers
	CustomHeaders map[string]string
}

// DefaultHeadersConfig returns a default security headers configuration
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		HSTS:                false,
		HSTSMaxAge:          31536000, // 1 year
		HSTSIncludeSub:      true,
		XContentTypeOptions: true,
		XXSSProtection:      "1; mode=block",
		ReferrerPolicy:      "strict-origin-when-cross-origin",
		XFrameOptions:       "DENY",
		CustomHeaders:       make(map[string]string),
	}
}

// Headers sets the configured security headers on every response.
func Headers(config HeadersConfig) web.FastMiddleware {
	headers := make(map[string]string)
	if config.HSTS {
		maxAge := config.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = 31536000
		}
		hsts := "max-age=" + strconv.Itoa(maxAge)
		if config.HSTSIncludeSub {
			hsts += "; includeSubDomains"
		}
		headers["Strict-Transport-Security"] = hsts
	}
	if config.XContentTypeOptions {
		headers["X-Content-Type-Options"] = "nosniff"
	}
	for name, value := range map[string]string{
		"Content-Security-Policy": config.CSP,
		"X-Frame-Options":         config.XFrameOptions,
		"X-XSS-Protection":        config.XXSSProtection,
		"Referrer-Policy":         config.ReferrerPolicy,
		"Permissions-Policy":      config.PermissionsPolicy,
	} {
		if value != "" {
			headers[name] = value
		}
	}
	for name, value := range config.CustomHeaders {
		headers[name] = value
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			for name, value := range headers {
				ctx.RequestCtx.Response.Header.Set(name, value)
			}
			return next(ctx)
		}
	}
}
