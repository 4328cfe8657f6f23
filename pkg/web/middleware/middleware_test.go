package middleware_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/fluxorio/blockflow/pkg/web/middleware"
	"github.com/fluxorio/blockflow/pkg/web/middleware/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func request(method, path string, headers map[string]string) *web.FastRequestContext {
	rc := &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI(path)
	rc.Request.Header.SetMethod(method)
	for k, v := range headers {
		rc.Request.Header.Set(k, v)
	}
	return web.NewFastRequestContext(core.WithRequestID(context.Background(), "req-1"), rc, nil)
}

func TestRecovery(t *testing.T) {
	mw := middleware.Recovery(middleware.RecoveryConfig{Logger: core.NewNopLogger()})
	err := mw(func(*web.FastRequestContext) error { panic("boom") })(request("GET", "/x", nil))

	var httpErr *web.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, fasthttp.StatusInternalServerError, httpErr.Status)
}

func TestLogging_PassesThrough(t *testing.T) {
	mw := middleware.Logging(middleware.LoggingConfig{Logger: core.NewNopLogger(), LogRequestID: true})
	want := errors.New("handler failed")
	err := mw(func(*web.FastRequestContext) error { return want })(request("GET", "/x", nil))
	assert.Equal(t, want, err)
}

func TestCompression(t *testing.T) {
	body := strings.Repeat(`{"signal":"value"}`, 200)
	handler := middleware.Compression(middleware.DefaultCompressionConfig())(func(ctx *web.FastRequestContext) error {
		ctx.RequestCtx.SetContentType("application/json")
		ctx.RequestCtx.SetBodyString(body)
		return nil
	})

	t.Run("gzip accepted", func(t *testing.T) {
		ctx := request("GET", "/x", map[string]string{"Accept-Encoding": "gzip, deflate"})
		require.NoError(t, handler(ctx))
		resp := &ctx.RequestCtx.Response
		assert.Equal(t, "gzip", string(resp.Header.Peek("Content-Encoding")))
		assert.Less(t, len(resp.Body()), len(body))

		plain, err := resp.BodyGunzip()
		require.NoError(t, err)
		assert.Equal(t, body, string(plain))
	})

	t.Run("gzip not accepted", func(t *testing.T) {
		ctx := request("GET", "/x", nil)
		require.NoError(t, handler(ctx))
		assert.Empty(t, ctx.RequestCtx.Response.Header.Peek("Content-Encoding"))
		assert.Equal(t, body, string(ctx.RequestCtx.Response.Body()))
	})

	t.Run("small body", func(t *testing.T) {
		small := middleware.Compression(middleware.DefaultCompressionConfig())(func(ctx *web.FastRequestContext) error {
			return ctx.JSON(200, map[string]string{"a": "b"})
		})
		ctx := request("GET", "/x", map[string]string{"Accept-Encoding": "gzip"})
		require.NoError(t, small(ctx))
		assert.Empty(t, ctx.RequestCtx.Response.Header.Peek("Content-Encoding"))
	})
}

func TestRateLimit(t *testing.T) {
	handler := middleware.RateLimit(20)(func(*web.FastRequestContext) error { return nil })

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, handler(request("POST", "/x", nil)))
	}
	// five requests at 20/s need at least four 50ms intervals
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	unlimited := middleware.RateLimit(0)(func(*web.FastRequestContext) error { return nil })
	assert.NoError(t, unlimited(request("POST", "/x", nil)))
}

func TestSecurityHeaders(t *testing.T) {
	cfg := security.DefaultHeadersConfig()
	cfg.CustomHeaders["X-Service"] = "blockflow"
	ctx := request("GET", "/x", nil)
	require.NoError(t, security.Headers(cfg)(func(*web.FastRequestContext) error { return nil })(ctx))

	h := &ctx.RequestCtx.Response.Header
	assert.Equal(t, "nosniff", string(h.Peek("X-Content-Type-Options")))
	assert.Equal(t, "DENY", string(h.Peek("X-Frame-Options")))
	assert.Equal(t, "blockflow", string(h.Peek("X-Service")))
	assert.Empty(t, h.Peek("Strict-Transport-Security"))
}

func TestCORS(t *testing.T) {
	cfg := security.DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://console.example"}
	called := false
	handler := security.CORS(cfg)(func(*web.FastRequestContext) error {
		called = true
		return nil
	})

	preflight := request("OPTIONS", "/service/blocks", map[string]string{"Origin": "https://console.example"})
	require.NoError(t, handler(preflight))
	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusNoContent, preflight.RequestCtx.Response.StatusCode())
	assert.Equal(t, "https://console.example", string(preflight.RequestCtx.Response.Header.Peek("Access-Control-Allow-Origin")))

	other := request("GET", "/service/blocks", map[string]string{"Origin": "https://elsewhere.example"})
	require.NoError(t, handler(other))
	assert.True(t, called)
	assert.Empty(t, other.RequestCtx.Response.Header.Peek("Access-Control-Allow-Origin"))
}
