package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/fluxorio/blockflow/pkg/web/middleware/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const secret = "test-secret-key"

func request(path string, headers map[string]string) *web.FastRequestContext {
	rc := &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI(path)
	rc.Request.Header.SetMethod(fasthttp.MethodPost)
	for k, v := range headers {
		rc.Request.Header.Set(k, v)
	}
	return web.NewFastRequestContext(context.Background(), rc, nil)
}

func ok(ctx *web.FastRequestContext) error {
	return ctx.Text(fasthttp.StatusOK, "ok")
}

func status(err error) int {
	var httpErr *web.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

func token(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	tok, err := auth.NewToken(secret, claims)
	require.NoError(t, err)
	return tok
}

func TestJWT(t *testing.T) {
	handler := auth.JWT(auth.DefaultJWTConfig(secret))(ok)
	valid := token(t, map[string]interface{}{
		"sub":   "operator",
		"roles": []string{"operator"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	t.Run("valid token", func(t *testing.T) {
		ctx := request("/x", map[string]string{"Authorization": "Bearer " + valid})
		require.NoError(t, handler(ctx))
		claims, found := auth.Claims(ctx)
		require.True(t, found)
		assert.Equal(t, "operator", claims["sub"])
	})

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, fasthttp.StatusUnauthorized, status(handler(request("/x", nil))))
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := auth.NewToken("other", map[string]interface{}{"exp": time.Now().Add(time.Hour).Unix()})
		require.NoError(t, err)
		ctx := request("/x", map[string]string{"Authorization": "Bearer " + other})
		assert.Equal(t, fasthttp.StatusUnauthorized, status(handler(ctx)))
	})

	t.Run("expired", func(t *testing.T) {
		expired := token(t, map[string]interface{}{"exp": time.Now().Add(-time.Hour).Unix()})
		ctx := request("/x", map[string]string{"Authorization": "Bearer " + expired})
		assert.Equal(t, fasthttp.StatusUnauthorized, status(handler(ctx)))
	})

	t.Run("no expiry", func(t *testing.T) {
		forever := token(t, map[string]interface{}{"sub": "x"})
		ctx := request("/x", map[string]string{"Authorization": "Bearer " + forever})
		assert.Equal(t, fasthttp.StatusUnauthorized, status(handler(ctx)))
	})

	t.Run("skip path", func(t *testing.T) {
		cfg := auth.DefaultJWTConfig(secret)
		cfg.SkipPaths = []string{"/health"}
		assert.NoError(t, auth.JWT(cfg)(ok)(request("/health", nil)))
	})
}

func TestRoles(t *testing.T) {
	valid := token(t, map[string]interface{}{
		"roles": []string{"user", "operator"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	authed := func(mw web.FastMiddleware) error {
		ctx := request("/x", map[string]string{"Authorization": "Bearer " + valid})
		return auth.JWT(auth.DefaultJWTConfig(secret))(mw(ok))(ctx)
	}

	assert.NoError(t, authed(auth.RequireRole("operator")))
	assert.NoError(t, authed(auth.RequireAnyRole("admin", "user")))
	assert.Equal(t, fasthttp.StatusForbidden, status(authed(auth.RequireRole("admin"))))
	assert.Equal(t, fasthttp.StatusForbidden, status(authed(auth.RequireAnyRole("admin", "auditor"))))

	// without authentication in front, role checks reject
	assert.Equal(t, fasthttp.StatusUnauthorized, status(auth.RequireRole("user")(ok)(request("/x", nil))))
}

func TestAPIKey(t *testing.T) {
	validator := auth.SimpleAPIKeyValidator(map[string]map[string]interface{}{
		"test-key": {"sub": "ci", "roles": "operator"},
	})
	_, err := validator("invalid-key")
	assert.Error(t, err)

	handler := auth.APIKey("", validator)(auth.RequireRole("operator")(ok))
	assert.NoError(t, handler(request("/x", map[string]string{"X-API-Key": "test-key"})))
	assert.Equal(t, fasthttp.StatusUnauthorized, status(handler(request("/x", map[string]string{"X-API-Key": "nope"}))))
	assert.Equal(t, fasthttp.StatusUnauthorized, status(handler(request("/x", nil))))
}
