package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/blocks/example"
	"github.com/fluxorio/blockflow/pkg/config"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/core/fsm"
	"github.com/fluxorio/blockflow/pkg/discovery"
	"github.com/fluxorio/blockflow/pkg/router"
	"github.com/fluxorio/blockflow/pkg/service"
	"github.com/fluxorio/blockflow/pkg/web/middleware/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newService(t *testing.T) *service.Service {
	t.Helper()
	reg := discovery.NewRegistry()
	require.NoError(t, reg.Register(example.TypeName, example.New, example.Schema))

	cfg := config.Default()
	cfg.Name = "gw"
	cfg.Blocks = []config.BlockConfig{
		{Name: "source", Type: example.TypeName},
		{Name: "sink", Type: example.TypeName},
	}
	cfg.Links = []router.Link{{From: "source", To: "sink"}}

	s, err := service.New(cfg,
		service.WithRegistry(reg),
		service.WithLogger(core.NewNopLogger()),
		service.WithMetrics(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func startedService(t *testing.T) *service.Service {
	t.Helper()
	s := newService(t)
	require.NoError(t, s.Configure(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	return s
}

func serve(t *testing.T, g *Gateway) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = g.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.Stop(ctx)
	})
	return &fasthttp.Client{Dial: func(addr string) (net.Conn, error) { return ln.Dial() }}
}

func do(t *testing.T, c *fasthttp.Client, method, uri, body string, headers map[string]string) *fasthttp.Response {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://api" + uri)
	req.Header.SetMethod(method)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := &fasthttp.Response{}
	require.NoError(t, c.DoTimeout(req, resp, 2*time.Second))
	return resp
}

func newGateway(t *testing.T, s *service.Service, cfg Config) *fasthttp.Client {
	t.Helper()
	cfg.Logger = core.NewNopLogger()
	return serve(t, New(s, cfg))
}

func TestGateway_ServiceViews(t *testing.T) {
	c := newGateway(t, startedService(t), Config{})

	resp := do(t, c, "GET", "/service", "", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var view serviceView
	require.NoError(t, json.Unmarshal(resp.Body(), &view))
	assert.Equal(t, serviceView{Name: "gw", State: "started", Blocks: 2}, view)

	resp = do(t, c, "GET", "/service/blocks", "", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var blocks []service.BlockStatus
	require.NoError(t, json.Unmarshal(resp.Body(), &blocks))
	require.Len(t, blocks, 2)
	assert.Equal(t, "source", blocks[0].Name)
	assert.Equal(t, "sink", blocks[1].Name)

	resp = do(t, c, "GET", "/service/blocks/sink", "", nil)
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	resp = do(t, c, "GET", "/service/blocks/nope", "", nil)
	assert.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())

	resp = do(t, c, "GET", "/blocks/types", "", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var types []discovery.TypeDescription
	require.NoError(t, json.Unmarshal(resp.Body(), &types))
	require.Len(t, types, 1)
	assert.Equal(t, example.TypeName, types[0].Type)
}

func TestGateway_Inject(t *testing.T) {
	s := startedService(t)
	c := newGateway(t, s, Config{})

	resp := do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`, nil)
	require.Equal(t, fasthttp.StatusAccepted, resp.StatusCode(), string(resp.Body()))
	var out injectResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &out))
	assert.Equal(t, injectResponse{Block: "source", Accepted: 1}, out)

	resp = do(t, c, "POST", "/service/blocks/source/signals?input=main", `[{"n": 2}, {"n": 3}]`, nil)
	require.Equal(t, fasthttp.StatusAccepted, resp.StatusCode(), string(resp.Body()))
	require.NoError(t, json.Unmarshal(resp.Body(), &out))
	assert.Equal(t, injectResponse{Block: "source", Input: "main", Accepted: 2}, out)

	assert.Eventually(t, func() bool {
		for _, st := range s.Status() {
			if st.Name == "sink" {
				return st.Processed == 3
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_InjectRejects(t *testing.T) {
	c := newGateway(t, startedService(t), Config{})

	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"scalar body", "/service/blocks/source/signals", `5`, fasthttp.StatusBadRequest},
		{"empty body", "/service/blocks/source/signals", ``, fasthttp.StatusBadRequest},
		{"array of scalars", "/service/blocks/source/signals", `[1, 2]`, fasthttp.StatusBadRequest},
		{"null element", "/service/blocks/source/signals", `[{"n": 1}, null]`, fasthttp.StatusBadRequest},
		{"malformed", "/service/blocks/source/signals", `{"n": `, fasthttp.StatusBadRequest},
		{"unknown block", "/service/blocks/ghost/signals", `{"n": 1}`, fasthttp.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, c, "POST", tc.path, tc.body, nil)
			assert.Equal(t, tc.status, resp.StatusCode(), string(resp.Body()))
		})
	}
}

func TestGateway_InjectBeforeStart(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.Configure(context.Background()))
	c := newGateway(t, s, Config{})

	resp := do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`, nil)
	assert.Equal(t, fasthttp.StatusConflict, resp.StatusCode())
}

func TestGateway_InjectAuth(t *testing.T) {
	const secret = "s3cret"
	c := newGateway(t, startedService(t), Config{JWTSecret: secret, RateLimit: 100})

	token := func(roles ...string) string {
		tok, err := auth.NewToken(secret, map[string]interface{}{
			"sub":   "tester",
			"roles": roles,
			"exp":   time.Now().Add(time.Minute).Unix(),
		})
		require.NoError(t, err)
		return "Bearer " + tok
	}

	resp := do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`, nil)
	assert.Equal(t, fasthttp.StatusUnauthorized, resp.StatusCode())

	resp = do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`,
		map[string]string{"Authorization": token("viewer")})
	assert.Equal(t, fasthttp.StatusForbidden, resp.StatusCode())

	resp = do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`,
		map[string]string{"Authorization": token(OperatorRole)})
	assert.Equal(t, fasthttp.StatusAccepted, resp.StatusCode(), string(resp.Body()))

	// read routes stay open
	resp = do(t, c, "GET", "/service/blocks", "", nil)
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	s := startedService(t)
	g := New(s, Config{Logger: core.NewNopLogger()})
	c := serve(t, g)

	resp := do(t, c, "GET", "/health", "", nil)
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode(), string(resp.Body()))

	resp = do(t, c, "GET", "/metrics", "", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "blockflow_block_state")

	g.Health().Register("always-down", func(context.Context) error { return assert.AnError })
	resp = do(t, c, "GET", "/health", "", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, resp.StatusCode())
	g.Health().Unregister("always-down")

	require.NoError(t, s.Stop(context.Background()))
	resp = do(t, c, "GET", "/health", "", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, resp.StatusCode())
}

func TestGateway_MetricsDisabled(t *testing.T) {
	reg := discovery.NewRegistry()
	require.NoError(t, reg.Register(example.TypeName, example.New, example.Schema))
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	s, err := service.New(cfg, service.WithRegistry(reg), service.WithLogger(core.NewNopLogger()))
	require.NoError(t, err)

	c := newGateway(t, s, Config{})
	resp := do(t, c, "GET", "/metrics", "", nil)
	assert.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())
}

// stubHost serves fixed status and fails every injection with err.
type stubHost struct {
	err error
}

func (h *stubHost) Name() string     { return "stub" }
func (h *stubHost) State() fsm.State { return block.StateStarted }
func (h *stubHost) Status() []service.BlockStatus {
	return []service.BlockStatus{{Name: "slow", Type: example.TypeName, State: "started"}}
}
func (h *stubHost) Inject(ctx context.Context, name, inputID string, signals interface{}) error {
	return h.err
}
func (h *stubHost) Registry() *discovery.Registry  { return discovery.NewRegistry() }
func (h *stubHost) Gatherer() prometheus.Gatherer  { return nil }
func (h *stubHost) Ping(ctx context.Context) error { return nil }

func TestGateway_InjectBackpressure(t *testing.T) {
	full := fmt.Errorf("deliver to slow: %w", core.ErrBackpressure)
	c := serve(t, New(&stubHost{err: full}, Config{Logger: core.NewNopLogger()}))

	resp := do(t, c, "POST", "/service/blocks/slow/signals", `{"n": 1}`, nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, resp.StatusCode(), string(resp.Body()))
	assert.Equal(t, "1", string(resp.Header.Peek("Retry-After")))
	assert.Contains(t, string(resp.Body()), "backpressure")
}

func TestGateway_InjectAPIKey(t *testing.T) {
	const secret = "s3cret"
	c := newGateway(t, startedService(t), Config{
		JWTSecret: secret,
		APIKeys: map[string][]string{
			"ops-key":    {OperatorRole},
			"viewer-key": {"viewer"},
		},
	})

	resp := do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`, map[string]string{APIKeyHeader: "ops-key"})
	assert.Equal(t, fasthttp.StatusAccepted, resp.StatusCode(), string(resp.Body()))

	resp = do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`, map[string]string{APIKeyHeader: "viewer-key"})
	assert.Equal(t, fasthttp.StatusForbidden, resp.StatusCode())

	resp = do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`, map[string]string{APIKeyHeader: "stolen"})
	assert.Equal(t, fasthttp.StatusUnauthorized, resp.StatusCode())

	// without a key the bearer token is still honoured
	tok, err := auth.NewToken(secret, map[string]interface{}{
		"roles": []string{OperatorRole},
		"exp":   time.Now().Add(time.Minute).Unix(),
	})
	require.NoError(t, err)
	resp = do(t, c, "POST", "/service/blocks/source/signals", `{"n": 1}`, map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, fasthttp.StatusAccepted, resp.StatusCode(), string(resp.Body()))
}

func TestGateway_CORS(t *testing.T) {
	c := newGateway(t, startedService(t), Config{CORSOrigins: []string{"https://console.example"}})

	resp := do(t, c, "OPTIONS", "/service/blocks/source/signals", "", map[string]string{"Origin": "https://console.example"})
	assert.Equal(t, fasthttp.StatusNoContent, resp.StatusCode())
	assert.Equal(t, "https://console.example", string(resp.Header.Peek("Access-Control-Allow-Origin")))
	assert.Contains(t, string(resp.Header.Peek("Access-Control-Allow-Headers")), APIKeyHeader)

	resp = do(t, c, "GET", "/service", "", map[string]string{"Origin": "https://elsewhere.example"})
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Empty(t, resp.Header.Peek("Access-Control-Allow-Origin"))

	// CORS stays off unless origins are configured
	plain := newGateway(t, startedService(t), Config{})
	resp = do(t, plain, "OPTIONS", "/service", "", map[string]string{"Origin": "https://console.example"})
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, resp.StatusCode())
}
