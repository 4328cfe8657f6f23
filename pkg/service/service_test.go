package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/blocks/example"
	"github.com/fluxorio/blockflow/pkg/config"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/discovery"
	"github.com/fluxorio/blockflow/pkg/property"
	"github.com/fluxorio/blockflow/pkg/router"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var collectorSchema = property.MustSchema(
	property.Bool("failStart", "Fail Start", false),
	property.String("stateKey", "State Key", ""),
	property.Version("1.0.0"),
)

// tracker records every collector a registry builds.
type tracker struct {
	mu      sync.Mutex
	blocks  []*collector
	stopped []string
}

func (p *tracker) byName(name string) *collector {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.blocks {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (p *tracker) stopOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stopped...)
}

type collector struct {
	block.Base
	tracker *tracker

	mu       sync.Mutex
	received []*core.Signal
	started  int
}

func (c *collector) Start(ctx context.Context) error {
	if c.Properties().Bool("failStart") {
		return errors.New("refusing to start")
	}
	if key := c.Properties().String("stateKey"); key != "" {
		if err := c.Persistence().Save(ctx, key, map[string]int{"starts": 1}); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
	return nil
}

func (c *collector) ProcessSignals(signals []*core.Signal, inputID string) error {
	c.mu.Lock()
	c.received = append(c.received, signals...)
	c.mu.Unlock()
	return nil
}

func (c *collector) Stop(ctx context.Context) error {
	c.tracker.mu.Lock()
	c.tracker.stopped = append(c.tracker.stopped, c.Name())
	c.tracker.mu.Unlock()
	return nil
}

// flusher emits one last signal from its Stop hook.
type flusher struct {
	block.Base
}

func (f *flusher) Stop(ctx context.Context) error {
	return f.NotifySignals(core.NewSignal(map[string]interface{}{"flushed": true}), "")
}

func (c *collector) signals() []*core.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*core.Signal(nil), c.received...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func newRegistry(t *testing.T) (*discovery.Registry, *tracker) {
	t.Helper()
	p := &tracker{}
	reg := discovery.NewRegistry()
	require.NoError(t, reg.Register(example.TypeName, example.New, example.Schema))
	require.NoError(t, reg.Register("Collector", func() block.Block {
		c := &collector{tracker: p}
		p.mu.Lock()
		p.blocks = append(p.blocks, c)
		p.mu.Unlock()
		return c
	}, collectorSchema))
	require.NoError(t, reg.Register("Flusher", func() block.Block { return &flusher{} }, example.Schema))
	return reg, p
}

func pipelineConfig() config.ServiceConfig {
	cfg := config.Default()
	cfg.Name = "test"
	cfg.Blocks = []config.BlockConfig{
		{Name: "source", Type: example.TypeName, Properties: map[string]interface{}{"sProp": "x"}},
		{Name: "sink", Type: "Collector"},
	}
	cfg.Links = []router.Link{{From: "source", To: "sink"}}
	return cfg
}

func newService(t *testing.T, cfg config.ServiceConfig) (*Service, *tracker) {
	t.Helper()
	reg, p := newRegistry(t)
	s, err := New(cfg,
		WithRegistry(reg),
		WithLogger(core.NewNopLogger()),
		WithMetrics(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	return s, p
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, p := newService(t, pipelineConfig())

	require.NoError(t, s.Configure(ctx))
	assert.Equal(t, block.StateConfigured, s.State())
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, block.StateStarted, s.State())

	source, ok := s.Block("source")
	require.True(t, ok)
	assert.Equal(t, "x", source.BaseBlock().Properties().String("sProp"))
	assert.Equal(t, 1, source.BaseBlock().Properties().Int("iProp"))

	require.NoError(t, s.Inject(ctx, "source", "", []*core.Signal{
		core.NewSignal(map[string]interface{}{"n": 1}),
		core.NewSignal(map[string]interface{}{"n": 2}),
	}))

	sink := p.byName("sink")
	require.NotNil(t, sink)
	assert.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, BlockStatus{Name: "source", Type: example.TypeName, State: "started", Processed: 2, Notified: 2}, status[0])
	assert.Equal(t, "sink", status[1].Name)
	assert.EqualValues(t, 2, status[1].Processed)

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, block.StateStopped, s.State())
	for _, st := range s.Status() {
		assert.Equal(t, "stopped", st.State)
	}
	assert.Error(t, s.Ping(ctx))

	// stopping twice is harmless
	assert.NoError(t, s.Stop(ctx))
}

func TestService_UnknownBlockType(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Blocks[1].Type = "Missing"
	s, _ := newService(t, cfg)

	err := s.Construct()
	assert.ErrorIs(t, err, core.ErrUnknownBlockType)
}

func TestService_InvalidProperty(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Blocks[0].Properties = map[string]interface{}{"iProp": "many"}
	s, _ := newService(t, cfg)

	err := s.Configure(context.Background())
	assert.ErrorIs(t, err, core.ErrInvalidProperty)
	assert.Equal(t, block.StateCreated, s.State())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestService_StartRollback(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Blocks = []config.BlockConfig{
		{Name: "first", Type: "Collector"},
		{Name: "second", Type: "Collector"},
		{Name: "broken", Type: "Collector", Properties: map[string]interface{}{"failStart": true}},
	}
	s, p := newService(t, cfg)
	require.NoError(t, s.Configure(ctx))

	err := s.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `start block "broken"`)
	assert.Equal(t, []string{"second", "first"}, p.stopOrder())
	assert.Equal(t, block.StateStopped, s.State())

	for _, st := range s.Status() {
		assert.Equal(t, "stopped", st.State, st.Name)
	}

	// a failed start leaves nothing to retry on
	assert.ErrorIs(t, s.Start(ctx), core.ErrInvalidState)
	assert.NoError(t, s.Stop(ctx))
	assert.Equal(t, []string{"second", "first"}, p.stopOrder())
}

func TestService_StopOrder(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Blocks = []config.BlockConfig{
		{Name: "a", Type: "Collector"},
		{Name: "b", Type: "Collector"},
		{Name: "c", Type: "Collector"},
	}
	s, p := newService(t, cfg)
	require.NoError(t, s.Configure(ctx))
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, []string{"c", "b", "a"}, p.stopOrder())
}

func TestService_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, pipelineConfig())

	assert.ErrorIs(t, s.Start(ctx), core.ErrInvalidState)
	assert.ErrorIs(t, s.Inject(ctx, "source", "", core.NewSignal(nil)), core.ErrInvalidState)

	require.NoError(t, s.Configure(ctx))
	assert.ErrorIs(t, s.Configure(ctx), core.ErrInvalidState)
	require.NoError(t, s.Stop(ctx))
}

func TestService_InjectValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, pipelineConfig())
	require.NoError(t, s.Configure(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	assert.ErrorIs(t, s.Inject(ctx, "source", "", map[string]interface{}{"a": 1}), core.ErrInvalidSignals)
	assert.ErrorIs(t, s.Inject(ctx, "nowhere", "", core.NewSignal(nil)), core.ErrInvalidState)
}

func TestService_BlockPersistence(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Persistence.Driver = "sqlite"
	cfg.Blocks = []config.BlockConfig{
		{Name: "stateful", Type: "Collector", Properties: map[string]interface{}{"stateKey": "boot"}},
	}
	s, _ := newService(t, cfg)
	require.NoError(t, s.Configure(ctx))
	require.NoError(t, s.Start(ctx))

	var saved map[string]int
	found, err := s.Store().Load(ctx, "stateful", "boot", &saved)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, saved["starts"])
	require.NoError(t, s.Stop(ctx))
}

func TestService_StateMetrics(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, pipelineConfig())
	require.NoError(t, s.Configure(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	families, err := s.Gatherer().Gather()
	require.NoError(t, err)

	started := 0
	for _, mf := range families {
		if mf.GetName() != "blockflow_block_state" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "state" && l.GetValue() == "started" && m.GetGauge().GetValue() == 1 {
					started++
				}
			}
		}
	}
	assert.Equal(t, 2, started)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Name = ""
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestService_StopHookEmitsAfterCancel(t *testing.T) {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	cfg.Blocks = []config.BlockConfig{
		{Name: "sink", Type: "Collector"},
		{Name: "flusher", Type: "Flusher"},
	}
	cfg.Links = []router.Link{{From: "flusher", To: "sink"}}
	s, p := newService(t, cfg)

	require.NoError(t, s.Configure(runCtx))
	require.NoError(t, s.Start(runCtx))
	cancel()

	require.NoError(t, s.Stop(context.Background()))
	sink := p.byName("sink")
	require.NotNil(t, sink)
	got := sink.signals()
	require.Len(t, got, 1)
	v, _ := got[0].Get("flushed")
	assert.Equal(t, true, v)
}

func TestService_NATSBus(t *testing.T) {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(ns.Shutdown)

	ctx := context.Background()
	cfg := pipelineConfig()
	cfg.Bus = config.BusConfig{Driver: "nats", URL: ns.ClientURL(), Prefix: "svctest"}
	s, p := newService(t, cfg)
	require.NoError(t, s.Configure(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Inject(ctx, "source", "", core.NewSignal(map[string]interface{}{"seq": i})))
	}

	sink := p.byName("sink")
	require.NotNil(t, sink)
	require.Eventually(t, func() bool { return sink.count() == 5 }, 5*time.Second, 10*time.Millisecond)
	for i, sig := range sink.signals() {
		v, _ := sig.Get("seq")
		assert.Equal(t, float64(i), v, "signals arrive in order and decoded from JSON")
	}
	require.NoError(t, s.Ping(ctx))
}

func TestService_RecordsBlockVersion(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Persistence.Driver = "sqlite"
	cfg.Persistence.DSN = filepath.Join(t.TempDir(), "state.db")
	cfg.Blocks = []config.BlockConfig{{Name: "versioned", Type: "Collector"}}

	first, _ := newService(t, cfg)
	require.NoError(t, first.Configure(ctx))
	var saved string
	found, err := first.Store().Load(ctx, "versioned", versionKey, &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1.0.0", saved)
	require.NoError(t, first.Stop(ctx))

	cfg.Blocks[0].Properties = map[string]interface{}{"version": "1.2.0"}
	obs, logs := observer.New(zap.InfoLevel)
	reg, _ := newRegistry(t)
	second, err := New(cfg, WithRegistry(reg), WithLogger(core.NewLoggerFromZap(zap.New(obs))))
	require.NoError(t, err)
	require.NoError(t, second.Configure(ctx))
	defer second.Stop(ctx)

	found, err = second.Store().Load(ctx, "versioned", versionKey, &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1.2.0", saved)

	upgraded := logs.FilterMessage("block upgraded").All()
	require.Len(t, upgraded, 1)
	assert.Equal(t, "1.0.0", upgraded[0].ContextMap()["from"])
	assert.Equal(t, "1.2.0", upgraded[0].ContextMap()["to"])
}

func TestService_PublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	bus := core.NewEventBus(ctx)

	var (
		mu     sync.Mutex
		events []BlockEvent
	)
	bus.Consumer(LifecycleAddress).Handler(func(_ context.Context, msg core.Message) error {
		var ev BlockEvent
		if err := msg.DecodeBody(&ev); err != nil {
			return err
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})

	reg, _ := newRegistry(t)
	s, err := New(pipelineConfig(), WithRegistry(reg), WithLogger(core.NewNopLogger()), WithEventBus(bus))
	require.NoError(t, err)
	require.NoError(t, s.Configure(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	want := []BlockEvent{
		{Service: "test", Block: "source", From: "created", To: "configured"},
		{Service: "test", Block: "sink", From: "created", To: "configured"},
		{Service: "test", Block: "source", From: "configured", To: "started"},
		{Service: "test", Block: "sink", From: "configured", To: "started"},
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == len(want)
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, want, events)
	mu.Unlock()
}

func TestService_Ping(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, pipelineConfig())
	assert.Error(t, s.Ping(ctx), "not configured")

	require.NoError(t, s.Configure(ctx))
	assert.Error(t, s.Ping(ctx), "not started")

	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)
	require.NoError(t, s.Ping(ctx))

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()
	assert.ErrorIs(t, s.Ping(expired), context.DeadlineExceeded)
}
