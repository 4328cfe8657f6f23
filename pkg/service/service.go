// Package service hosts a set of blocks: it constructs them through
// discovery, configures them, links their outputs to inputs through the
// router, and drives their lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/config"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/core/fsm"
	"github.com/fluxorio/blockflow/pkg/discovery"
	prom "github.com/fluxorio/blockflow/pkg/observability/prometheus"
	"github.com/fluxorio/blockflow/pkg/persistence"
	"github.com/fluxorio/blockflow/pkg/property"
	"github.com/fluxorio/blockflow/pkg/router"
	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleAddress is where a service publishes a BlockEvent for every
// block state change.
const LifecycleAddress = "service.lifecycle"

// versionKey is the persistence key under which the host records the
// version each block was last configured with.
const versionKey = "blockflow.version"

const pingTimeout = 2 * time.Second

// PingAddress is where a configured service answers liveness requests.
func PingAddress(service string) string {
	return "service." + service + ".ping"
}

// BlockEvent reports one block state change.
type BlockEvent struct {
	Service string `json:"service"`
	Block   string `json:"block"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type pingReply struct {
	Status      string `json:"status,omitempty"`
	FailureCode int    `json:"failureCode,omitempty"`
	Message     string `json:"message,omitempty"`
}

var allStates = []string{
	string(block.StateCreated),
	string(block.StateConfigured),
	string(block.StateStarted),
	string(block.StateStopped),
}

// BlockStatus is the host's view of one block.
type BlockStatus struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	State     string `json:"state"`
	Processed int64  `json:"processed"`
	Notified  int64  `json:"notified"`
	Errors    int64  `json:"errors"`
}

type instance struct {
	name      string
	cfg       config.BlockConfig
	reg       discovery.Registration
	block     block.Block
	lifecycle *fsm.FSM
}

// Service runs the blocks of one ServiceConfig.
type Service struct {
	cfg        config.ServiceConfig
	registry   *discovery.Registry
	logger     core.Logger
	busFactory core.EventBusFactory
	bus        core.EventBus
	store      persistence.Store
	promReg    *prometheus.Registry
	metrics    *prom.Metrics
	router     *router.Router
	lifecycle  *fsm.FSM

	mu     sync.RWMutex
	blocks []*instance
	byName map[string]*instance
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry sets the registry blocks are constructed from.
// The default is discovery.Default.
func WithRegistry(r *discovery.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithLogger sets the host logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPersistence supplies the store instead of opening the configured one.
func WithPersistence(store persistence.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithEventBus supplies the bus instead of building the configured one.
func WithEventBus(bus core.EventBus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithEventBusFactory overrides how the bus is built.
func WithEventBusFactory(factory core.EventBusFactory) Option {
	return func(s *Service) {
		s.busFactory = factory
	}
}

// WithMetrics registers the service collectors with reg.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Service) {
		s.promReg = reg
	}
}

// New validates cfg and returns an unconfigured service.
func New(cfg config.ServiceConfig, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		registry:  discovery.Default,
		lifecycle: block.NewLifecycle(),
		byName:    make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = core.NewLogger(core.LoggerConfig{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
	}
	s.logger = s.logger.WithFields(map[string]interface{}{core.KeyService: cfg.Name})
	if s.busFactory == nil {
		s.busFactory = busFactory(cfg)
	}

	if cfg.Metrics.Enabled {
		if s.promReg == nil {
			s.promReg = prometheus.NewRegistry()
		}
		m, err := prom.NewMetrics(s.promReg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if cfg.Metrics.Runtime {
			if err := prom.RegisterRuntimeCollectors(s.promReg); err != nil {
				return nil, fmt.Errorf("register runtime metrics: %w", err)
			}
		}
		s.metrics = m
	}
	return s, nil
}

func busFactory(cfg config.ServiceConfig) core.EventBusFactory {
	if cfg.Bus.Driver == "nats" {
		return core.ClusterEventBusFactory(core.ClusterConfig{
			URL:     cfg.Bus.URL,
			Prefix:  cfg.Bus.Prefix,
			Service: cfg.Name,
		})
	}
	return core.InMemoryEventBusFactory(cfg.Router.MailboxSize)
}

// Construct instantiates every configured block through the registry.
// Properties are not available to the blocks yet.
func (s *Service) Construct() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocks != nil {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: "blocks already constructed"}
	}

	blocks := make([]*instance, 0, len(s.cfg.Blocks))
	for _, bc := range s.cfg.Blocks {
		reg, err := s.registry.Lookup(bc.Type)
		if err != nil {
			return fmt.Errorf("block %q: %w", bc.Name, err)
		}
		b := reg.Factory()
		if b == nil {
			return fmt.Errorf("block %q: factory for %q returned nil", bc.Name, bc.Type)
		}
		inst := &instance{name: bc.Name, cfg: bc, reg: reg, block: b, lifecycle: block.NewLifecycle()}
		name := bc.Name
		inst.lifecycle.OnTransition(func(from, to fsm.State, _ fsm.Event) {
			s.metrics.SetState(name, string(to), allStates...)
			s.logger.WithFields(map[string]interface{}{core.KeyBlock: name, core.KeyState: string(to)}).Debug("block state changed")
			s.publish(BlockEvent{Service: s.cfg.Name, Block: name, From: string(from), To: string(to)})
		})
		blocks = append(blocks, inst)
		s.byName[bc.Name] = inst
		s.metrics.SetState(bc.Name, string(block.StateCreated), allStates...)
	}
	s.blocks = blocks
	s.logger.WithFields(map[string]interface{}{core.KeyCount: len(blocks)}).Debug("blocks constructed")
	return nil
}

// Configure builds the bus, store and router, configures every block and
// installs the configured links. The bus outlives ctx: it is closed by Stop,
// so blocks can still emit from their Stop hooks after ctx is cancelled.
func (s *Service) Configure(ctx context.Context) error {
	if !s.lifecycle.CanTrigger(block.EventConfigure) {
		return s.invalidTransition(block.EventConfigure)
	}

	s.mu.RLock()
	constructed := s.blocks != nil
	s.mu.RUnlock()
	if !constructed {
		if err := s.Construct(); err != nil {
			return err
		}
	}

	if s.bus == nil {
		bus, err := s.busFactory(ctx, s.logger)
		if err != nil {
			return fmt.Errorf("build event bus: %w", err)
		}
		s.bus = bus
	}
	s.bus.Consumer(PingAddress(s.cfg.Name)).Handler(s.answerPing)
	if s.store == nil {
		store, err := persistence.Open(ctx, s.cfg.Persistence)
		if err != nil {
			return fmt.Errorf("open persistence: %w", err)
		}
		s.store = store
	}

	s.router = router.New(s.bus, s.cfg.RouterSettings(), router.WithLogger(s.logger), router.WithMetrics(s.metrics))

	for _, inst := range s.instances() {
		if err := s.router.Register(inst.name, inst.block); err != nil {
			return err
		}
		bctx := &block.Context{
			Name:        inst.name,
			Type:        inst.reg.Type,
			Properties:  inst.cfg.Properties,
			Schema:      inst.reg.Schema,
			Notifier:    s.router,
			Logger:      s.logger.WithFields(map[string]interface{}{core.KeyBlock: inst.name, core.KeyBlockType: inst.reg.Type}),
			Persistence: persistence.Scope(s.store, inst.name),
		}
		if err := callHook(func() error { return block.Configure(inst.block, bctx) }); err != nil {
			return fmt.Errorf("configure block %q: %w", inst.name, err)
		}
		if err := s.recordVersion(ctx, inst); err != nil {
			return fmt.Errorf("configure block %q: %w", inst.name, err)
		}
		s.transition(inst, block.EventConfigure)
	}

	for _, l := range s.cfg.Links {
		if err := s.router.AddLink(l); err != nil {
			return err
		}
	}

	if err := s.lifecycle.Trigger(block.EventConfigure); err != nil {
		return err
	}
	s.logger.Info("service configured")
	return nil
}

// Start starts the router, then every block in declaration order. A block
// receives signals once its Start returns. If a block fails to start, the
// whole service is stopped: the blocks already started get their Stop hook
// in reverse order and the service ends up stopped.
func (s *Service) Start(ctx context.Context) error {
	if !s.lifecycle.CanTrigger(block.EventStart) {
		return s.invalidTransition(block.EventStart)
	}
	if err := s.router.Start(); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	for _, inst := range s.instances() {
		if err := callHook(func() error { return inst.block.Start(ctx) }); err != nil {
			s.logger.WithFields(map[string]interface{}{core.KeyBlock: inst.name, core.KeyError: err.Error()}).Error("block failed to start, rolling back")
			return errors.Join(fmt.Errorf("start block %q: %w", inst.name, err), s.Stop(ctx))
		}
		s.transition(inst, block.EventStart)
		s.router.Open(inst.name)
	}

	if err := s.lifecycle.Trigger(block.EventStart); err != nil {
		return err
	}
	s.logger.Info("service started")
	return nil
}

// Stop stops the blocks in reverse declaration order, then the router, the
// store and the bus. Stopping a stopped service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	if s.lifecycle.CurrentState() == block.StateStopped {
		return nil
	}

	var errs []error
	errs = append(errs, s.stopBlocks(ctx, s.instances()))
	if s.router != nil {
		errs = append(errs, s.router.Stop(ctx))
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.bus != nil {
		errs = append(errs, s.bus.Close())
	}
	errs = append(errs, s.lifecycle.Trigger(block.EventStop))

	err := errors.Join(errs...)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{core.KeyError: err.Error()}).Error("service stopped with errors")
	} else {
		s.logger.Info("service stopped")
	}
	return err
}

// stopBlocks stops instances in reverse order. Each block handles what was
// already sent to it, then stops receiving signals before its Stop hook
// runs; the router and bus stay up so it can still emit.
func (s *Service) stopBlocks(ctx context.Context, instances []*instance) error {
	var errs []error
	for i := len(instances) - 1; i >= 0; i-- {
		inst := instances[i]
		started := inst.lifecycle.CurrentState() == block.StateStarted
		if s.router != nil {
			if started {
				if err := s.router.Drain(ctx, inst.name); err != nil {
					s.logger.WithFields(map[string]interface{}{core.KeyBlock: inst.name, core.KeyError: err.Error()}).Error("block stopped with deliveries pending")
				}
			}
			s.router.Close(inst.name)
		}
		if started {
			if err := callHook(func() error { return inst.block.Stop(ctx) }); err != nil {
				errs = append(errs, fmt.Errorf("stop block %q: %w", inst.name, err))
			}
		}
		if inst.lifecycle.CanTrigger(block.EventStop) {
			s.transition(inst, block.EventStop)
		}
	}
	return errors.Join(errs...)
}

// Inject feeds signals to the named block's input as if an upstream block
// had emitted them. A full input queue fails with core.ErrBackpressure.
func (s *Service) Inject(ctx context.Context, name, inputID string, signals interface{}) error {
	batch, err := core.ToSignals(signals)
	if err != nil {
		return err
	}
	if s.lifecycle.CurrentState() != block.StateStarted {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: "service is not started"}
	}
	if _, ok := s.lookup(name); !ok {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: fmt.Sprintf("unknown block %q", name)}
	}
	return s.router.Inject(ctx, name, inputID, batch)
}

// Status reports every block in declaration order.
func (s *Service) Status() []BlockStatus {
	instances := s.instances()
	out := make([]BlockStatus, 0, len(instances))
	for _, inst := range instances {
		st := BlockStatus{
			Name:  inst.name,
			Type:  inst.cfg.Type,
			State: string(inst.lifecycle.CurrentState()),
		}
		if s.router != nil {
			if stats, ok := s.router.Stats(inst.name); ok {
				st.Processed, st.Notified, st.Errors = stats.Processed, stats.Notified, stats.Errors
			}
		}
		out = append(out, st)
	}
	return out
}

// Block returns the named block instance.
func (s *Service) Block(name string) (block.Block, bool) {
	inst, ok := s.lookup(name)
	if !ok {
		return nil, false
	}
	return inst.block, true
}

// State returns the service lifecycle state.
func (s *Service) State() fsm.State {
	return s.lifecycle.CurrentState()
}

// Name returns the configured service name.
func (s *Service) Name() string {
	return s.cfg.Name
}

// Registry returns the registry blocks are built from.
func (s *Service) Registry() *discovery.Registry {
	return s.registry
}

// Gatherer returns the metrics registry, or nil when metrics are disabled.
func (s *Service) Gatherer() prometheus.Gatherer {
	if s.promReg == nil {
		return nil
	}
	return s.promReg
}

// Bus returns the event bus, available once configured.
func (s *Service) Bus() core.EventBus {
	return s.bus
}

// Ping reports whether the service can process signals. It round-trips a
// request over the event bus, then pings the store.
func (s *Service) Ping(ctx context.Context) error {
	if s.lifecycle.CurrentState() != block.StateStarted || s.router == nil || !s.router.Running() {
		return fmt.Errorf("service is %s", s.lifecycle.CurrentState())
	}

	timeout := pingTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	msg, err := s.bus.Request(PingAddress(s.cfg.Name), "ping", timeout)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	var reply pingReply
	if err := msg.DecodeBody(&reply); err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	if reply.FailureCode != 0 {
		return fmt.Errorf("service: %s", reply.Message)
	}
	return s.store.Ping(ctx)
}

func (s *Service) answerPing(_ context.Context, msg core.Message) error {
	if state := s.lifecycle.CurrentState(); state != block.StateStarted {
		return msg.Fail(503, fmt.Sprintf("service is %s", state))
	}
	return msg.Reply(pingReply{Status: "ok"})
}

// recordVersion compares the version a block is configured with against
// the one saved the last time it ran, logs any change and saves the new one.
func (s *Service) recordVersion(ctx context.Context, inst *instance) error {
	current := inst.block.BaseBlock().Properties().Version()
	if current == "" {
		return nil
	}
	scoped := persistence.Scope(s.store, inst.name)

	var previous string
	found, err := scoped.Load(ctx, versionKey, &previous)
	if err != nil {
		return fmt.Errorf("load block version: %w", err)
	}
	if found && previous == current {
		return nil
	}
	if found {
		logger := s.logger.WithFields(map[string]interface{}{core.KeyBlock: inst.name, "from": previous, "to": current})
		cmp, err := property.CompareVersions(previous, current)
		switch {
		case err != nil:
			logger.WithFields(map[string]interface{}{core.KeyError: err.Error()}).Error("saved block version is unreadable")
		case cmp < 0:
			logger.Info("block upgraded")
		default:
			logger.Info("block downgraded")
		}
	}
	return scoped.Save(ctx, versionKey, current)
}

// publish announces a block state change. Nobody has to listen.
func (s *Service) publish(ev BlockEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(LifecycleAddress, ev); err != nil {
		s.logger.WithFields(map[string]interface{}{core.KeyBlock: ev.Block, core.KeyError: err.Error()}).Debug("lifecycle event not published")
	}
}

// Store returns the persistence store, available once configured.
func (s *Service) Store() persistence.Store {
	return s.store
}

func (s *Service) instances() []*instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*instance(nil), s.blocks...)
}

func (s *Service) lookup(name string) (*instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.byName[name]
	return inst, ok
}

func (s *Service) transition(inst *instance, event fsm.Event) {
	if err := inst.lifecycle.Trigger(event); err != nil {
		s.logger.WithFields(map[string]interface{}{core.KeyBlock: inst.name, core.KeyError: err.Error()}).Error("block lifecycle")
	}
}

func (s *Service) invalidTransition(event fsm.Event) error {
	return &core.EventBusError{
		Code:    core.ErrInvalidState.Code,
		Message: fmt.Sprintf("cannot %s service in state %s", event, s.lifecycle.CurrentState()),
	}
}

// callHook runs a block hook, turning a panic into an error.
func callHook(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn()
}
