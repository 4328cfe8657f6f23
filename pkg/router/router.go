// Package router delivers the signals a block emits to every block input
// linked to that output. Deliveries travel over the core EventBus, one
// consumer per block, and run on a bounded worker pool.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/core"
	blockotel "github.com/fluxorio/blockflow/pkg/observability/otel"
	prom "github.com/fluxorio/blockflow/pkg/observability/prometheus"
	"github.com/fluxorio/blockflow/pkg/worker"
)

// ExternalSource is the From of signals injected by the host rather than
// emitted by a block.
const ExternalSource = "external"

// Config tunes the delivery pool.
type Config struct {
	// Workers bounds how many blocks process signals at once.
	Workers int `json:"workers" yaml:"workers"`
	// QueueSize bounds deliveries waiting for a free worker.
	QueueSize int `json:"queue_size" yaml:"queue_size"`
	// DrainTimeout bounds how long Drain waits for a block's queued
	// deliveries.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{Workers: 16, QueueSize: 1024, DrainTimeout: 5 * time.Second}
}

// Stats are the per-block counters the router keeps.
type Stats struct {
	Processed int64 `json:"processed"`
	Notified  int64 `json:"notified"`
	Errors    int64 `json:"errors"`
}

type entry struct {
	name      string
	block     block.Block
	consumer  core.Consumer
	accepting atomic.Bool
	pending   atomic.Int64 // sent but not yet handled
	processed atomic.Int64
	notified  atomic.Int64
	errors    atomic.Int64
}

// Router owns the link graph of a service.
type Router struct {
	bus     core.EventBus
	cfg     Config
	pool    *worker.WorkerPool
	logger  core.Logger
	metrics *prom.Metrics

	mu      sync.RWMutex
	blocks  map[string]*entry
	links   map[string]map[string][]Link // from -> output -> links
	running atomic.Bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger core.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics makes the router record delivery metrics.
func WithMetrics(m *prom.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a router delivering over bus.
func New(bus core.EventBus, cfg Config, opts ...Option) *Router {
	if bus == nil {
		core.FailFast(&core.EventBusError{Code: "INVALID_BUS", Message: "router needs an event bus"})
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}

	r := &Router{
		bus:    bus,
		cfg:    cfg,
		logger: core.NewNopLogger(),
		blocks: make(map[string]*entry),
		links:  make(map[string]map[string][]Link),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pool = worker.NewWorkerPool(cfg.Workers, cfg.QueueSize, worker.WithPanicHandler(func(p interface{}) {
		r.logger.Error(fmt.Sprintf("delivery worker panic (isolated): %v", p))
	}))
	return r
}

// Register attaches b under name and subscribes it to its input address.
func (r *Router) Register(name string, b block.Block) error {
	if err := core.ValidateBlockName(name); err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("block %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.blocks[name]; exists {
		return fmt.Errorf("block %q already registered", name)
	}

	e := &entry{name: name, block: b}
	address := InputAddress(name)
	e.consumer = r.bus.Consumer(address).Handler(blockotel.WrapConsumerHandler(address, r.handler(e)))
	r.blocks[name] = e
	return nil
}

// AddLink connects l.From's output to l.To's input. Both blocks must be
// registered.
func (r *Router) AddLink(l Link) error {
	l = l.normalized()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blocks[l.From]; !ok {
		return fmt.Errorf("link %s: unknown source block %q", l, l.From)
	}
	if _, ok := r.blocks[l.To]; !ok {
		return fmt.Errorf("link %s: unknown target block %q", l, l.To)
	}

	outputs := r.links[l.From]
	if outputs == nil {
		outputs = make(map[string][]Link)
		r.links[l.From] = outputs
	}
	for _, existing := range outputs[l.Output] {
		if existing == l {
			return fmt.Errorf("link %s already exists", l)
		}
	}
	outputs[l.Output] = append(outputs[l.Output], l)
	return nil
}

// Links returns every installed link.
func (r *Router) Links() []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Link
	for _, outputs := range r.links {
		for _, links := range outputs {
			out = append(out, links...)
		}
	}
	return out
}

// Open lets deliveries reach the named block. Blocks start closed.
func (r *Router) Open(name string) {
	if e := r.entry(name); e != nil {
		e.accepting.Store(true)
	}
}

// Close stops deliveries to the named block; pending ones are dropped.
// Call Drain first to let them through.
func (r *Router) Close(name string) {
	if e := r.entry(name); e != nil {
		e.accepting.Store(false)
	}
}

// Drain waits until every delivery already sent to the named block has been
// handled, ctx is done or the drain timeout passes. Blocks stopping earlier
// may still emit to name, so the host drains a block before closing it.
func (r *Router) Drain(ctx context.Context, name string) error {
	e := r.entry(name)
	if e == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for e.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain %s: %d deliveries pending: %w", name, e.pending.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns the counters kept for the named block.
func (r *Router) Stats(name string) (Stats, bool) {
	e := r.entry(name)
	if e == nil {
		return Stats{}, false
	}
	return Stats{
		Processed: e.processed.Load(),
		Notified:  e.notified.Load(),
		Errors:    e.errors.Load(),
	}, true
}

func (r *Router) entry(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blocks[name]
}

// Start starts the delivery pool.
func (r *Router) Start() error {
	if err := r.pool.Start(); err != nil {
		return err
	}
	r.running.Store(true)
	return nil
}

// Running reports whether the router delivers signals.
func (r *Router) Running() bool {
	return r.running.Load()
}

// Stop unsubscribes every block and waits for in-flight deliveries, or
// until ctx is done.
func (r *Router) Stop(ctx context.Context) error {
	r.running.Store(false)

	r.mu.RLock()
	consumers := make([]core.Consumer, 0, len(r.blocks))
	for _, e := range r.blocks {
		e.accepting.Store(false)
		consumers = append(consumers, e.consumer)
	}
	r.mu.RUnlock()

	var errs []error
	for _, c := range consumers {
		if err := c.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}
	r.pool.Stop(ctx)
	return errors.Join(errs...)
}

// Notify hands signals emitted on from's output to every linked input.
// It returns once the deliveries are queued.
func (r *Router) Notify(from, outputID string, signals []*core.Signal) error {
	if outputID == "" {
		outputID = core.DefaultTerminal
	}
	if !r.Running() {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: "router is not running"}
	}

	r.mu.RLock()
	source, known := r.blocks[from]
	links := append([]Link(nil), r.links[from][outputID]...)
	r.mu.RUnlock()
	if !known {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: fmt.Sprintf("unknown block %q", from)}
	}

	source.notified.Add(int64(len(signals)))
	r.metrics.SignalsEmitted(from, outputID, len(signals))

	logger := r.logger.WithFields(map[string]interface{}{core.KeyBlock: from, core.KeyOutput: outputID})
	if len(links) == 0 {
		r.metrics.Undelivered(from, outputID, len(signals))
		logger.Debug("no links for output, signals dropped")
		return nil
	}

	var errs []error
	for _, l := range links {
		d := &Delivery{From: from, Output: outputID, To: l.To, Input: l.Input, Signals: signals}
		err := r.send(context.Background(), d)
		if errors.Is(err, core.ErrBackpressure) {
			// Mailbox full: drop rather than block the notifying block.
			logger.WithFields(map[string]interface{}{"to": d.To, core.KeyCount: len(d.Signals)}).Error("input queue full, signals dropped")
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Inject delivers signals to a block input on behalf of the host. Unlike
// Notify it reports a full input queue as core.ErrBackpressure, so the
// caller knows the batch was not accepted.
func (r *Router) Inject(ctx context.Context, to, inputID string, signals []*core.Signal) error {
	if inputID == "" {
		inputID = core.DefaultTerminal
	}
	if !r.Running() {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: "router is not running"}
	}
	if r.entry(to) == nil {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: fmt.Sprintf("unknown block %q", to)}
	}
	d := &Delivery{
		From:      ExternalSource,
		Output:    core.DefaultTerminal,
		To:        to,
		Input:     inputID,
		Signals:   signals,
		RequestID: core.GetRequestID(ctx),
	}
	err := r.send(ctx, d)
	if errors.Is(err, core.ErrBackpressure) {
		r.logger.WithContext(ctx).WithFields(map[string]interface{}{core.KeyBlock: to, core.KeyCount: len(signals)}).Debug("input queue full, injection refused")
	}
	return err
}

// send puts d on the bus, counting it as pending on its target until the
// target's handler has dealt with it. A full mailbox is reported as
// core.ErrBackpressure and counted as undelivered.
func (r *Router) send(ctx context.Context, d *Delivery) error {
	target := r.entry(d.To)
	if target != nil {
		target.pending.Add(1)
	}
	err := blockotel.SendWithSpan(ctx, r.bus, InputAddress(d.To), d)
	if err == nil {
		return nil
	}
	if target != nil {
		target.pending.Add(-1)
	}
	if errors.Is(err, core.ErrTimeout) {
		r.metrics.Undelivered(d.From, d.Output, len(d.Signals))
		return fmt.Errorf("deliver to %s: %w", d.To, core.ErrBackpressure)
	}
	return fmt.Errorf("deliver to %s: %w", d.To, err)
}

func decodeDelivery(msg core.Message) (*Delivery, error) {
	if d, ok := msg.Body().(*Delivery); ok {
		return d, nil
	}
	var d Delivery
	if err := msg.DecodeBody(&d); err != nil {
		return nil, fmt.Errorf("decode delivery: %w", err)
	}
	return &d, nil
}

// handler runs each delivery on the worker pool and waits for it, so a
// block sees its batches in order while the pool bounds overall concurrency.
func (r *Router) handler(e *entry) core.MessageHandler {
	return func(ctx context.Context, msg core.Message) error {
		defer e.pending.Add(-1)
		d, err := decodeDelivery(msg)
		if err != nil {
			return err
		}
		if !r.Running() || !e.accepting.Load() {
			r.metrics.Undelivered(d.From, d.Output, len(d.Signals))
			return nil
		}
		if d.RequestID != "" {
			ctx = core.WithRequestID(ctx, d.RequestID)
		}

		done := make(chan error, 1)
		if err := r.pool.Submit(func() { done <- r.process(ctx, e, d) }); err != nil {
			r.metrics.Undelivered(d.From, d.Output, len(d.Signals))
			return fmt.Errorf("schedule delivery to %s: %w", e.name, err)
		}

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Router) process(ctx context.Context, e *entry, d *Delivery) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("block %s panicked: %v\n%s", e.name, p, debug.Stack())
		}
		r.metrics.ObserveDelivery(e.name, time.Since(start).Seconds())
		if err != nil {
			e.errors.Add(1)
			r.metrics.ProcessFailed(e.name)
		}
	}()

	r.metrics.SignalsDelivered(e.name, d.Input, len(d.Signals))
	e.processed.Add(int64(len(d.Signals)))

	trace := blockotel.Delivery{From: d.From, Output: d.Output, To: e.name, Input: d.Input, Count: len(d.Signals)}
	return blockotel.TraceDelivery(ctx, trace, func(context.Context) error {
		return e.block.ProcessSignals(d.Signals, d.Input)
	})
}
