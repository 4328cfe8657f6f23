package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

// ClusterConfig configures the NATS-backed event bus.
type ClusterConfig struct {
	// URL of the NATS server, e.g. nats://127.0.0.1:4222
	URL string
	// Prefix is prepended to every subject so several hosts can share a server.
	Prefix string
	// Service names this host; it becomes the queue group for point-to-point delivery.
	Service string
	// ConnectTimeout bounds the initial connection attempts (default 10s).
	ConnectTimeout time.Duration
}

func (c *ClusterConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "blockflow"
	}
	if c.Service == "" {
		c.Service = "blockflow"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// clusterEventBus implements EventBus on top of NATS core messaging.
//
// Publish maps to a plain subject every consumer subscribes to. Send and
// Request map to a queue subject, so exactly one consumer in the service's
// queue group receives each message. Bodies travel as JSON.
type clusterEventBus struct {
	nc     *nats.Conn
	cfg    ClusterConfig
	logger Logger

	mu     sync.Mutex
	subs   map[*clusterConsumer]struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClusterEventBus connects to NATS and returns an EventBus backed by it.
// Connection attempts are retried with exponential backoff until ctx is done
// or cfg.ConnectTimeout elapses. Once connected the bus lives until Close.
func NewClusterEventBus(ctx context.Context, cfg ClusterConfig, logger Logger) (EventBus, error) {
	if cfg.URL == "" {
		return nil, &EventBusError{Code: "INVALID_CONFIG", Message: "nats url cannot be empty"}
	}
	cfg.setDefaults()
	if logger == nil {
		logger = NewNopLogger()
	}
	logger = logger.WithFields(map[string]interface{}{"nats_url": cfg.URL, KeyService: cfg.Service})

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = cfg.ConnectTimeout

	var nc *nats.Conn
	connect := func() error {
		var err error
		nc, err = nats.Connect(cfg.URL,
			nats.Name(cfg.Service),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.WithFields(map[string]interface{}{KeyError: err.Error()}).Error("nats disconnected")
				}
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats reconnected")
			}),
		)
		if err != nil {
			logger.WithFields(map[string]interface{}{KeyError: err.Error()}).Debug("nats connect failed, retrying")
		}
		return err
	}
	if err := backoff.Retry(connect, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	logger.Info("connected to nats")

	busCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &clusterEventBus{
		nc:     nc,
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*clusterConsumer]struct{}),
		ctx:    busCtx,
		cancel: cancel,
	}, nil
}

// ClusterEventBusFactory is the EventBusFactory for NewClusterEventBus.
func ClusterEventBusFactory(cfg ClusterConfig) EventBusFactory {
	return func(ctx context.Context, logger Logger) (EventBus, error) {
		return NewClusterEventBus(ctx, cfg, logger)
	}
}

func (eb *clusterEventBus) publishSubject(address string) string {
	return eb.cfg.Prefix + ".pub." + address
}

func (eb *clusterEventBus) sendSubject(address string) string {
	return eb.cfg.Prefix + ".send." + address
}

func (eb *clusterEventBus) queueGroup(address string) string {
	return eb.cfg.Service + "." + strings.ReplaceAll(address, ".", "_")
}

func (eb *clusterEventBus) encode(address string, body interface{}) ([]byte, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if err := ValidateBody(body); err != nil {
		return nil, err
	}
	if eb.ctx.Err() != nil || eb.nc.IsClosed() {
		return nil, ErrBusClosed
	}
	if raw, ok := body.([]byte); ok {
		return raw, nil
	}
	return JSONEncode(body)
}

func (eb *clusterEventBus) Publish(address string, body interface{}) error {
	data, err := eb.encode(address, body)
	if err != nil {
		return err
	}
	return eb.nc.Publish(eb.publishSubject(address), data)
}

func (eb *clusterEventBus) Send(address string, body interface{}) error {
	data, err := eb.encode(address, body)
	if err != nil {
		return err
	}
	return eb.nc.Publish(eb.sendSubject(address), data)
}

func (eb *clusterEventBus) Request(address string, body interface{}, timeout time.Duration) (Message, error) {
	if err := ValidateTimeout(timeout); err != nil {
		return nil, err
	}
	data, err := eb.encode(address, body)
	if err != nil {
		return nil, err
	}

	reply, err := eb.nc.Request(eb.sendSubject(address), data, timeout)
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return nil, &EventBusError{Code: ErrNoHandlers.Code, Message: "No handlers registered for address: " + address}
	case errors.Is(err, nats.ErrTimeout):
		return nil, ErrTimeout
	case err != nil:
		return nil, err
	}
	return &natsMessage{msg: reply}, nil
}

func (eb *clusterEventBus) Consumer(address string) Consumer {
	if err := ValidateAddress(address); err != nil {
		FailFast(err)
	}
	c := &clusterConsumer{
		address:  address,
		eventBus: eb,
		done:     make(chan struct{}),
	}
	eb.mu.Lock()
	eb.subs[c] = struct{}{}
	eb.mu.Unlock()
	return c
}

func (eb *clusterEventBus) Close() error {
	eb.cancel()
	eb.mu.Lock()
	consumers := make([]*clusterConsumer, 0, len(eb.subs))
	for c := range eb.subs {
		consumers = append(consumers, c)
	}
	eb.mu.Unlock()

	for _, c := range consumers {
		_ = c.Unregister()
	}
	if err := eb.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		eb.nc.Close()
		return err
	}
	return nil
}

// clusterConsumer implements Consumer with one broadcast subscription and
// one queue subscription per address.
type clusterConsumer struct {
	address  string
	eventBus *clusterEventBus

	mu      sync.Mutex
	handler MessageHandler
	subs    []*nats.Subscription
	done    chan struct{}
	once    sync.Once
}

func (c *clusterConsumer) Handler(handler MessageHandler) Consumer {
	if handler == nil {
		FailFast(&EventBusError{Code: "INVALID_HANDLER", Message: "handler cannot be nil"})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	started := c.handler != nil
	c.handler = handler
	if started {
		return c
	}

	eb := c.eventBus
	pub, err := eb.nc.Subscribe(eb.publishSubject(c.address), c.dispatch)
	if err != nil {
		FailFast(fmt.Errorf("subscribe %s: %w", c.address, err))
	}
	send, err := eb.nc.QueueSubscribe(eb.sendSubject(c.address), eb.queueGroup(c.address), c.dispatch)
	if err != nil {
		_ = pub.Unsubscribe()
		FailFast(fmt.Errorf("queue subscribe %s: %w", c.address, err))
	}
	c.subs = []*nats.Subscription{pub, send}
	return c
}

func (c *clusterConsumer) dispatch(msg *nats.Msg) {
	logger := c.eventBus.logger.WithFields(map[string]interface{}{KeyAddress: c.address})
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("handler panic (isolated): %v", r))
		}
	}()

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}

	if err := handler(c.eventBus.ctx, &natsMessage{msg: msg}); err != nil {
		logger.WithFields(map[string]interface{}{KeyError: err.Error()}).Error("handler error")
	}
}

func (c *clusterConsumer) Completion() <-chan struct{} {
	return c.done
}

func (c *clusterConsumer) Unregister() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil && !errors.Is(err, nats.ErrConnectionClosed) {
			firstErr = err
		}
	}

	c.eventBus.mu.Lock()
	delete(c.eventBus.subs, c)
	c.eventBus.mu.Unlock()

	c.once.Do(func() { close(c.done) })
	return firstErr
}

// natsMessage adapts a *nats.Msg to Message.
type natsMessage struct {
	msg *nats.Msg
}

func (m *natsMessage) Body() interface{} {
	return m.msg.Data
}

func (m *natsMessage) Headers() map[string]string {
	result := make(map[string]string, len(m.msg.Header))
	for k := range m.msg.Header {
		result[k] = m.msg.Header.Get(k)
	}
	return result
}

func (m *natsMessage) ReplyAddress() string {
	return m.msg.Reply
}

func (m *natsMessage) Reply(body interface{}) error {
	if m.msg.Reply == "" {
		return ErrNoReplyAddress
	}
	data, ok := body.([]byte)
	if !ok {
		var err error
		if data, err = JSONEncode(body); err != nil {
			return err
		}
	}
	return m.msg.Respond(data)
}

func (m *natsMessage) DecodeBody(v interface{}) error {
	return JSONDecode(m.msg.Data, v)
}

func (m *natsMessage) Fail(failureCode int, message string) error {
	return m.Reply(map[string]interface{}{
		"failureCode": failureCode,
		"message":     message,
	})
}
