package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorio/blockflow/pkg/core/concurrency"
	"github.com/google/uuid"
)

// DefaultMailboxSize is the per-consumer queue length used by NewEventBus.
const DefaultMailboxSize = 100

// eventBus implements EventBus in memory
type eventBus struct {
	consumers   map[string][]*consumer
	next        map[string]int // round-robin cursor per address
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	logger      Logger
	mailboxSize int
}

// EventBusOption configures NewEventBus.
type EventBusOption func(*eventBus)

// WithMailboxSize sets the per-consumer mailbox capacity.
func WithMailboxSize(size int) EventBusOption {
	return func(eb *eventBus) {
		if size > 0 {
			eb.mailboxSize = size
		}
	}
}

// WithBusLogger sets the logger used to report handler failures.
func WithBusLogger(logger Logger) EventBusOption {
	return func(eb *eventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// NewEventBus creates a new in-memory event bus. The bus lives until Close;
// cancelling ctx does not close it, so blocks can still emit while the host
// shuts down.
func NewEventBus(ctx context.Context, opts ...EventBusOption) EventBus {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	eb := &eventBus{
		consumers:   make(map[string][]*consumer),
		next:        make(map[string]int),
		ctx:         ctx,
		cancel:      cancel,
		logger:      NewNopLogger(),
		mailboxSize: DefaultMailboxSize,
	}
	for _, opt := range opts {
		opt(eb)
	}
	return eb
}

// InMemoryEventBusFactory is the EventBusFactory for NewEventBus.
func InMemoryEventBusFactory(mailboxSize int) EventBusFactory {
	return func(ctx context.Context, logger Logger) (EventBus, error) {
		return NewEventBus(ctx, WithMailboxSize(mailboxSize), WithBusLogger(logger)), nil
	}
}

func (eb *eventBus) closed() bool {
	return eb.ctx.Err() != nil
}

func (eb *eventBus) Publish(address string, body interface{}) error {
	// Fail-fast: validate inputs immediately
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if err := ValidateBody(body); err != nil {
		return err
	}
	if eb.closed() {
		return ErrBusClosed
	}

	eb.mu.RLock()
	consumers := append([]*consumer(nil), eb.consumers[address]...)
	eb.mu.RUnlock()

	msg := newMessage(body, nil, "", eb)

	for _, c := range consumers {
		if err := c.mailbox.Send(msg); err != nil {
			if errors.Is(err, concurrency.ErrMailboxFull) {
				// Non-blocking: if handler is busy, skip
				eb.logger.WithFields(map[string]interface{}{KeyAddress: address}).Error("mailbox full, message dropped")
				continue
			}
			if errors.Is(err, concurrency.ErrMailboxClosed) {
				continue
			}
			return err
		}
	}

	return nil
}

func (eb *eventBus) Send(address string, body interface{}) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if err := ValidateBody(body); err != nil {
		return err
	}
	if eb.closed() {
		return ErrBusClosed
	}
	return eb.deliver(address, newMessage(body, nil, "", eb))
}

// deliver hands msg to one consumer of address, round-robin.
func (eb *eventBus) deliver(address string, msg Message) error {
	eb.mu.Lock()
	consumers := eb.consumers[address]
	if len(consumers) == 0 {
		eb.mu.Unlock()
		return &EventBusError{Code: ErrNoHandlers.Code, Message: "No handlers registered for address: " + address}
	}
	idx := eb.next[address] % len(consumers)
	eb.next[address] = idx + 1
	c := consumers[idx]
	eb.mu.Unlock()

	if err := c.mailbox.Send(msg); err != nil {
		if errors.Is(err, concurrency.ErrMailboxFull) {
			return ErrTimeout
		}
		if errors.Is(err, concurrency.ErrMailboxClosed) {
			return ErrBusClosed
		}
		return err
	}
	return nil
}

func (eb *eventBus) Request(address string, body interface{}, timeout time.Duration) (Message, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if err := ValidateBody(body); err != nil {
		return nil, err
	}
	if err := ValidateTimeout(timeout); err != nil {
		return nil, err
	}
	if eb.closed() {
		return nil, ErrBusClosed
	}

	replyAddress := generateReplyAddress()
	replyMailbox := concurrency.NewBoundedMailbox(1)

	// Register temporary reply handler
	replyConsumer := eb.Consumer(replyAddress)
	replyConsumer.Handler(func(ctx context.Context, msg Message) error {
		// Only the first reply matters
		_ = replyMailbox.Send(msg)
		return nil
	})
	defer replyConsumer.Unregister()

	headers := map[string]string{"replyAddress": replyAddress}
	if err := eb.deliver(address, newMessage(body, headers, replyAddress, eb)); err != nil {
		return nil, err
	}

	replyCtx, replyCancel := context.WithTimeout(eb.ctx, timeout)
	defer replyCancel()

	reply, err := replyMailbox.Receive(replyCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	if msg, ok := reply.(Message); ok {
		return msg, nil
	}
	return nil, fmt.Errorf("invalid reply message type")
}

func (eb *eventBus) Consumer(address string) Consumer {
	// Fail-fast: validate address immediately
	if err := ValidateAddress(address); err != nil {
		FailFast(err)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	c := &consumer{
		address:  address,
		mailbox:  concurrency.NewBoundedMailbox(eb.mailboxSize),
		eventBus: eb,
		done:     make(chan struct{}),
	}

	eb.consumers[address] = append(eb.consumers[address], c)
	return c
}

func (eb *eventBus) Close() error {
	eb.cancel()
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, consumers := range eb.consumers {
		for _, c := range consumers {
			c.mailbox.Close()
		}
	}
	eb.consumers = make(map[string][]*consumer)
	return nil
}

// consumer implements Consumer
type consumer struct {
	address  string
	mailbox  concurrency.Mailbox
	handler  MessageHandler
	eventBus *eventBus
	done     chan struct{}
	once     sync.Once
	mu       sync.RWMutex
}

func (c *consumer) Handler(handler MessageHandler) Consumer {
	// Fail-fast: handler cannot be nil
	if handler == nil {
		FailFast(&EventBusError{Code: "INVALID_HANDLER", Message: "handler cannot be nil"})
	}

	c.mu.Lock()
	started := c.handler != nil
	c.handler = handler
	c.mu.Unlock()

	if !started {
		go c.processMessages()
	}
	return c
}

func (c *consumer) processMessages() {
	defer c.once.Do(func() { close(c.done) })

	for {
		msg, err := c.mailbox.Receive(c.eventBus.ctx)
		if err != nil {
			// Mailbox closed or context cancelled
			return
		}

		message, ok := msg.(Message)
		if !ok {
			continue
		}

		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()

		c.handle(handler, message)
	}
}

// handle runs one handler call with panic isolation: a failing handler
// never stops the consumer loop.
func (c *consumer) handle(handler MessageHandler, message Message) {
	logger := c.eventBus.logger.WithFields(map[string]interface{}{KeyAddress: c.address})
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("handler panic (isolated): %v", r))
		}
	}()

	if err := handler(c.eventBus.ctx, message); err != nil {
		logger.WithFields(map[string]interface{}{KeyError: err.Error()}).Error("handler error")
	}
}

func (c *consumer) Completion() <-chan struct{} {
	return c.done
}

func (c *consumer) Unregister() error {
	c.eventBus.mu.Lock()
	consumers := c.eventBus.consumers[c.address]
	for i, cons := range consumers {
		if cons == c {
			c.eventBus.consumers[c.address] = append(consumers[:i:i], consumers[i+1:]...)
			break
		}
	}
	if len(c.eventBus.consumers[c.address]) == 0 {
		delete(c.eventBus.consumers, c.address)
		delete(c.eventBus.next, c.address)
	}
	c.eventBus.mu.Unlock()

	c.mailbox.Close()

	c.mu.RLock()
	started := c.handler != nil
	c.mu.RUnlock()
	if !started {
		c.once.Do(func() { close(c.done) })
	}
	return nil
}

func generateReplyAddress() string {
	return "reply." + uuid.New().String()
}
