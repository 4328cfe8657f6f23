package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Message represents a message on the event bus
type Message interface {
	// Body returns the message body
	Body() interface{}

	// Headers returns the message headers
	Headers() map[string]string

	// ReplyAddress returns the reply address if this is a request message
	ReplyAddress() string

	// Reply sends a reply to this message
	Reply(body interface{}) error

	// DecodeBody decodes the message body into v
	DecodeBody(v interface{}) error

	// Fail indicates that processing failed
	Fail(failureCode int, message string) error
}

// message implements Message
type message struct {
	body         interface{}
	headers      map[string]string
	replyAddress string
	eventBus     EventBus
	mu           sync.RWMutex
}

func newMessage(body interface{}, headers map[string]string, replyAddress string, eventBus EventBus) Message {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &message{
		body:         body,
		headers:      headers,
		replyAddress: replyAddress,
		eventBus:     eventBus,
	}
}

func (m *message) Body() interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.body
}

func (m *message) Headers() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]string)
	for k, v := range m.headers {
		result[k] = v
	}
	return result
}

func (m *message) ReplyAddress() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.replyAddress
}

func (m *message) Reply(body interface{}) error {
	if m.replyAddress == "" {
		return ErrNoReplyAddress
	}
	return m.eventBus.Send(m.replyAddress, body)
}

// DecodeBody decodes the body into v. []byte bodies are treated as JSON;
// in-process bodies are round-tripped through JSON so both bus
// implementations decode the same way.
func (m *message) DecodeBody(v interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if data, ok := m.body.([]byte); ok {
		return JSONDecode(data, v)
	}
	data, err := JSONEncode(m.body)
	if err != nil {
		return fmt.Errorf("body of type %T cannot be decoded: %w", m.body, err)
	}
	return JSONDecode(data, v)
}

func (m *message) Fail(failureCode int, message string) error {
	return m.Reply(map[string]interface{}{
		"failureCode": failureCode,
		"message":     message,
	})
}

// EventBus provides publish-subscribe and point-to-point messaging between
// the host and its blocks.
//
// Thread-safety: All methods are safe for concurrent use.
//
// Error handling patterns:
//   - Publish, Send, Request: return errors for invalid inputs or failures
//   - Consumer: PANICS on invalid address (fail-fast for programmer errors)
type EventBus interface {
	// Publish publishes a message to all handlers registered for the address.
	// A handler whose mailbox is full is skipped.
	Publish(address string, body interface{}) error

	// Send sends a point-to-point message to one handler.
	// Returns error if address is invalid or no handlers are registered.
	Send(address string, body interface{}) error

	// Request sends a message and expects a reply within timeout.
	Request(address string, body interface{}, timeout time.Duration) (Message, error)

	// Consumer creates a consumer for the given address.
	//
	// IMPORTANT: This method PANICS if address is invalid (empty or too long).
	//
	// Usage pattern:
	//   consumer := eb.Consumer("block.example.input").Handler(func(ctx context.Context, msg Message) error {
	//       // handle message
	//       return nil
	//   })
	//   defer consumer.Unregister()
	Consumer(address string) Consumer

	// Close closes the event bus and releases all resources.
	// After Close, all other methods will fail.
	Close() error
}

// Consumer represents a message consumer
type Consumer interface {
	// Handler sets the message handler
	Handler(handler MessageHandler) Consumer

	// Completion returns a channel that will be closed when the consumer is closed
	Completion() <-chan struct{}

	// Unregister unregisters the consumer
	Unregister() error
}

// MessageHandler handles incoming messages
type MessageHandler func(ctx context.Context, msg Message) error

// EventBusFactory builds the bus a host runs on.
type EventBusFactory func(ctx context.Context, logger Logger) (EventBus, error)
