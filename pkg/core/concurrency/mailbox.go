package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMailboxFull is returned by Send when the mailbox has no free slot.
	ErrMailboxFull = errors.New("mailbox is full")
	// ErrMailboxClosed is returned once Close has been called.
	ErrMailboxClosed = errors.New("mailbox is closed")
)

// Mailbox is a bounded FIFO queue of messages for a single consumer.
// Send never blocks; Receive blocks until a message arrives, the mailbox
// is closed or ctx is done.
type Mailbox interface {
	Send(msg interface{}) error
	Receive(ctx context.Context) (interface{}, error)
	Close()
	IsClosed() bool
	Len() int
}

type boundedMailbox struct {
	ch     chan interface{}
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewBoundedMailbox creates a mailbox holding at most capacity messages.
func NewBoundedMailbox(capacity int) Mailbox {
	if capacity <= 0 {
		panic(fmt.Errorf("fail-fast: mailbox capacity must be positive, got %d", capacity))
	}
	return &boundedMailbox{
		ch:   make(chan interface{}, capacity),
		done: make(chan struct{}),
	}
}

func (m *boundedMailbox) Send(msg interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrMailboxClosed
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (m *boundedMailbox) Receive(ctx context.Context) (interface{}, error) {
	// Drain what is already queued before honouring close.
	select {
	case msg := <-m.ch:
		return msg, nil
	default:
	}
	select {
	case msg := <-m.ch:
		return msg, nil
	case <-m.done:
		return nil, ErrMailboxClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *boundedMailbox) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *boundedMailbox) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *boundedMailbox) Len() int {
	return len(m.ch)
}
