// Package natspub provides a block that publishes every signal it receives
// to a NATS subject and forwards the batch downstream.
package natspub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/discovery"
	"github.com/fluxorio/blockflow/pkg/property"
	"github.com/nats-io/nats.go"
)

// TypeName is the discovery name of the publisher block.
const TypeName = "NATSPublisher"

// Property names.
const (
	PropURL     = "url"
	PropSubject = "subject"
	PropBatch   = "batch"
)

const (
	defaultConnectTimeout = 5 * time.Second
	minConnectTimeout     = 250 * time.Millisecond
)

// Schema declares the publisher's properties.
var Schema = property.MustSchema(
	property.String(PropURL, "Server URL", nats.DefaultURL),
	property.String(PropSubject, "Subject", ""),
	property.Bool(PropBatch, "Publish Batches", false),
	property.Version("1.0.0"),
)

func init() {
	discovery.Register(TypeName, New, Schema)
}

// Publisher publishes signals as JSON. With batch set, each batch goes out
// as one JSON array; otherwise every signal is its own message.
type Publisher struct {
	block.Base

	mu sync.Mutex
	nc *nats.Conn
}

// New constructs an unconfigured Publisher.
func New() block.Block {
	return &Publisher{}
}

func (p *Publisher) Configure(ctx *block.Context) error {
	if err := p.Base.Configure(ctx); err != nil {
		return err
	}
	if p.Properties().String(PropSubject) == "" {
		return &core.EventBusError{Code: core.ErrInvalidProperty.Code, Message: "property \"subject\": cannot be empty"}
	}
	if p.Properties().String(PropURL) == "" {
		return &core.EventBusError{Code: core.ErrInvalidProperty.Code, Message: "property \"url\": cannot be empty"}
	}
	return nil
}

// Start connects to the server. Lost connections are re-established by the
// client in the background.
func (p *Publisher) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	nc, err := nats.Connect(p.Properties().String(PropURL),
		nats.Name("blockflow."+p.Name()),
		nats.Timeout(connectTimeout(ctx)),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	p.mu.Lock()
	p.nc = nc
	p.mu.Unlock()
	p.Logger().WithFields(map[string]interface{}{"subject": p.Properties().String(PropSubject)}).Info("publisher connected")
	return nil
}

// connectTimeout follows the start deadline, within bounds.
func connectTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return defaultConnectTimeout
	}
	if left := time.Until(deadline); left > minConnectTimeout {
		return left
	}
	return minConnectTimeout
}

func (p *Publisher) ProcessSignals(signals []*core.Signal, inputID string) error {
	p.mu.Lock()
	nc := p.nc
	p.mu.Unlock()
	if nc == nil {
		return core.ErrBusClosed
	}

	subject := p.Properties().String(PropSubject)
	if p.Properties().Bool(PropBatch) {
		data, err := core.JSONEncode(signals)
		if err != nil {
			return err
		}
		if err := nc.Publish(subject, data); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
	} else {
		for _, sig := range signals {
			data, err := core.JSONEncode(sig)
			if err != nil {
				return err
			}
			if err := nc.Publish(subject, data); err != nil {
				return fmt.Errorf("publish %s: %w", subject, err)
			}
		}
	}
	return p.NotifySignals(signals, core.DefaultTerminal)
}

// Stop drains pending messages and closes the connection.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	nc := p.nc
	p.nc = nil
	p.mu.Unlock()
	if nc == nil {
		return nil
	}
	return nc.Drain()
}
