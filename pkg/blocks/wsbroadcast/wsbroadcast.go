// Package wsbroadcast provides a block that streams every batch it receives
// to connected WebSocket clients and forwards the batch downstream.
package wsbroadcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/discovery"
	"github.com/fluxorio/blockflow/pkg/property"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TypeName is the discovery name of the broadcaster block.
const TypeName = "WebSocketBroadcaster"

// Property names.
const (
	PropAddr   = "addr"
	PropPath   = "path"
	PropBuffer = "buffer"
)

const writeWait = 5 * time.Second

// Schema declares the broadcaster's properties.
var Schema = property.MustSchema(
	property.String(PropAddr, "Listen Address", "127.0.0.1:8081"),
	property.String(PropPath, "Path", "/signals"),
	property.Int(PropBuffer, "Client Buffer", 16),
	property.Version("1.0.0"),
)

func init() {
	discovery.Register(TypeName, New, Schema)
}

// Broadcaster writes each batch as one JSON array text message to every
// client. A client whose buffer is full is disconnected rather than
// slowing the block down.
type Broadcaster struct {
	block.Base

	upgrader websocket.Upgrader

	mu      sync.Mutex
	server  *http.Server
	ln      net.Listener
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// New constructs an unconfigured Broadcaster.
func New() block.Block {
	return &Broadcaster{clients: make(map[string]*client)}
}

func (b *Broadcaster) Configure(ctx *block.Context) error {
	if err := b.Base.Configure(ctx); err != nil {
		return err
	}
	if b.Properties().Int(PropBuffer) < 1 {
		return &core.EventBusError{Code: core.ErrInvalidProperty.Code, Message: "property \"buffer\": must be at least 1"}
	}
	return nil
}

// Start listens for WebSocket clients on addr.
func (b *Broadcaster) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.Properties().String(PropAddr))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(b.Properties().String(PropPath), b.handleUpgrade)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}

	b.mu.Lock()
	b.ln, b.server = ln, server
	b.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.Logger().Error("websocket server: ", err)
		}
	}()
	b.Logger().WithFields(map[string]interface{}{"addr": ln.Addr().String()}).Info("broadcaster listening")
	return nil
}

// Addr returns the bound address once started.
func (b *Broadcaster) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return ""
	}
	return b.ln.Addr().String()
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.Logger().Debug("websocket upgrade failed: ", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, b.Properties().Int(PropBuffer)),
	}
	b.mu.Lock()
	if b.server == nil {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.clients[c.id] = c
	b.mu.Unlock()

	go b.write(c)
	go b.read(c)
}

// read discards client frames and unregisters the client once it goes away.
func (b *Broadcaster) read(c *client) {
	defer b.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) write(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.drop(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (b *Broadcaster) drop(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ProcessSignals(signals []*core.Signal, inputID string) error {
	data, err := core.JSONEncode(signals)
	if err != nil {
		return err
	}

	b.mu.Lock()
	for id, c := range b.clients {
		select {
		case c.send <- data:
		default:
			delete(b.clients, id)
			c.close()
			b.Logger().WithFields(map[string]interface{}{"client": id}).Info("dropping slow websocket client")
		}
	}
	b.mu.Unlock()

	return b.NotifySignals(signals, core.DefaultTerminal)
}

// Stop disconnects every client and shuts the listener down.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.mu.Lock()
	server := b.server
	b.server, b.ln = nil, nil
	for id, c := range b.clients {
		delete(b.clients, id)
		c.close()
	}
	b.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
