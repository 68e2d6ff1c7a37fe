// Package client dials a kingnet server and drives the resulting socket with
// the same connection loop the server uses, optionally reconnecting when the
// link drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/kingnet/connection"
	"github.com/cyberinferno/kingnet/logger"
)

// ConnectionState represents the current state of the client.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Dial in progress
	Connected                           // Connection established
	Reconnecting                        // Waiting to redial after an unexpected disconnect
	Closed                              // Client has been closed and will not reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Errors returned by Connect and Send.
var (
	ErrClosed           = errors.New("client is closed")
	ErrAlreadyConnected = errors.New("already connected or connecting")
	ErrNotConnected     = errors.New("not connected")
)

// StateEvent describes a state change.
type StateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // Non-nil if the change was caused by an error
}

// StateHandler is called on the goroutine that caused the state change.
type StateHandler func(event StateEvent)

// MessageHandler receives the bytes of one completed read. Calls never
// overlap.
type MessageHandler func(data []byte)

// Config holds the client settings.
type Config struct {
	// ID is the identifier given to the underlying connection, used in logs.
	ID uint32
	// Address is the "host:port" to connect to.
	Address string
	// MaxBufferSize sizes the receive buffer and the socket buffers.
	MaxBufferSize int
	// ConnectionTimeout bounds a single dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds a single Send; 0 means no deadline.
	WriteTimeout time.Duration
	// AutoReconnect redials after an unexpected disconnect.
	AutoReconnect bool
	// ReconnectInterval is the delay between redial attempts.
	ReconnectInterval time.Duration
	Logger            logger.Logger
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with MaxBufferSize 4096, ConnectionTimeout 10s, WriteTimeout
//     10s, ReconnectInterval 5s and AutoReconnect disabled
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		MaxBufferSize:     4096,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

// Client is a TCP client built on connection.Connection. It is safe for
// concurrent use.
type Client struct {
	config Config
	logger logger.Logger

	mu        sync.RWMutex
	conn      *connection.Connection
	state     ConnectionState
	closed    bool
	onState   StateHandler
	onMessage MessageHandler

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Client in the Disconnected state; call Connect to dial.
func New(config Config) *Client {
	return &Client{
		config:   config,
		logger:   logger.OrNop(config.Logger).With(logger.Field{Key: "address", Value: config.Address}),
		state:    Disconnected,
		stopChan: make(chan struct{}),
	}
}

// OnStateChange registers the state handler, replacing any previous one.
func (c *Client) OnStateChange(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnMessage registers the message handler, replacing any previous one.
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// Connect dials the configured address.
//
// Parameters:
//   - ctx: Cancels the dial
//
// Returns:
//   - ErrClosed, ErrAlreadyConnected, or the dial/setup error
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	c.state = Connecting
	handler := c.onState
	c.mu.Unlock()

	c.notify(handler, Connecting, nil)
	return c.dial(ctx)
}

// Send writes data to the server.
//
// Returns:
//   - ErrNotConnected when there is no live connection, otherwise the result
//     of connection.Connection.Send
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.Connected() {
		return ErrNotConnected
	}

	return conn.Send(data)
}

// State returns the current state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Close disconnects, stops reconnecting and moves to Closed. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.stopChan)

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.wg.Wait()
	c.setState(Closed, nil)
	return err
}

// dial connects to the configured address. The caller has already moved the
// client to Connecting.
func (c *Client) dial(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.logger.Warn("dial failed", logger.Field{Key: "error", Value: err})
		c.setState(Disconnected, err)
		return fmt.Errorf("dial %s: %w", c.config.Address, err)
	}

	var conn *connection.Connection
	conn, err = connection.New(connection.Config{
		ID:             c.config.ID,
		Conn:           raw,
		OnMessage:      c.handleMessage,
		OnDisconnected: func(uint32) { c.handleDisconnect(conn) },
		MaxBufferSize:  c.config.MaxBufferSize,
		WriteTimeout:   c.config.WriteTimeout,
		Logger:         c.logger,
	})
	if err != nil {
		_ = raw.Close()
		c.logger.Error("failed to set up connection", logger.Field{Key: "error", Value: err})
		c.setState(Disconnected, err)
		return fmt.Errorf("set up connection: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = raw.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)
	conn.Start()
	return nil
}

func (c *Client) handleMessage(_ *connection.Connection, data []byte) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()

	if handler != nil {
		handler(data)
	}
}

func (c *Client) handleDisconnect(conn *connection.Connection) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}

	if c.closed {
		c.mu.Unlock()
		return
	}

	reconnect := c.config.AutoReconnect
	if reconnect {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.setState(Disconnected, nil)
	if reconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop redials every ReconnectInterval until a dial succeeds or the
// client is closed.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		c.setState(Reconnecting, nil)

		select {
		case <-c.stopChan:
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.stopChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		c.setState(Connecting, nil)
		err := c.dial(ctx)
		cancel()
		if err == nil || errors.Is(err, ErrClosed) || c.isClosed() {
			return
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	if c.closed && state != Closed {
		c.mu.Unlock()
		return
	}

	c.state = state
	handler := c.onState
	c.mu.Unlock()

	c.notify(handler, state, err)
}

func (c *Client) notify(handler StateHandler, state ConnectionState, err error) {
	c.logger.Debug("state changed", logger.Field{Key: "state", Value: state.String()})
	if handler != nil {
		handler(StateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}
