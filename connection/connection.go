// Package connection wraps one accepted socket: it reads inbound bytes into
// a fixed-size buffer, hands each completed read to a message handler and
// reports the disconnect exactly once.
package connection

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/kingnet/logger"
)

// DefaultDeliveryQueueSize is used when Config.DeliveryQueueSize is not set.
const DefaultDeliveryQueueSize = 64

// Errors returned by New and Send.
var (
	ErrNilConn           = errors.New("connection: nil socket")
	ErrNilHandler        = errors.New("connection: nil handler")
	ErrInvalidBufferSize = errors.New("connection: buffer size must be positive")
	ErrNoRemoteAddr      = errors.New("connection: remote address unavailable")
	ErrSendFailed        = errors.New("connection: send failed")
)

// MessageHandler receives the bytes of one completed read. data is a private
// copy owned by the handler and is never empty.
type MessageHandler func(c *Connection, data []byte)

// DisconnectHandler is invoked once per connection after its socket closed.
type DisconnectHandler func(id uint32)

// Payload is an opaque message body.
type Payload interface {
	Length() int
	Bytes() []byte
}

// Config describes a Connection to construct.
type Config struct {
	// ID identifies the connection; it must be unique among open connections.
	ID uint32
	// Conn is the accepted or dialed socket.
	Conn net.Conn
	// OnMessage is called for every completed read.
	OnMessage MessageHandler
	// OnDisconnected is called exactly once when the connection closes.
	OnDisconnected DisconnectHandler
	// MaxBufferSize sizes the receive buffer and the OS socket buffers.
	MaxBufferSize int
	// WriteTimeout bounds a single Send; 0 means no deadline.
	WriteTimeout time.Duration
	// DeliveryQueueSize is how many reads may wait for OnMessage before the
	// reader blocks. Defaults to DefaultDeliveryQueueSize.
	DeliveryQueueSize int
	// Logger defaults to a no-op logger.
	Logger logger.Logger
}

// Connection is one live or draining TCP peer. It is safe for concurrent use.
type Connection struct {
	id             uint32
	conn           net.Conn
	remoteAddr     string
	buffer         []byte
	writeTimeout   time.Duration
	onMessage      MessageHandler
	onDisconnected DisconnectHandler
	logger         logger.Logger

	queue     chan []byte
	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	writeMu   sync.Mutex
}

type bufferSizer interface {
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
}

// New configures the socket and returns a Connection that is ready to Start.
// On error nothing has been started and no handler will ever run; the caller
// still owns cfg.Conn.
//
// Parameters:
//   - cfg: The connection settings
//
// Returns:
//   - The new Connection
//   - An error wrapping one of the Err* sentinels, or the OS error from
//     socket buffer configuration
func New(cfg Config) (*Connection, error) {
	if cfg.Conn == nil {
		return nil, ErrNilConn
	}

	if cfg.OnMessage == nil || cfg.OnDisconnected == nil {
		return nil, ErrNilHandler
	}

	if cfg.MaxBufferSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBufferSize, cfg.MaxBufferSize)
	}

	addr := cfg.Conn.RemoteAddr()
	if addr == nil {
		return nil, ErrNoRemoteAddr
	}

	if sizer, ok := cfg.Conn.(bufferSizer); ok {
		if err := sizer.SetReadBuffer(cfg.MaxBufferSize); err != nil {
			return nil, fmt.Errorf("set receive buffer: %w", err)
		}

		if err := sizer.SetWriteBuffer(cfg.MaxBufferSize); err != nil {
			return nil, fmt.Errorf("set send buffer: %w", err)
		}
	}

	queueSize := cfg.DeliveryQueueSize
	if queueSize <= 0 {
		queueSize = DefaultDeliveryQueueSize
	}

	remote := addr.String()
	return &Connection{
		id:             cfg.ID,
		conn:           cfg.Conn,
		remoteAddr:     remote,
		buffer:         make([]byte, cfg.MaxBufferSize),
		writeTimeout:   cfg.WriteTimeout,
		onMessage:      cfg.OnMessage,
		onDisconnected: cfg.OnDisconnected,
		logger: logger.OrNop(cfg.Logger).With(
			logger.Field{Key: "connection_id", Value: cfg.ID},
			logger.Field{Key: "remote_addr", Value: remote},
		),
		queue: make(chan []byte, queueSize),
	}, nil
}

// ID returns the identifier assigned at construction.
func (c *Connection) ID() uint32 {
	return c.id
}

// RemoteAddr returns the peer address captured at construction.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Connected reports whether the socket is still open.
func (c *Connection) Connected() bool {
	return !c.closed.Load()
}

// Start begins reading. Only the first call has an effect.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		go c.deliverLoop()
		go c.readLoop()
	})
}

// Send writes data to the peer. Sends on a closed connection and empty sends
// do nothing and return nil. Concurrent sends are serialized. A failed write
// is logged and returned but does not close the connection; the read side
// detects the disconnect.
//
// Parameters:
//   - data: The bytes to write; not retained
//
// Returns:
//   - nil on success or no-op, otherwise an error wrapping ErrSendFailed
func (c *Connection) Send(data []byte) error {
	if len(data) == 0 || !c.Connected() {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.Connected() {
		return nil
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.logger.Error("failed to set write deadline", logger.Field{Key: "error", Value: err})
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	if _, err := c.conn.Write(data); err != nil {
		c.logger.Error("failed to send", logger.Field{Key: "error", Value: err}, logger.Field{Key: "size", Value: len(data)})
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.logger.Debug("sent", logger.Field{Key: "size", Value: len(data)})
	return nil
}

// SendBuffer sends the first p.Length() bytes of p.
func (c *Connection) SendBuffer(p Payload) error {
	if p == nil {
		return nil
	}

	b := p.Bytes()
	if n := p.Length(); n < len(b) {
		b = b[:n]
	}

	return c.Send(b)
}

// Close shuts the socket down. Once started, the read loop then runs the
// usual disconnect path, so the DisconnectHandler still fires exactly once.
// Safe to call repeatedly.
func (c *Connection) Close() error {
	return c.closeSocket()
}

func (c *Connection) readLoop() {
	defer close(c.queue)

	for {
		n, err := c.conn.Read(c.buffer)
		if n > 0 {
			data := make([]byte, n)
			copy(data, c.buffer[:n])
			c.queue <- data
		}

		if err == nil && n > 0 {
			continue
		}

		switch {
		case err == nil, errors.Is(err, io.EOF):
			c.logger.Info("peer closed connection")
		case c.closed.Load():
			c.logger.Debug("read stopped after local close", logger.Field{Key: "error", Value: err})
		default:
			c.logger.Warn("read failed", logger.Field{Key: "error", Value: err})
		}

		if cerr := c.closeSocket(); cerr != nil {
			c.logger.Error("failed to close socket", logger.Field{Key: "error", Value: cerr})
		}

		return
	}
}

// deliverLoop runs handlers in read order, then reports the disconnect once
// the reader has stopped and every pending read was delivered.
func (c *Connection) deliverLoop() {
	for data := range c.queue {
		c.onMessage(c, data)
	}

	c.logger.Info("disconnected")
	c.onDisconnected(c.id)
}

func (c *Connection) closeSocket() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})

	return err
}
