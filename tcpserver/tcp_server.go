// Package tcpserver accepts TCP connections, gives each one an id and routes
// sends to connections by id.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/kingnet/connection"
	"github.com/cyberinferno/kingnet/logger"
)

const (
	// DefaultMaxBufferSize is used when MaxBufferSize is not set.
	DefaultMaxBufferSize = 4096
	// DefaultMaxConnections is used when MaxConnections is not set.
	DefaultMaxConnections = math.MaxUint16

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ErrUnknownConnection is returned when no connection has the requested id.
var ErrUnknownConnection = errors.New("unknown connection")

// TCPServer accepts connections on Addr and wraps each one in a
// connection.Connection registered under a unique id. Handlers run on the
// connection's own goroutine: calls for one connection never overlap, calls
// for different connections may run concurrently.
type TCPServer struct {
	Logger logger.Logger
	Name   string
	Addr   string
	// MaxBufferSize sizes every connection's receive buffer and socket buffers.
	MaxBufferSize int
	// MaxConnections caps concurrently registered connections; extra sockets
	// are closed right after accept.
	MaxConnections uint32
	WriteTimeout   time.Duration
	// EvictOnSendFailure closes a connection whose Send failed.
	EvictOnSendFailure bool

	OnConnected    func(c *connection.Connection)
	OnMessage      connection.MessageHandler
	OnDisconnected connection.DisconnectHandler

	Running atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	registry atomic.Pointer[Registry]
	loopWg   sync.WaitGroup
	connWg   sync.WaitGroup
}

// Start binds to Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	go func() {
		if err := s.acceptLoop(ln); err != nil {
			s.Logger.Error(fmt.Sprintf("%s server accept loop stopped", s.Name), logger.Field{Key: "error", Value: err})
		}
	}()

	return nil
}

// Serve binds to Addr and accepts connections until ctx is done or the
// server is stopped, then stops the server.
//
// Parameters:
//   - ctx: Stopping context
//
// Returns:
//   - An error if listening fails or the accept loop stops unexpectedly
func (s *TCPServer) Serve(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return s.acceptLoop(ln)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-done:
		}

		s.Stop()
		return nil
	})

	return g.Wait()
}

// Stop closes the listener, closes every connection and waits until all
// disconnect handlers have returned. Safe to call when the server is not
// running; must not be called from a connection handler.
func (s *TCPServer) Stop() {
	if !s.Running.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	s.loopWg.Wait()

	if r := s.registry.Load(); r != nil {
		for _, c := range r.Connections() {
			_ = c.Close()
		}
	}

	s.connWg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// ListenAddr returns the bound address, or nil before Start.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Get returns the live connection registered under id.
//
// Parameters:
//   - id: The connection ID to look up
//
// Returns:
//   - The connection and true if found, or nil and false otherwise
func (s *TCPServer) Get(id uint32) (*connection.Connection, bool) {
	r := s.registry.Load()
	if r == nil {
		return nil, false
	}

	return r.Get(id)
}

// Len returns the number of registered connections.
func (s *TCPServer) Len() int {
	r := s.registry.Load()
	if r == nil {
		return 0
	}

	return r.Len()
}

// IDs returns the registered connection ids in ascending order.
func (s *TCPServer) IDs() []uint32 {
	r := s.registry.Load()
	if r == nil {
		return nil
	}

	return r.IDs()
}

// Send writes data to the connection registered under id.
//
// Parameters:
//   - id: The target connection
//   - data: The bytes to send
//
// Returns:
//   - An error wrapping ErrUnknownConnection if id is not registered, or the
//     send error. With EvictOnSendFailure the failed connection is closed.
func (s *TCPServer) Send(id uint32, data []byte) error {
	c, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}

	return s.send(c, data)
}

// Broadcast sends data to every registered connection.
//
// Returns:
//   - The joined send errors, or nil if every send succeeded
func (s *TCPServer) Broadcast(data []byte) error {
	r := s.registry.Load()
	if r == nil {
		return nil
	}

	var errs []error
	for _, c := range r.Connections() {
		if err := s.send(c, data); err != nil {
			errs = append(errs, fmt.Errorf("connection %d: %w", c.ID(), err))
		}
	}

	return errors.Join(errs...)
}

// Disconnect closes the connection registered under id. Its disconnect
// handler runs as for a peer-initiated close.
func (s *TCPServer) Disconnect(id uint32) error {
	c, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}

	return c.Close()
}

func (s *TCPServer) send(c *connection.Connection, data []byte) error {
	err := c.Send(data)
	if err != nil && s.EvictOnSendFailure {
		s.Logger.Warn("evicting connection after send failure", logger.Field{Key: "connection_id", Value: c.ID()})
		_ = c.Close()
	}

	return err
}

func (s *TCPServer) listen() (net.Listener, error) {
	if s.Logger == nil {
		s.Logger = logger.NewNopLogger()
	}

	if !s.Running.CompareAndSwap(false, true) {
		s.Logger.Error("server already running")
		return nil, fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Running.Store(false)
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return nil, fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	maxConnections := s.MaxConnections
	if maxConnections == 0 {
		maxConnections = DefaultMaxConnections
	}

	s.registry.Store(NewRegistry(maxConnections))

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.loopWg.Add(1)
	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	return ln, nil
}

// acceptLoop accepts sockets until the listener is closed. Accept errors
// while running are retried with a growing delay.
func (s *TCPServer) acceptLoop(ln net.Listener) error {
	defer s.loopWg.Done()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.Running.Load() {
				return nil
			}

			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%s server listener closed: %w", s.Name, err)
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err}, logger.Field{Key: "retry_in", Value: delay.String()})
			time.Sleep(delay)
			continue
		}

		delay = 0
		s.handleConn(conn)
	}
}

func (s *TCPServer) handleConn(conn net.Conn) {
	registry := s.registry.Load()

	ticket, err := registry.Reserve()
	if err != nil {
		s.Logger.Warn("too many connections", logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()})
		_ = conn.Close()
		return
	}

	bufferSize := s.MaxBufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultMaxBufferSize
	}

	c, err := connection.New(connection.Config{
		ID:             ticket.ID,
		Conn:           conn,
		OnMessage:      s.dispatchMessage,
		OnDisconnected: func(uint32) { s.handleDisconnect(registry, ticket) },
		MaxBufferSize:  bufferSize,
		WriteTimeout:   s.WriteTimeout,
		Logger:         s.Logger,
	})
	if err != nil {
		registry.Release(ticket)
		_ = conn.Close()
		s.Logger.Error("failed to set up connection", logger.Field{Key: "error", Value: err}, logger.Field{Key: "connection_id", Value: ticket.ID})
		return
	}

	registry.Attach(ticket, c)
	s.connWg.Add(1)
	s.Logger.Info("client connected", logger.Field{Key: "connection_id", Value: c.ID()}, logger.Field{Key: "remote_addr", Value: c.RemoteAddr()})

	if s.OnConnected != nil {
		s.OnConnected(c)
	}

	c.Start()
}

func (s *TCPServer) dispatchMessage(c *connection.Connection, data []byte) {
	if s.OnMessage != nil {
		s.OnMessage(c, data)
	}
}

func (s *TCPServer) handleDisconnect(registry *Registry, ticket Ticket) {
	defer s.connWg.Done()

	// The id stays reserved until the handler returns, so no new connection
	// is announced under it before the application has seen this disconnect.
	registry.Detach(ticket)
	if s.OnDisconnected != nil {
		s.OnDisconnected(ticket.ID)
	}
	registry.Release(ticket)
}
