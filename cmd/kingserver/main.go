// Command kingserver runs a TCP echo server: every chunk a client sends is
// written back to that client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/cyberinferno/kingnet/config"
	"github.com/cyberinferno/kingnet/connection"
	"github.com/cyberinferno/kingnet/logger"
	"github.com/cyberinferno/kingnet/message"
	"github.com/cyberinferno/kingnet/tcpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := newServer(cfg, log)
	return server.Serve(ctx)
}

func newLogger(cfg config.Config) (logger.Logger, error) {
	if cfg.LogDir != "" {
		return logger.NewZerologFileLogger(cfg.Name, cfg.LogDir, cfg.LogLevel)
	}

	return logger.NewZerologLogger(zerolog.New(os.Stdout), cfg.Name, cfg.LogLevel), nil
}

// welcomeNameLength is the fixed width of the server name in a welcome frame.
const welcomeNameLength = 16

// welcomeFrame is sent once to every new connection: the frame length as a
// uint16, the connection id as a uint32, then the server name padded to
// welcomeNameLength bytes. All integers are little endian.
func welcomeFrame(id uint32, name string) *message.Buffer {
	b := message.NewBuffer()
	b.WriteUint16(2 + 4 + welcomeNameLength)
	b.WriteUint32(id)
	b.WriteFixedString(name, welcomeNameLength)
	return b
}

func newServer(cfg config.Config, log logger.Logger) *tcpserver.TCPServer {
	server := &tcpserver.TCPServer{
		Logger:             log,
		Name:               cfg.Name,
		Addr:               cfg.Addr,
		MaxBufferSize:      cfg.MaxBufferSize,
		MaxConnections:     cfg.MaxConnections,
		WriteTimeout:       cfg.WriteTimeout,
		EvictOnSendFailure: true,
		OnDisconnected: func(id uint32) {
			log.Info("client removed", logger.Field{Key: "connection_id", Value: id})
		},
	}

	server.OnConnected = func(c *connection.Connection) {
		if err := c.SendBuffer(welcomeFrame(c.ID(), cfg.Name)); err != nil {
			log.Warn("welcome failed", logger.Field{Key: "connection_id", Value: c.ID()}, logger.Field{Key: "error", Value: err})
		}
	}

	server.OnMessage = func(c *connection.Connection, data []byte) {
		log.Debug("received", logger.Field{Key: "connection_id", Value: c.ID()}, logger.Field{Key: "size", Value: len(data)})
		if err := server.Send(c.ID(), data); err != nil {
			log.Warn("echo failed", logger.Field{Key: "connection_id", Value: c.ID()}, logger.Field{Key: "error", Value: err})
		}
	}

	return server
}
