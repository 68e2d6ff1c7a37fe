package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/kingnet/config"
	"github.com/cyberinferno/kingnet/logger"
)

func TestNewServer_echoes(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"

	server := newServer(cfg, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- server.Serve(ctx) }()

	require.Eventually(t, func() bool { return server.ListenAddr() != nil }, 2*time.Second, 5*time.Millisecond)

	conn, err := net.Dial("tcp", server.ListenAddr().String())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	welcome := make([]byte, 2+4+welcomeNameLength)
	_, err = io.ReadFull(conn, welcome)
	require.NoError(t, err)
	assert.Equal(t, welcomeFrame(1, cfg.Name).Bytes(), welcome)

	_, err = conn.Write([]byte("king"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "king", string(buf))

	cancel()
	assert.NoError(t, <-result)
}

func TestWelcomeFrame(t *testing.T) {
	frame := welcomeFrame(7, "kingserver").Bytes()

	require.Len(t, frame, 22)
	assert.Equal(t, uint16(22), binary.LittleEndian.Uint16(frame[0:2]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(frame[2:6]))
	assert.Equal(t, "kingserver", string(bytes.TrimRight(frame[6:], "\x00")))

	long := welcomeFrame(1, "a-server-name-longer-than-sixteen").Bytes()
	assert.Len(t, long, 22)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()

	l, err := newLogger(cfg)
	require.NoError(t, err)
	assert.NoError(t, l.Close())

	cfg.LogDir = t.TempDir()
	l, err = newLogger(cfg)
	require.NoError(t, err)
	l.Info("to file")
	assert.NoError(t, l.Close())
}
