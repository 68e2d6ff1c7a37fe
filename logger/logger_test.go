package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLogger_writesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "kingnet", zerolog.DebugLevel)

	l.With(Field{Key: "connection_id", Value: 7}).Info("connected", Field{Key: "remote_addr", Value: "1.2.3.4:5"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kingnet", entry["service"])
	assert.Equal(t, "connected", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 7, entry["connection_id"])
	assert.Equal(t, "1.2.3.4:5", entry["remote_addr"])
}

func TestZerologLogger_filtersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "kingnet", zerolog.WarnLevel)

	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Error("nothing", Field{Key: "k", Value: "v"})
	assert.NoError(t, l.Close())
	assert.NotNil(t, OrNop(nil))
	assert.Same(t, l, OrNop(l))
}

func TestZerologFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	l, err := NewZerologFileLogger("kingserver", dir, zerolog.InfoLevel)
	require.NoError(t, err)

	l.Info("hello file")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	name := filepath.Join(dir, "kingserver_"+time.Now().Format(dateLayout)+".log")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestDailyFileWriter_rotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyFileWriter("svc", dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	day := time.Date(2026, 1, 2, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "svc_2026-01-02.log"), w.CurrentLogFile())

	day = day.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "svc_2026-01-03.log"), w.CurrentLogFile())

	data, err := os.ReadFile(filepath.Join(dir, "svc_2026-01-03.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))
}

func TestDailyFileWriter_writeAfterClose(t *testing.T) {
	w, err := NewDailyFileWriter("svc", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	assert.Error(t, err)
	assert.Empty(t, w.CurrentLogFile())
}
