package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allVars = []string{EnvName, EnvAddr, EnvMaxBufferSize, EnvMaxConnections, EnvWriteTimeout, EnvLogLevel, EnvLogDir}

// clearEnv unsets every KING_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestFromEnv_defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnv_overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvName, "lobby")
	t.Setenv(EnvAddr, "127.0.0.1:9000")
	t.Setenv(EnvMaxBufferSize, "1024")
	t.Setenv(EnvMaxConnections, "10")
	t.Setenv(EnvWriteTimeout, "3s")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogDir, "/tmp/king")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Config{
		Name:           "lobby",
		Addr:           "127.0.0.1:9000",
		MaxBufferSize:  1024,
		MaxConnections: 10,
		WriteTimeout:   3 * time.Second,
		LogLevel:       zerolog.DebugLevel,
		LogDir:         "/tmp/king",
	}, cfg)
}

func TestFromEnv_invalid(t *testing.T) {
	cases := map[string]string{
		EnvMaxBufferSize:  "0",
		EnvMaxConnections: "-1",
		EnvWriteTimeout:   "soon",
		EnvLogLevel:       "loud",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := FromEnv()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestLoad_envFile(t *testing.T) {
	clearEnv(t)

	file := filepath.Join(t.TempDir(), "king.env")
	require.NoError(t, os.WriteFile(file, []byte("KING_ADDR=:8000\nKING_MAX_BUFFER_SIZE=512\n"), 0644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, 512, cfg.MaxBufferSize)
}

func TestLoad_existingVariableWins(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAddr, ":9999")

	file := filepath.Join(t.TempDir(), "king.env")
	require.NoError(t, os.WriteFile(file, []byte("KING_ADDR=:8000\n"), 0644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
}

func TestLoad_missingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestLoad_noDefaultFile(t *testing.T) {
	clearEnv(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
