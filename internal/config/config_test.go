package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Ports(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Telnet.Enabled)
	assert.Equal(t, "127.0.0.1:4000", cfg.Telnet.Addr())
	assert.Equal(t, "0.0.0.0:4001", cfg.SSH.Addr())
	assert.Equal(t, "127.0.0.1:4002", cfg.TelnetTLS.Addr())
	assert.Equal(t, "127.0.0.1:8989", cfg.Backend.Addr())
	assert.Equal(t, time.Hour, cfg.Telnet.IdleTimeout)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	data := []byte(`
debug: true
telnet:
  port: 5000
backend:
  secret: s3cret
  softboot_command: ["./engine", "-softboot"]
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, 5000, cfg.Telnet.Port)
	assert.Equal(t, "s3cret", cfg.Backend.Secret)
	assert.Equal(t, []string{"./engine", "-softboot"}, cfg.Backend.SoftbootCommand)

	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Telnet.BindAddress)
	assert.Equal(t, 4001, cfg.SSH.Port)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telnet: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
