package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	a, err := cfg.LocalAddress()
	require.NoError(t, err)
	assert.Equal(t, jaus.NewAddress(1, 1, 1, 1), a)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "jaus.yaml", `
address: 2.3.4.1
log:
  level: DEBUG
  format: json
shm:
  dir: /tmp/jaus-test
  mailbox_size: 65536
  active_threshold: 250ms
  auto_collect: true
network:
  udp_port: 4000
  prefer_tcp: true
reassembly:
  timeout: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "2.3.4.1", cfg.Address)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/jaus-test", cfg.SHM.Dir)
	assert.Equal(t, 65536, cfg.SHM.MailboxSize)
	assert.Equal(t, 250*time.Millisecond, cfg.SHM.ActiveThreshold)
	assert.True(t, cfg.SHM.AutoCollect)
	assert.Equal(t, 4000, cfg.Network.UDPPort)
	assert.Equal(t, 3794, cfg.Network.TCPPort, "unset keys keep defaults")
	assert.True(t, cfg.Network.PreferTCP)
	assert.Equal(t, 2*time.Second, cfg.Reassembly.Timeout)
	assert.Equal(t, time.Millisecond, cfg.SHM.PollInterval)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("JAUS_CONFIG", "")
	t.Setenv("JAUS_LOG_LEVEL", "warn")
	t.Setenv("JAUS_NETWORK_TCP_PORT", "5000")
	t.Setenv("JAUS_SHM_ENABLE", "false")

	path := writeFile(t, "jaus.yaml", "log:\n  level: debug\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 5000, cfg.Network.TCPPort)
	assert.False(t, cfg.SHM.Enable)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("JAUS_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Network, cfg.Network)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "log:\n  level: chatty\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"broadcast address", "address: 1.1.255.1\n"},
		{"malformed address", "address: one.two\n"},
		{"tiny mailbox", "shm:\n  mailbox_size: 100\n"},
		{"bad port", "network:\n  udp_port: 70000\n"},
		{"tiny buffer", "framing:\n  max_buffer: 10\n"},
		{"bad yaml", "log: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "jaus.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	logger := logrus.New()
	path := filepath.Join(t.TempDir(), "logs", "jaus.log")

	closer, err := configure(logger, LogConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	logger.WithFields(logrus.Fields{"function": "TestConfigureLogging"}).Debug("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"function":"TestConfigureLogging"`)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	rotated := filepath.Join(t.TempDir(), "rotated.log")
	closer, err = configure(logger, LogConfig{Level: "info", Output: rotated, Rotation: RotationConfig{Enable: true, MaxSizeMB: 1}})
	require.NoError(t, err)
	logger.Info("rotating")
	require.NoError(t, closer.Close())
	_, err = os.Stat(rotated)
	assert.NoError(t, err)

	_, err = configure(logger, LogConfig{Level: "loud"})
	assert.Error(t, err)
}
