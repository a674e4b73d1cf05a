package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/netclient/log"
)

const _sample = `
log:
  level: debug
  consoleAppender: true
  ringBufferKB: 64
  levelChange:
    - file: netlib/netlib.go
      line: 120
      level: trace
netlib:
  timeoutSec: 10
  playerName: alice
  transport: fast
handshake:
  path: connect
history:
  enable: true
  path: /tmp/netclient-history.db
plugin:
  transport:
    quic:
      tag: fast
      serverName: game.example
  metrics:
    prometheus:
      listenAddr: 127.0.0.1:9100
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(_sample))
	require.NoError(t, err)

	assert.Equal(t, log.DebugLevel, cfg.Log.LogLevel)
	assert.Equal(t, 64, cfg.Log.RingBufferKB)
	require.Len(t, cfg.Log.LevelChange, 1)
	assert.Equal(t, log.TraceLevel, cfg.Log.LevelChange[0].LogLevel)

	assert.Equal(t, 10, cfg.NetLib.TimeoutSec)
	assert.Equal(t, 10, cfg.NetLib.MaxReconnectAttempts, "defaults are filled in")
	assert.Equal(t, "alice", cfg.NetLib.PlayerName)
	assert.Equal(t, "fast", cfg.NetLib.Transport)

	assert.Equal(t, "/connect", cfg.Handshake.Path)
	assert.Equal(t, 15, cfg.Handshake.TimeoutSec)
	assert.True(t, cfg.History.Enable)
	assert.Equal(t, 32, cfg.History.MaxItems)

	transports, ok := cfg.Plugin["transport"].(map[string]any)
	require.True(t, ok)
	quic, ok := transports["quic"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fast", quic["tag"])
	assert.NotContains(t, transports, "kcp", "plugin section replaces the default")
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("netlib:\n  protocol: 12\n"))
	require.NoError(t, err)
	assert.Equal(t, uint32(12), cfg.NetLib.Protocol)
	assert.Equal(t, log.InfoLevel, cfg.Log.LogLevel)
	assert.True(t, cfg.Log.ConsoleAppender)
	assert.False(t, cfg.History.Enable)
	assert.Contains(t, cfg.Plugin, "transport")
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "log: [",
		"unknown key":   "netlib:\n  bogus: 1\n",
		"invalid value": "netlib:\n  timeoutSec: -1\n",
		"plugin shape":  "plugin: 3\n",
		"no appender":   "log:\n  consoleAppender: false\n",
		"history path":  "history:\n  enable: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yml")
	require.NoError(t, os.WriteFile(path, []byte(_sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.NetLib.PlayerName)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "default", cfg.NetLib.Transport)

	empty := &ClientCfg{}
	require.NoError(t, empty.Validate())
	assert.NotNil(t, empty.Log)
}

func TestNormalize(t *testing.T) {
	in := map[interface{}]interface{}{
		1: []interface{}{map[interface{}]interface{}{"a": "b"}},
	}
	out := normalize(in).(map[string]any)
	list := out["1"].([]interface{})
	assert.Equal(t, map[string]any{"a": "b"}, list[0])
}
