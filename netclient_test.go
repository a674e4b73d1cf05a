package netclient

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/netclient/config"
	"github.com/linchenxuan/netclient/network/netlib"
	"github.com/linchenxuan/netclient/network/transport"
	"github.com/linchenxuan/netclient/plugin"
)

func TestNewNetClientDefault(t *testing.T) {
	c, err := NewNetClient(nil)
	require.NoError(t, err)
	defer c.Stop()

	assert.NotNil(t, c.Logger)
	assert.NotNil(t, c.Library)
	assert.Nil(t, c.History)
	assert.Equal(t, transport.Idle, c.Library.GetConnectionState())
	assert.Equal(t, c.Identity.GUID(), c.Library.GetGUID())

	p, err := c.PluginManager.GetDefaultPlugin(plugin.Transport)
	require.NoError(t, err)
	assert.Equal(t, "kcp", p.(plugin.Plugin).FactoryName())

	_, err = c.ConnectToLast(context.Background())
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestNewNetClientQUIC(t *testing.T) {
	cfg, err := config.Parse([]byte(`
netlib:
  transport: fast
plugin:
  transport:
    quic:
      tag: fast
`))
	require.NoError(t, err)

	c, err := NewNetClient(cfg)
	require.NoError(t, err)
	defer c.Stop()

	p, err := c.PluginManager.GetPlugin(plugin.Transport, "fast")
	require.NoError(t, err)
	assert.Equal(t, "quic", p.(plugin.Plugin).FactoryName())
}

func TestNewNetClientUnknownTransport(t *testing.T) {
	cfg := config.Default()
	cfg.NetLib.Transport = "missing"
	_, err := NewNetClient(cfg)
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestHistoryRecordsConnectOK(t *testing.T) {
	cfg := config.Default()
	cfg.History.Enable = true
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")

	c, err := NewNetClient(cfg)
	require.NoError(t, err)
	defer c.Stop()

	server, err := transport.ParseNetAddress("127.0.0.1:30120")
	require.NoError(t, err)
	require.NoError(t, c.Publisher.Publish(netlib.TopicConnectOK, netlib.ConnectOK{
		Server:  server,
		RootURL: "http://127.0.0.1:30120",
	}))

	last, found, err := c.History.Last()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "127.0.0.1:30120", last.Address)
	assert.Equal(t, "http://127.0.0.1:30120", last.RootURL)
	assert.WithinDuration(t, time.Now(), last.LastConnected, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	task, err := c.ConnectToLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:30120", task.RootURL())
	assert.Error(t, task.Wait(context.Background()))
}
