// Package netclient assembles a ready to use client: logger, plugins, the
// transport, the handshake, the server history and the NetLibrary itself.
package netclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linchenxuan/netclient/config"
	"github.com/linchenxuan/netclient/event"
	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/metrics"
	"github.com/linchenxuan/netclient/network/handshake"
	"github.com/linchenxuan/netclient/network/netlib"
	"github.com/linchenxuan/netclient/network/transport"
	"github.com/linchenxuan/netclient/network/transport/kcp"
	"github.com/linchenxuan/netclient/network/transport/quic"
	"github.com/linchenxuan/netclient/plugin"
	"github.com/linchenxuan/netclient/runtime"
	"github.com/linchenxuan/netclient/storage/history"
)

// ErrNoHistory is returned by ConnectToLast when nothing was recorded.
var ErrNoHistory = errors.New("netclient: no previous server")

// NetClient holds the client components.
type NetClient struct {
	Logger        *log.GameLogger
	PluginManager *plugin.Manager
	Publisher     *event.Publisher
	Identity      *runtime.Identity
	// History is nil when disabled in the configuration.
	History *history.Store
	Library *netlib.NetLibrary
}

// NewNetClient builds a client from cfg. A nil cfg uses config.Default.
func NewNetClient(cfg *config.ClientCfg) (*NetClient, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := log.Initialize(cfg.Log); err != nil {
		return nil, fmt.Errorf("init log: %w", err)
	}

	c := &NetClient{
		Logger:        log.Default(),
		PluginManager: plugin.NewManager(),
		Publisher:     event.NewPublisher(),
		Identity:      runtime.NewIdentity(),
	}
	c.PluginManager.RegisterFactory(kcp.NewFactory())
	c.PluginManager.RegisterFactory(quic.NewFactory())
	c.PluginManager.RegisterFactory(&metrics.PrometheusFactory{})

	if err := c.PluginManager.SetupPlugins(cfg.Plugin); err != nil {
		c.PluginManager.Close()
		return nil, err
	}

	provider, err := c.transportProvider(cfg.NetLib.Transport)
	if err != nil {
		c.Stop()
		return nil, err
	}

	hs, err := handshake.NewHTTPHandshaker(cfg.Handshake, nil)
	if err != nil {
		c.Stop()
		return nil, err
	}

	if cfg.History.Enable {
		if c.History, err = history.Open(cfg.History); err != nil {
			c.Stop()
			return nil, err
		}
		c.Publisher.EnsureTopics(time.Duration(cfg.NetLib.EventTimeoutMs)*time.Millisecond, netlib.TopicConnectOK)
		if err := c.Publisher.RegisterSubscriber(netlib.TopicConnectOK, c.recordServer); err != nil {
			c.Stop()
			return nil, err
		}
	}

	c.Library, err = netlib.Create(netlib.Options{
		Config:     cfg.NetLib,
		Provider:   provider,
		Handshaker: hs,
		Publisher:  c.Publisher,
		Identity:   c.Identity,
	})
	if err != nil {
		c.Stop()
		return nil, err
	}

	c.Logger.Info().Uint64("guid", c.Identity.GUID()).Str("transport", provider.Name()).
		Bool("history", c.History != nil).Msg("net client initialized")
	return c, nil
}

func (c *NetClient) transportProvider(tag string) (transport.Provider, error) {
	ins, err := c.PluginManager.GetPlugin(plugin.Transport, tag)
	if err != nil {
		return nil, err
	}
	p, ok := ins.(transport.Provider)
	if !ok {
		return nil, fmt.Errorf("transport plugin %q is %T, not a provider", tag, ins)
	}
	return p, nil
}

func (c *NetClient) recordServer(payload any) {
	ok, isOK := payload.(netlib.ConnectOK)
	if !isOK {
		return
	}
	if err := c.History.Record(ok.Server.String(), ok.RootURL, time.Now()); err != nil {
		log.Warn().Str("server", ok.Server.String()).Err(err).Msg("record server history")
	}
}

// ConnectToLast connects to the root URL of the most recently joined server.
func (c *NetClient) ConnectToLast(ctx context.Context) (*netlib.ConnectTask, error) {
	if c.History == nil {
		return nil, ErrNoHistory
	}
	last, found, err := c.History.Last()
	if err != nil {
		return nil, err
	}
	if !found || last.RootURL == "" {
		return nil, ErrNoHistory
	}
	return c.Library.ConnectToServer(ctx, last.RootURL)
}

// Stop disconnects and releases every component. It is safe to call on a
// partially built client.
func (c *NetClient) Stop() {
	if c.Library != nil {
		if err := c.Library.Close(); err != nil {
			log.Warn().Err(err).Msg("close net library")
		}
	}
	if c.History != nil {
		if err := c.History.Close(); err != nil {
			log.Warn().Err(err).Msg("close server history")
		}
	}
	c.PluginManager.Close()
	c.Logger.Info().Msg("net client stopped")
	log.Refresh()
}
