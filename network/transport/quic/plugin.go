package quic

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/netclient/network/transport"
	"github.com/linchenxuan/netclient/plugin"
)

type factory struct{}

var _ plugin.Factory = (*factory)(nil)

// NewFactory creates a QUIC transport plugin factory.
func NewFactory() plugin.Factory {
	return &factory{}
}

// Type returns the plugin type.
func (f *factory) Type() plugin.Type {
	return plugin.Transport
}

// Name returns the factory name used by plugin config.
func (f *factory) Name() string {
	return "quic"
}

// ConfigType returns the config type for mapstructure decoding.
func (f *factory) ConfigType() any {
	return &Config{}
}

// Setup validates the config and returns a Provider.
func (f *factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*Config)
	if !ok {
		return nil, errors.New("quic setup failed: invalid config type")
	}
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("quic setup failed: %w", err)
	}
	return p, nil
}

// Destroy closes every Impl the provider handed out.
func (f *factory) Destroy(p plugin.Plugin) {
	if pr, ok := p.(*Provider); ok && pr != nil {
		pr.closeAll()
	}
}

var _ transport.Provider = (*Provider)(nil)
