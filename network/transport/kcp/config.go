package kcp

import "errors"

// Config holds the settings of a KCP transport instance.
type Config struct {
	Tag              string `mapstructure:"tag"`              // Instance name; "default" is picked when none is configured.
	ConnectTimeoutMs int    `mapstructure:"connectTimeoutMs"` // Time allowed for the server to acknowledge the connect frame.
	PingIntervalMs   int    `mapstructure:"pingIntervalMs"`   // Interval between ping frames.
	PollIntervalMs   int    `mapstructure:"pollIntervalMs"`   // Interval at which the outgoing route queue is polled.
	SendRate         int    `mapstructure:"sendRate"`         // Routed packets per second, 0 for unlimited.
	NoDelay          int    `mapstructure:"noDelay"`          // KCP nodelay flag.
	Interval         int    `mapstructure:"interval"`         // KCP internal update interval in milliseconds.
	Resend           int    `mapstructure:"resend"`           // KCP fast resend trigger.
	NoCongestion     int    `mapstructure:"noCongestion"`     // 1 disables KCP congestion control.
	SndWnd           int    `mapstructure:"sndWnd"`           // Send window in packets.
	RcvWnd           int    `mapstructure:"rcvWnd"`           // Receive window in packets.
	MTU              int    `mapstructure:"mtu"`              // Maximum transmission unit.
	DataShards       int    `mapstructure:"dataShards"`       // FEC data shards, 0 disables FEC.
	ParityShards     int    `mapstructure:"parityShards"`     // FEC parity shards.
}

// GetName returns the configuration key for Config.
func (c *Config) GetName() string {
	return "kcp"
}

// Validate fills in defaults and rejects impossible values.
func (c *Config) Validate() error {
	if c.ConnectTimeoutMs <= 0 {
		c.ConnectTimeoutMs = 10000
	}
	if c.PingIntervalMs <= 0 {
		c.PingIntervalMs = 1000
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 10
	}
	if c.Interval <= 0 {
		c.Interval = 10
	}
	if c.SndWnd <= 0 {
		c.SndWnd = 128
	}
	if c.RcvWnd <= 0 {
		c.RcvWnd = 128
	}
	if c.MTU <= 0 {
		c.MTU = 1400
	}
	if c.MTU < 50 || c.MTU > 1500 {
		return errors.New("mtu must be within [50, 1500]")
	}
	if c.DataShards < 0 || c.ParityShards < 0 {
		return errors.New("fec shards cannot be negative")
	}
	if c.SendRate < 0 {
		return errors.New("sendRate cannot be negative")
	}
	return nil
}
