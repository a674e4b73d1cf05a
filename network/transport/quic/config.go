package quic

import "errors"

// Config holds the settings of a QUIC transport instance.
type Config struct {
	Tag                string `mapstructure:"tag"`                // Instance name; "default" is picked when none is configured.
	ConnectTimeoutMs   int    `mapstructure:"connectTimeoutMs"`   // Time allowed for the QUIC handshake plus the connect acknowledgement.
	PingIntervalMs     int    `mapstructure:"pingIntervalMs"`     // Interval between ping datagrams.
	PollIntervalMs     int    `mapstructure:"pollIntervalMs"`     // Interval at which the outgoing route queue is polled.
	SendRate           int    `mapstructure:"sendRate"`           // Routed packets per second, 0 for unlimited.
	KeepAliveMs        int    `mapstructure:"keepAliveMs"`        // QUIC keep-alive period, 0 disables it.
	MaxIdleTimeoutMs   int    `mapstructure:"maxIdleTimeoutMs"`   // Idle time after which QUIC drops the connection.
	ServerName         string `mapstructure:"serverName"`         // TLS server name, defaults to the dialed host.
	InsecureSkipVerify bool   `mapstructure:"insecureSkipVerify"` // Accept any server certificate.
}

// GetName returns the configuration key for Config.
func (c *Config) GetName() string {
	return "quic"
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
	if c.MaxIdleTimeoutMs <= 0 {
		c.MaxIdleTimeoutMs = 30000
	}
	if c.KeepAliveMs < 0 {
		return errors.New("keepAliveMs cannot be negative")
	}
	if c.KeepAliveMs >= c.MaxIdleTimeoutMs {
		return errors.New("keepAliveMs must be shorter than maxIdleTimeoutMs")
	}
	if c.SendRate < 0 {
		return errors.New("sendRate cannot be negative")
	}
	return nil
}
