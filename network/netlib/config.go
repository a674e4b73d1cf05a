package netlib

import (
	"errors"
	"time"
)

// Config holds the session manager settings.
type Config struct {
	TimeoutSec           int    `mapstructure:"timeoutSec"`           // Inbound silence after which the session is reported as timed out.
	MaxReconnectAttempts int    `mapstructure:"maxReconnectAttempts"` // In-game reconnect attempts before giving up.
	ReconnectIntervalMs  int    `mapstructure:"reconnectIntervalMs"`  // Minimum spacing of reconnect attempts.
	ReconnectBurst       int    `mapstructure:"reconnectBurst"`       // Attempts allowed back to back.
	Protocol             uint32 `mapstructure:"protocol"`             // Protocol version announced during the handshake.
	PlayerName           string `mapstructure:"playerName"`
	Transport            string `mapstructure:"transport"`            // Tag of the transport plugin to use.
	EventTimeoutMs       int    `mapstructure:"eventTimeoutMs"`       // Subscribers slower than this are logged.
}

// GetName returns the configuration key for Config.
func (c *Config) GetName() string {
	return "netlib"
}

// Validate fills in defaults and rejects impossible values.
func (c *Config) Validate() error {
	if c.TimeoutSec < 0 || c.MaxReconnectAttempts < 0 || c.ReconnectIntervalMs < 0 || c.ReconnectBurst < 0 {
		return errors.New("netlib settings cannot be negative")
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 30
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectIntervalMs == 0 {
		c.ReconnectIntervalMs = 2000
	}
	if c.ReconnectBurst == 0 {
		c.ReconnectBurst = 1
	}
	if c.Transport == "" {
		c.Transport = "default"
	}
	if c.EventTimeoutMs == 0 {
		c.EventTimeoutMs = 50
	}
	return nil
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
