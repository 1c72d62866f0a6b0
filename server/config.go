package server

import "time"

const (
	defaultAddr          = ":8080"
	defaultPingInterval  = 30 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultReadLimit     = 1 << 20
	defaultSendBuffer    = 256
	defaultShutdownGrace = 15 * time.Second
)

// Config holds HTTP and WebSocket transport settings.
type Config struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty"`
	// PingInterval paces WebSocket keepalive pings.
	PingInterval time.Duration `json:"ping_interval,omitempty"`
	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`
	// ReadLimit caps an inbound WebSocket message, in bytes.
	ReadLimit int64 `json:"read_limit,omitempty"`
	// ShutdownGrace bounds how long Shutdown waits for in-flight requests.
	ShutdownGrace time.Duration `json:"shutdown_grace,omitempty"`
}

// DefaultConfig returns the standard transport settings.
func DefaultConfig() Config {
	return Config{
		Addr:          defaultAddr,
		PingInterval:  defaultPingInterval,
		WriteTimeout:  defaultWriteTimeout,
		ReadLimit:     defaultReadLimit,
		ShutdownGrace: defaultShutdownGrace,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.PingInterval > 0 {
		c.PingInterval = source.PingInterval
	}
	if source.WriteTimeout > 0 {
		c.WriteTimeout = source.WriteTimeout
	}
	if source.ReadLimit > 0 {
		c.ReadLimit = source.ReadLimit
	}
	if source.ShutdownGrace > 0 {
		c.ShutdownGrace = source.ShutdownGrace
	}
}
