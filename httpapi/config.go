package httpapi

import "time"

// Config defines the HTTP and event-channel settings.
type Config struct {
	Addr             string
	BasePath         string
	AllowedOrigins   []string
	HistorySize      int
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration

	// ShutdownTimeout bounds how long open requests may run after shutdown starts.
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultShutdownTimeout  = 5 * time.Second
	defaultReadHeader       = 10 * time.Second
	maxFrameBytes           = 1 << 20
)

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = defaultReadHeader
	}
	return c
}
