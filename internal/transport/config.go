package transport

import "time"

// Config bounds what a single client connection may cost the server.
type Config struct {
	MaxMessageBytes   int64
	MessagesPerSecond int
	PingInterval      time.Duration
	PongWait          time.Duration
	WriteTimeout      time.Duration
	SendQueue         int

	// AllowedOrigins is compared against the Origin header. Empty allows all.
	AllowedOrigins []string
}

func (c Config) WithDefaults() Config {
	out := c
	if out.MaxMessageBytes <= 0 {
		out.MaxMessageBytes = 64 << 10
	}
	if out.MessagesPerSecond <= 0 {
		out.MessagesPerSecond = 50
	}
	if out.PongWait <= 0 {
		out.PongWait = 60 * time.Second
	}
	if out.PingInterval <= 0 || out.PingInterval >= out.PongWait {
		out.PingInterval = out.PongWait * 9 / 10
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.SendQueue <= 0 {
		out.SendQueue = 64
	}
	return out
}
