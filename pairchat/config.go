package pairchat

import "time"

// Config controls how the live channel connects.
type Config struct {
	URL              string
	Token            string // opaque credential forwarded in hello
	User             string // current user's uid
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64 // largest inbound frame; 0 keeps the websocket default

	AutoReconnect     bool
	ReconnectInterval time.Duration // first retry delay, doubled per attempt
	MaxReconnectDelay time.Duration
	MaxReconnectTries int // 0 means retry forever
}

// DefaultConfig returns sensible defaults.
// ReadTimeout is 0 because the relay may stay silent for long stretches.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    64 * 1024,
		AutoReconnect:     true,
		ReconnectInterval: time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Validate checks the fields Connect depends on.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	if c.User == "" {
		return NewError(ErrorInvalidConfig, "empty user")
	}
	if c.AutoReconnect && c.ReconnectInterval <= 0 {
		return NewError(ErrorInvalidConfig, "reconnect interval must be positive")
	}
	return nil
}

// reconnectDelay returns the wait before the given attempt (0-based).
func (c Config) reconnectDelay(attempt int) time.Duration {
	d := c.ReconnectInterval
	for i := 0; i < attempt; i++ {
		d *= 2
		if c.MaxReconnectDelay > 0 && d >= c.MaxReconnectDelay {
			return c.MaxReconnectDelay
		}
	}
	if c.MaxReconnectDelay > 0 && d > c.MaxReconnectDelay {
		return c.MaxReconnectDelay
	}
	return d
}
