package session

import (
	"fmt"
	"time"
)

// Config holds connection limits and timings.
type Config struct {
	// HandshakeTimeout bounds the wait for the first frame.
	HandshakeTimeout time.Duration
	// HeartbeatInterval is how often the server sends a heartbeat.
	HeartbeatInterval time.Duration
	// MissedHeartbeats is how many intervals may pass without any inbound
	// frame before the session is closed.
	MissedHeartbeats int
	// MaxPayloadSize caps the payload of one inbound frame.
	MaxPayloadSize int
	// SendQueueSize caps the frames waiting to be written to the peer.
	SendQueueSize int
	// UpdateRate and UpdateBurst shape inbound update frames.
	UpdateRate  float64
	UpdateBurst int
	// WriteTimeout bounds one frame write.
	WriteTimeout time.Duration
	// JoinTimeout bounds room hydration for a new session.
	JoinTimeout time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		MissedHeartbeats:  3,
		MaxPayloadSize:    1 << 20,
		SendQueueSize:     256,
		UpdateRate:        100,
		UpdateBurst:       200,
		WriteTimeout:      10 * time.Second,
		JoinTimeout:       15 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.HandshakeTimeout <= 0, c.HeartbeatInterval <= 0, c.WriteTimeout <= 0, c.JoinTimeout <= 0:
		return fmt.Errorf("session: timeouts must be positive")
	case c.MissedHeartbeats < 1:
		return fmt.Errorf("session: missed heartbeats must be at least 1")
	case c.MaxPayloadSize < 1:
		return fmt.Errorf("session: max payload size must be positive")
	case c.SendQueueSize < 1:
		return fmt.Errorf("session: send queue size must be positive")
	case c.UpdateRate <= 0 || c.UpdateBurst < 1:
		return fmt.Errorf("session: update rate and burst must be positive")
	}
	return nil
}

// idleTimeout is how long a session may stay silent.
func (c Config) idleTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.MissedHeartbeats)
}
