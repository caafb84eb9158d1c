package room

import (
	"fmt"
	"time"
)

// Config controls room lifecycle and persistence timing.
type Config struct {
	// InstanceID identifies this process on the relay.
	InstanceID string

	// DebounceInterval is the quiet period after the last change before the
	// snapshot is saved.
	DebounceInterval time.Duration
	// MaxDebounceDelay bounds how long a change may stay unsaved under a
	// continuous stream of updates.
	MaxDebounceDelay time.Duration
	// GracePeriod is how long an empty room stays open for returning peers.
	GracePeriod time.Duration
	// AwarenessTimeout is how long remote presence survives without a
	// refresh from its origin instance.
	AwarenessTimeout time.Duration

	// SaveTimeout bounds one background save, retries included.
	SaveTimeout time.Duration
	// PublishTimeout bounds one relay publish.
	PublishTimeout time.Duration

	MailboxSize int
	OutboxSize  int
	ShardCount  int
}

// DefaultConfig returns the default room configuration.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 2 * time.Second,
		MaxDebounceDelay: 10 * time.Second,
		GracePeriod:      30 * time.Second,
		AwarenessTimeout: 30 * time.Second,
		SaveTimeout:      30 * time.Second,
		PublishTimeout:   3 * time.Second,
		MailboxSize:      256,
		OutboxSize:       1024,
		ShardCount:       defaultShardCount,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.InstanceID == "":
		return fmt.Errorf("room: instance id is required")
	case c.DebounceInterval <= 0:
		return fmt.Errorf("room: debounce interval must be positive")
	case c.MaxDebounceDelay < c.DebounceInterval:
		return fmt.Errorf("room: max debounce delay %s is shorter than debounce interval %s",
			c.MaxDebounceDelay, c.DebounceInterval)
	case c.GracePeriod < 0:
		return fmt.Errorf("room: grace period must not be negative")
	case c.AwarenessTimeout <= 0:
		return fmt.Errorf("room: awareness timeout must be positive")
	case c.SaveTimeout <= 0 || c.PublishTimeout <= 0:
		return fmt.Errorf("room: timeouts must be positive")
	case c.MailboxSize <= 0 || c.OutboxSize <= 0:
		return fmt.Errorf("room: queue sizes must be positive")
	}
	return nil
}
