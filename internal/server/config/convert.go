package config

import (
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/docsync-go/internal/relay"
	"github.com/yndnr/docsync-go/internal/room"
	"github.com/yndnr/docsync-go/internal/session"
	"github.com/yndnr/docsync-go/internal/storage"
)

// InstanceID returns the configured instance id, generating one if empty.
// The generated id is stored back so later calls agree.
func (c *ServerConfig) InstanceID() string {
	if c.Server.InstanceID == "" {
		c.Server.InstanceID = "ds-" + ulid.Make().String()
	}
	return c.Server.InstanceID
}

// RoomConfig maps the room section onto room.Config.
func (c *ServerConfig) RoomConfig() room.Config {
	s := c.Room
	return room.Config{
		InstanceID:       c.InstanceID(),
		DebounceInterval: s.DebounceInterval,
		MaxDebounceDelay: s.MaxDebounceDelay,
		GracePeriod:      s.GracePeriod,
		AwarenessTimeout: s.AwarenessTimeout,
		SaveTimeout:      s.SaveTimeout,
		PublishTimeout:   s.PublishTimeout,
		MailboxSize:      s.MailboxSize,
		OutboxSize:       s.OutboxSize,
		ShardCount:       s.ShardCount,
	}
}

// SessionConfig maps the session section onto session.Config.
func (c *ServerConfig) SessionConfig() session.Config {
	s := c.Session
	return session.Config{
		HandshakeTimeout:  s.HandshakeTimeout,
		HeartbeatInterval: s.HeartbeatInterval,
		MissedHeartbeats:  s.MissedHeartbeats,
		MaxPayloadSize:    s.MaxPayloadSize,
		SendQueueSize:     s.SendQueueSize,
		UpdateRate:        s.UpdateRate,
		UpdateBurst:       s.UpdateBurst,
		WriteTimeout:      s.WriteTimeout,
		JoinTimeout:       s.JoinTimeout,
	}
}

// AdapterConfig maps the storage retry settings onto storage.AdapterConfig.
func (c *ServerConfig) AdapterConfig() storage.AdapterConfig {
	s := c.Storage
	return storage.AdapterConfig{
		OpTimeout:      s.OpTimeout,
		MaxAttempts:    s.MaxAttempts,
		InitialBackoff: s.InitialBackoff,
		MaxBackoff:     s.MaxBackoff,
	}
}

// BadgerConfig maps the badger section onto storage.BadgerConfig. The
// directory comes from the DSN.
func (c *ServerConfig) BadgerConfig() storage.BadgerConfig {
	b := c.Storage.Badger
	return storage.BadgerConfig{
		GCInterval:       b.GCInterval,
		GCThreshold:      b.GCThreshold,
		CacheSize:        b.CacheSize,
		ValueLogFileSize: b.ValueLogFileSize,
		SyncWrites:       b.SyncWrites,
	}
}

// RedisConfig maps the redis relay section.
func (c *ServerConfig) RedisConfig() relay.RedisConfig {
	r := c.Relay.Redis
	return relay.RedisConfig{
		URL:            r.URL,
		ChannelPrefix:  r.ChannelPrefix,
		HealthInterval: r.HealthInterval,
	}
}

// GossipConfig maps the gossip relay section.
func (c *ServerConfig) GossipConfig() relay.GossipConfig {
	g := c.Relay.Gossip
	return relay.GossipConfig{
		BindAddr:      g.BindAddr,
		BindPort:      g.BindPort,
		AdvertiseAddr: g.AdvertiseAddr,
		Seeds:         g.Seeds,
	}
}
