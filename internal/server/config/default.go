package config

import (
	"time"

	"github.com/yndnr/docsync-go/internal/room"
	"github.com/yndnr/docsync-go/internal/session"
	"github.com/yndnr/docsync-go/internal/storage"
)

// Default configuration values.
const (
	DefaultHTTPAddr          = "127.0.0.1:7070"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second

	DefaultStorageDSN = "badger:///var/lib/docsync-server/data"

	DefaultRedisChannelPrefix = "docsync:doc:"
	DefaultRedisHealth        = 2 * time.Second
	DefaultGossipPort         = 7946

	DefaultAdminKeyCacheTTL = time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	rc := room.DefaultConfig()
	sc := session.DefaultConfig()
	ac := storage.DefaultAdapterConfig()
	bc := storage.DefaultBadgerConfig("")

	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:              DefaultHTTPAddr,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
			},
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Room: RoomSection{
			DebounceInterval: rc.DebounceInterval,
			MaxDebounceDelay: rc.MaxDebounceDelay,
			GracePeriod:      rc.GracePeriod,
			AwarenessTimeout: rc.AwarenessTimeout,
			SaveTimeout:      rc.SaveTimeout,
			PublishTimeout:   rc.PublishTimeout,
			MailboxSize:      rc.MailboxSize,
			OutboxSize:       rc.OutboxSize,
			ShardCount:       rc.ShardCount,
		},
		Session: SessionSection{
			HandshakeTimeout:  sc.HandshakeTimeout,
			HeartbeatInterval: sc.HeartbeatInterval,
			MissedHeartbeats:  sc.MissedHeartbeats,
			MaxPayloadSize:    sc.MaxPayloadSize,
			SendQueueSize:     sc.SendQueueSize,
			UpdateRate:        sc.UpdateRate,
			UpdateBurst:       sc.UpdateBurst,
			WriteTimeout:      sc.WriteTimeout,
			JoinTimeout:       sc.JoinTimeout,
		},
		Storage: StorageSection{
			DSN:            DefaultStorageDSN,
			OpTimeout:      ac.OpTimeout,
			MaxAttempts:    ac.MaxAttempts,
			InitialBackoff: ac.InitialBackoff,
			MaxBackoff:     ac.MaxBackoff,
			Badger: BadgerSection{
				GCInterval:       bc.GCInterval,
				GCThreshold:      bc.GCThreshold,
				CacheSize:        bc.CacheSize,
				ValueLogFileSize: bc.ValueLogFileSize,
				SyncWrites:       bc.SyncWrites,
			},
		},
		Relay: RelaySection{
			Backend: RelayLocal,
			Redis: RedisSection{
				ChannelPrefix:  DefaultRedisChannelPrefix,
				HealthInterval: DefaultRedisHealth,
			},
			Gossip: GossipSection{
				BindAddr: "0.0.0.0",
				BindPort: DefaultGossipPort,
			},
		},
		Auth: AuthSection{
			Mode:             AuthNone,
			AdminKeyCacheTTL: DefaultAdminKeyCacheTTL,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
