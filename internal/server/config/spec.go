package config

import "time"

// ServerConfig is the root configuration for docsync-server.
type ServerConfig struct {
	Server  ServerSection  `koanf:"server"`
	Room    RoomSection    `koanf:"room"`
	Session SessionSection `koanf:"session"`
	Storage StorageSection `koanf:"storage"`
	Relay   RelaySection   `koanf:"relay"`
	Auth    AuthSection    `koanf:"auth"`
	Log     LogSection     `koanf:"log"`
}

// ServerSection configures listeners and process lifecycle.
type ServerSection struct {
	// InstanceID names this process on the relay. Generated when empty.
	InstanceID string `koanf:"instance_id"`

	HTTP  HTTPConfig  `koanf:"http"`
	Local LocalConfig `koanf:"local"`

	// ShutdownTimeout bounds the graceful shutdown, final room flushes
	// included.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	TLSCertFile       string        `koanf:"tls_cert_file"`
	TLSKeyFile        string        `koanf:"tls_key_file"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	// AllowedOrigins restricts the Origin of WebSocket upgrades. Empty
	// allows same-origin requests only; "*" allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// LocalConfig configures the local management socket. The admin API is
// served on it without a key; file permissions control access.
type LocalConfig struct {
	Path string `koanf:"path"`
}

// RoomSection configures room lifecycle and persistence timing.
type RoomSection struct {
	DebounceInterval time.Duration `koanf:"debounce_interval"`
	MaxDebounceDelay time.Duration `koanf:"max_debounce_delay"`
	GracePeriod      time.Duration `koanf:"grace_period"`
	AwarenessTimeout time.Duration `koanf:"awareness_timeout"`
	SaveTimeout      time.Duration `koanf:"save_timeout"`
	PublishTimeout   time.Duration `koanf:"publish_timeout"`
	MailboxSize      int           `koanf:"mailbox_size"`
	OutboxSize       int           `koanf:"outbox_size"`
	ShardCount       int           `koanf:"shard_count"`
}

// SessionSection configures client connections.
type SessionSection struct {
	HandshakeTimeout  time.Duration `koanf:"handshake_timeout"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	MissedHeartbeats  int           `koanf:"missed_heartbeats"`
	MaxPayloadSize    int           `koanf:"max_payload_size"`
	SendQueueSize     int           `koanf:"send_queue_size"`
	UpdateRate        float64       `koanf:"update_rate"`
	UpdateBurst       int           `koanf:"update_burst"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	JoinTimeout       time.Duration `koanf:"join_timeout"`
}

// StorageSection configures the durable store.
type StorageSection struct {
	// DSN selects the store: memory://, badger:///path or postgres://...
	DSN            string        `koanf:"dsn"`
	OpTimeout      time.Duration `koanf:"op_timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`

	Badger BadgerSection `koanf:"badger"`
}

// BadgerSection tunes the embedded Badger store.
type BadgerSection struct {
	GCInterval       time.Duration `koanf:"gc_interval"`
	GCThreshold      float64       `koanf:"gc_threshold"`
	CacheSize        int64         `koanf:"cache_size"`
	ValueLogFileSize int64         `koanf:"value_log_file_size"`
	SyncWrites       bool          `koanf:"sync_writes"`
}

// Relay backends.
const (
	RelayLocal  = "local"
	RelayRedis  = "redis"
	RelayGossip = "gossip"
)

// RelaySection configures the cross-instance relay.
type RelaySection struct {
	// Backend is local (single instance), redis or gossip.
	Backend string        `koanf:"backend"`
	Redis   RedisSection  `koanf:"redis"`
	Gossip  GossipSection `koanf:"gossip"`
}

// RedisSection configures the Redis pub/sub relay.
type RedisSection struct {
	URL            string        `koanf:"url"`
	ChannelPrefix  string        `koanf:"channel_prefix"`
	HealthInterval time.Duration `koanf:"health_interval"`
	// CAFile is a PEM bundle trusted for rediss:// connections in addition
	// to the system roots.
	CAFile         string        `koanf:"ca_file"`
}

// GossipSection configures the memberlist relay.
type GossipSection struct {
	BindAddr      string   `koanf:"bind_addr"`
	BindPort      int      `koanf:"bind_port"`
	AdvertiseAddr string   `koanf:"advertise_addr"`
	Seeds         []string `koanf:"seeds"`
}

// Auth modes.
const (
	AuthNone  = "none"
	AuthToken = "token"
)

// AuthSection configures access control.
type AuthSection struct {
	// Mode is none (every connection may write) or token.
	Mode string `koanf:"mode"`
	// TokenSecret signs document access tokens in token mode.
	TokenSecret string `koanf:"token_secret"`
	// AdminKeyHashes are Argon2id hashes of the admin API keys. Without
	// any, the admin API is only served on the local socket.
	AdminKeyHashes []string `koanf:"admin_key_hashes"`
	// AdminAllowList restricts admin API clients to these IPs or CIDRs.
	AdminAllowList []string `koanf:"admin_allow_list"`
	// AdminKeyCacheTTL is how long a verified admin key is remembered.
	AdminKeyCacheTTL time.Duration `koanf:"admin_key_cache_ttl"`
	// MetricsPublic serves /metrics without an admin key.
	MetricsPublic bool `koanf:"metrics_public"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
