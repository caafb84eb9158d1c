package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/yndnr/docsync-go/internal/auth"
	"github.com/yndnr/docsync-go/internal/telemetry/logger"
)

// Verify validates the configuration. All problems are reported together.
func Verify(cfg *ServerConfig) error {
	errs := []error{
		verifyServer(&cfg.Server),
		cfg.RoomConfig().Validate(),
		cfg.SessionConfig().Validate(),
		verifyStorage(&cfg.Storage),
		verifyRelay(&cfg.Relay),
		verifyAuth(&cfg.Auth),
		verifyLog(&cfg.Log),
	}
	return errors.Join(errs...)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	u, err := url.Parse(cfg.DSN)
	if err != nil || cfg.DSN == "" {
		return errors.New("storage.dsn must be a valid URL")
	}
	switch u.Scheme {
	case "memory", "postgres", "postgresql":
	case "badger":
		if u.Host == "" && u.Path == "" {
			return errors.New("storage.dsn: badger needs a directory")
		}
		if cfg.Badger.GCThreshold <= 0 || cfg.Badger.GCThreshold >= 1 {
			return errors.New("storage.badger.gc_threshold must be between 0 and 1")
		}
	default:
		return fmt.Errorf("storage.dsn: unsupported scheme %q", u.Scheme)
	}
	if cfg.OpTimeout <= 0 || cfg.MaxAttempts < 1 || cfg.InitialBackoff <= 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		return errors.New("storage: op_timeout, max_attempts and backoff must be positive with max_backoff >= initial_backoff")
	}
	return nil
}

func verifyRelay(cfg *RelaySection) error {
	switch cfg.Backend {
	case RelayLocal:
	case RelayRedis:
		if cfg.Redis.URL == "" {
			return errors.New("relay.redis.url is required for the redis backend")
		}
		if cfg.Redis.HealthInterval <= 0 {
			return errors.New("relay.redis.health_interval must be positive")
		}
		if cfg.Redis.CAFile != "" && !strings.HasPrefix(cfg.Redis.URL, "rediss://") {
			return errors.New("relay.redis.ca_file needs a rediss:// url")
		}
	case RelayGossip:
		if cfg.Gossip.BindPort < 0 || cfg.Gossip.BindPort > 65535 {
			return errors.New("relay.gossip.bind_port is out of range")
		}
	default:
		return fmt.Errorf("relay.backend: unknown backend %q", cfg.Backend)
	}
	return nil
}

func verifyAuth(cfg *AuthSection) error {
	switch cfg.Mode {
	case AuthNone:
	case AuthToken:
		if len(cfg.TokenSecret) < auth.MinSecretLength {
			return fmt.Errorf("auth.token_secret must be at least %d bytes", auth.MinSecretLength)
		}
	default:
		return fmt.Errorf("auth.mode: unknown mode %q", cfg.Mode)
	}
	for _, entry := range cfg.AdminAllowList {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("auth.admin_allow_list: %q is neither an IP nor a CIDR", entry)
		}
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	if !logger.ValidLevel(cfg.Level) {
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	if !logger.ValidFormat(cfg.Format) {
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}
