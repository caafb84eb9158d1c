package config

import (
	"strconv"
	"strings"

	"github.com/yndnr/docsync-go/internal/storage"
)

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	s := *cfg
	if s.Auth.TokenSecret != "" {
		s.Auth.TokenSecret = maskSecret(s.Auth.TokenSecret)
	}
	if n := len(s.Auth.AdminKeyHashes); n > 0 {
		s.Auth.AdminKeyHashes = []string{"**** (" + strconv.Itoa(n) + " keys)"}
	}
	s.Storage.DSN = storage.Redact(s.Storage.DSN)
	if s.Relay.Redis.URL != "" {
		s.Relay.Redis.URL = storage.Redact(s.Relay.Redis.URL)
	}
	return &s
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
