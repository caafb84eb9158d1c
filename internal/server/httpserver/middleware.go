package httpserver

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/docsync-go/internal/auth"
	"github.com/yndnr/docsync-go/internal/telemetry/logger"
	"github.com/yndnr/docsync-go/internal/telemetry/metric"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together. The first one runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID adds a unique request ID to each request. A well-formed id
// sent by the client is kept.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" || len(requestID) > 128 {
				requestID = "req-" + ulid.Make().String()
				r.Header.Set(HeaderRequestID, requestID)
			}
			w.Header().Set(HeaderRequestID, requestID)

			ctx := logger.WithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLog logs every request and counts it by route and status.
// httpsnoop keeps the optional interfaces of w, so WebSocket upgrades
// still find their http.Hijacker.
func AccessLog(log *slog.Logger, metrics *metric.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(m.Code)).Inc()

			level := slog.LevelDebug
			switch {
			case m.Code >= 500:
				level = slog.LevelError
			case m.Code >= 400:
				level = slog.LevelWarn
			}
			log.LogAttrs(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", m.Code),
				slog.Int64("bytes", m.Written),
				slog.Duration("duration", m.Duration),
				slog.String("client_ip", getClientIP(r)),
			)
		})
	}
}

// Recover recovers from panics and returns 500 error.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.ErrorContext(r.Context(), "panic recovered",
						"error", err,
						"path", r.URL.Path,
					)
					writeAuthError(w, "DS-SYS-5000", "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuth requires a valid admin key, sent as "Authorization: Bearer
// <key>" or in the X-Admin-Key header. Without configured keys the admin
// API is closed on this listener.
func AdminAuth(keys *auth.AdminKeys) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !keys.Enabled() {
				writeAuthError(w, "DS-AUTH-4030", "admin API is only served on the local socket")
				return
			}
			key := extractAdminKey(r)
			if key == "" {
				writeAuthError(w, "DS-AUTH-4010", "admin key not provided")
				return
			}
			if !keys.Verify(key) {
				writeAuthError(w, "DS-AUTH-4011", "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MetricsAuth guards /metrics with the admin keys unless public is set.
func MetricsAuth(keys *auth.AdminKeys, public bool) Middleware {
	return func(next http.Handler) http.Handler {
		if public {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAdminKey(r)
			if key == "" || !keys.Verify(key) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NetworkACLConfig holds configuration for network ACL middleware.
type NetworkACLConfig struct {
	// AllowList is the list of allowed IP/CIDR entries.
	// Empty list means no restriction.
	AllowList []string

	// Logger for logging denied requests.
	Logger *slog.Logger
}

// NetworkACL creates a middleware that checks client IP against an allowlist.
func NetworkACL(cfg *NetworkACLConfig) Middleware {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var prefixes []netip.Prefix
	for _, entry := range cfg.AllowList {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				log.Warn("invalid CIDR in allowlist", "entry", entry, "error", err)
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			log.Warn("invalid IP in allowlist", "entry", entry, "error", err)
			continue
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return func(next http.Handler) http.Handler {
		if len(prefixes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)
			addr, err := netip.ParseAddr(clientIP)
			if err != nil {
				writeAuthError(w, "DS-AUTH-4031", "invalid client IP")
				return
			}
			addr = addr.Unmap()
			for _, p := range prefixes {
				if p.Contains(addr) {
					next.ServeHTTP(w, r)
					return
				}
			}

			log.WarnContext(r.Context(), "request denied by network ACL",
				"client_ip", clientIP,
				"path", r.URL.Path,
			)
			writeAuthError(w, "DS-AUTH-4031", "IP not in allowlist")
		})
	}
}

// extractAdminKey reads the admin key from the request headers.
func extractAdminKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.Header.Get("X-Admin-Key")
}

// CORS adds Cross-Origin Resource Sharing headers for the listed origins.
// "*" allows any origin. An empty list adds no headers.
func CORS(allowedOrigins []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key, X-Request-ID, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes an error response for requests rejected before
// reaching a handler.
func writeAuthError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)

	status := http.StatusUnauthorized
	switch {
	case strings.Contains(code, "-403"):
		status = http.StatusForbidden
	case strings.HasSuffix(code, "-4290"):
		status = http.StatusTooManyRequests
	case strings.Contains(code, "-5"):
		status = http.StatusInternalServerError
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// net.SplitHostPort handles IPv6 addresses like [::1]:8080
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
