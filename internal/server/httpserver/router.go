package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/docsync-go/internal/auth"
	"github.com/yndnr/docsync-go/internal/server/httpserver/handler"
	"github.com/yndnr/docsync-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves every route.
	Handler *handler.Handler

	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	// Metrics counts requests.
	Metrics *metric.Metrics

	// AdminKeys guard the admin API and, unless MetricsPublic, /metrics.
	AdminKeys *auth.AdminKeys

	// AdminAllowList is the IP/CIDR allowlist for admin API (empty = no restriction).
	AdminAllowList []string

	// MetricsPublic serves /metrics without an admin key.
	MetricsPublic bool

	// CORSAllowedOrigins is the list of allowed CORS origins for the admin API.
	CORSAllowedOrigins []string

	// Logger for request logging.
	Logger *slog.Logger
}

// NewRouter creates the public router: sync, probes, metrics and the
// key-protected admin API.
func NewRouter(cfg *RouterConfig) http.Handler {
	log, metrics := cfg.Logger, cfg.Metrics
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = metric.NewNop()
	}
	keys := cfg.AdminKeys
	if keys == nil {
		keys = auth.NewAdminKeys(nil, 0)
	}
	h := cfg.Handler

	// Order: RequestID -> AccessLog -> Recover -> route specific -> Handler
	base := []Middleware{RequestID(), AccessLog(log, metrics), Recover(log)}
	with := func(extra ...Middleware) http.Handler {
		return Chain(h, append(append([]Middleware(nil), base...), extra...)...)
	}

	mux := http.NewServeMux()

	// Health endpoints - no authentication required
	probes := with()
	mux.Handle("GET /health", probes)
	mux.Handle("GET /ready", probes)

	// Sync endpoint - the session handshake carries the access token
	mux.Handle("GET /v1/documents/{id}/sync", with())

	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", Chain(metric.Handler(cfg.Gatherer),
			append(append([]Middleware(nil), base...), MetricsAuth(keys, cfg.MetricsPublic))...))
	}

	// Admin API endpoints - admin key + optional network ACL
	adminMiddlewares := []Middleware{CORS(cfg.CORSAllowedOrigins)}
	if len(cfg.AdminAllowList) > 0 {
		adminMiddlewares = append(adminMiddlewares, NetworkACL(&NetworkACLConfig{
			AllowList: cfg.AdminAllowList,
			Logger:    log,
		}))
	}
	adminMiddlewares = append(adminMiddlewares, AdminAuth(keys))
	admin := with(adminMiddlewares...)

	mux.Handle("GET /admin/v1/status", admin)
	mux.Handle("GET /admin/v1/rooms", admin)
	mux.Handle("GET /admin/v1/rooms/{id}", admin)
	mux.Handle("POST /admin/v1/rooms/{id}/flush", admin)
	mux.Handle("GET /admin/v1/rooms/{id}/snapshot", admin)
	mux.Handle("OPTIONS /admin/v1/", admin)

	return mux
}

// NewLocalRouter creates the router of the local management socket: the
// admin API and probes without key checks. Access to the socket file is
// the only control.
func NewLocalRouter(h *handler.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	chained := Chain(h, RequestID(), Recover(log))

	mux := http.NewServeMux()
	mux.Handle("GET /health", chained)
	mux.Handle("GET /ready", chained)
	mux.Handle("GET /admin/v1/status", chained)
	mux.Handle("GET /admin/v1/rooms", chained)
	mux.Handle("GET /admin/v1/rooms/{id}", chained)
	mux.Handle("POST /admin/v1/rooms/{id}/flush", chained)
	mux.Handle("GET /admin/v1/rooms/{id}/snapshot", chained)
	return mux
}
