package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docsync"

// Metrics holds all application metrics.
type Metrics struct {
	reg prometheus.Registerer

	// Room metrics
	Rooms       *prometheus.GaugeVec
	RoomsOpened prometheus.Counter
	RoomsClosed *prometheus.CounterVec
	RoomsDirty  prometheus.Gauge

	// Session metrics
	Sessions       prometheus.Gauge
	SessionsClosed *prometheus.CounterVec

	// Sync metrics
	Updates   *prometheus.CounterVec
	Awareness *prometheus.CounterVec

	// Persistence metrics
	PersistSaves    *prometheus.CounterVec
	PersistLoads    *prometheus.CounterVec
	PersistDuration *prometheus.HistogramVec

	// Relay metrics
	RelayReceived      *prometheus.CounterVec
	RelayPublishErrors *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		Rooms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Open rooms by lifecycle phase",
		}, []string{"phase"}),
		RoomsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_opened_total",
			Help:      "Rooms created",
		}),
		RoomsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_closed_total",
			Help:      "Rooms closed by reason",
		}, []string{"reason"}),
		RoomsDirty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_dirty",
			Help:      "Rooms holding changes not yet persisted",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Connected sessions",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions closed by reason",
		}, []string{"reason"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Document updates by source (local, remote) and result (applied, noop, corrupt)",
		}, []string{"source", "result"}),
		Awareness: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "awareness_updates_total",
			Help:      "Awareness updates by source",
		}, []string{"source"}),
		PersistSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "saves_total",
			Help:      "Snapshot saves by result (ok, conflict, error)",
		}, []string{"result"}),
		PersistLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "loads_total",
			Help:      "Snapshot loads by result (found, missing, error)",
		}, []string{"result"}),
		PersistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "duration_seconds",
			Help:      "Persistence call latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
		RelayReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "received_total",
			Help:      "Relay messages received by kind",
		}, []string{"kind"}),
		RelayPublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "publish_errors_total",
			Help:      "Failed relay publishes by kind",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(
		m.Rooms, m.RoomsOpened, m.RoomsClosed, m.RoomsDirty,
		m.Sessions, m.SessionsClosed,
		m.Updates, m.Awareness,
		m.PersistSaves, m.PersistLoads, m.PersistDuration,
		m.RelayReceived, m.RelayPublishErrors,
		m.HTTPRequests,
	)
	return m
}

// NewNop returns metrics registered on a private registry, for tests and
// components constructed without metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RegisterRelay exposes relay availability as a gauge.
func (m *Metrics) RegisterRelay(available func() bool) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "available",
		Help:      "1 when the cross-instance relay is usable",
	}, func() float64 {
		if available() {
			return 1
		}
		return 0
	}))
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the /metrics handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
