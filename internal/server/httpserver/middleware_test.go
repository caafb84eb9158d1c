package httpserver

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/docsync-go/internal/auth"
	"github.com/yndnr/docsync-go/internal/telemetry/logger"
	"github.com/yndnr/docsync-go/internal/telemetry/metric"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testAdminKeys(t *testing.T, keys ...string) *auth.AdminKeys {
	t.Helper()
	hashes := make([]string, 0, len(keys))
	for _, k := range keys {
		h, err := auth.HashAdminKey(k)
		if err != nil {
			t.Fatalf("HashAdminKey() error = %v", err)
		}
		hashes = append(hashes, h)
	}
	return auth.NewAdminKeys(hashes, time.Minute)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler(), mark("a"), mark("b"), mark("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("order = %v", order)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(seen, "req-") || w.Header().Get(HeaderRequestID) != seen {
		t.Errorf("generated id = %q, header = %q", seen, w.Header().Get(HeaderRequestID))
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, "client-1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen != "client-1" || w.Header().Get(HeaderRequestID) != "client-1" {
		t.Errorf("propagated id = %q", seen)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := metric.New(metric.NewRegistry())

	mux := http.NewServeMux()
	mux.Handle("GET /missing/{id}", Chain(http.NotFoundHandler(), AccessLog(log, metrics)))
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing/7", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "WARN" || entry["status"] != float64(404) || entry["path"] != "/missing/7" {
		t.Errorf("entry = %v", entry)
	}
	got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(http.MethodGet, "GET /missing/{id}", "404"))
	if got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
}

func TestAccessLog_KeepsHijacker(t *testing.T) {
	var hijackable bool
	h := AccessLog(slog.Default(), metric.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hijackable = w.(http.Hijacker)
	}))
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !hijackable {
		t.Error("wrapped writer lost http.Hijacker")
	}
}

func TestRecover(t *testing.T) {
	h := Recover(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError || w.Header().Get("X-Error-Code") != "DS-SYS-5000" {
		t.Errorf("got %d %q", w.Code, w.Header().Get("X-Error-Code"))
	}
}

func TestAdminAuth(t *testing.T) {
	keys := testAdminKeys(t, "admin-key-1")

	tests := []struct {
		name     string
		keys     *auth.AdminKeys
		header   string
		value    string
		want     int
		wantCode string
	}{
		{"bearer", keys, "Authorization", "Bearer admin-key-1", http.StatusOK, ""},
		{"header", keys, "X-Admin-Key", "admin-key-1", http.StatusOK, ""},
		{"missing", keys, "", "", http.StatusUnauthorized, "DS-AUTH-4010"},
		{"wrong", keys, "Authorization", "Bearer nope", http.StatusUnauthorized, "DS-AUTH-4011"},
		{"disabled", auth.NewAdminKeys(nil, 0), "Authorization", "Bearer admin-key-1", http.StatusForbidden, "DS-AUTH-4030"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/admin/v1/rooms", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			AdminAuth(tt.keys)(okHandler()).ServeHTTP(w, r)
			if w.Code != tt.want || w.Header().Get("X-Error-Code") != tt.wantCode {
				t.Errorf("got %d %q, want %d %q", w.Code, w.Header().Get("X-Error-Code"), tt.want, tt.wantCode)
			}
		})
	}
}

func TestMetricsAuth(t *testing.T) {
	keys := testAdminKeys(t, "admin-key-1")

	w := httptest.NewRecorder()
	MetricsAuth(keys, true)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("public metrics = %d", w.Code)
	}

	w = httptest.NewRecorder()
	MetricsAuth(keys, false)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("protected metrics without key = %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Header.Set("Authorization", "Bearer admin-key-1")
	w = httptest.NewRecorder()
	MetricsAuth(keys, false)(okHandler()).ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("protected metrics with key = %d", w.Code)
	}
}

func TestNetworkACL(t *testing.T) {
	acl := NetworkACL(&NetworkACLConfig{AllowList: []string{"10.0.0.0/8", "192.168.1.5", "::1", "not-an-ip"}})

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       int
	}{
		{"cidr", "10.2.3.4:5000", "", http.StatusOK},
		{"single", "192.168.1.5:5000", "", http.StatusOK},
		{"ipv6 loopback", "[::1]:5000", "", http.StatusOK},
		{"ipv4 mapped", "[::ffff:10.0.0.1]:5000", "", http.StatusOK},
		{"outside", "172.16.0.1:5000", "", http.StatusForbidden},
		{"forwarded", "172.16.0.1:5000", "10.9.9.9, 172.16.0.1", http.StatusOK},
		{"garbage", "nonsense", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/admin/v1/rooms", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			w := httptest.NewRecorder()
			acl(okHandler()).ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// an empty list does not restrict
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:1"
	NetworkACL(&NetworkACLConfig{})(okHandler()).ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("empty allowlist status = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler())

	r := httptest.NewRequest(http.MethodOptions, "/admin/v1/rooms", nil)
	r.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}

	r = httptest.NewRequest(http.MethodGet, "/admin/v1/rooms", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("CORS headers set for an unlisted origin")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"remote addr", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"ipv6", "[::1]:1234", nil, "::1"},
		{"xff", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "1.2.3.4"},
		{"real ip", "10.0.0.1:1234", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
		{"no port", "10.0.0.1", nil, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
