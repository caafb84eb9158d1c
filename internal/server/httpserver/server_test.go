package httpserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/docsync-go/internal/auth"
	"github.com/yndnr/docsync-go/internal/relay"
	"github.com/yndnr/docsync-go/internal/room"
	"github.com/yndnr/docsync-go/internal/server/httpserver/handler"
	"github.com/yndnr/docsync-go/internal/session"
	"github.com/yndnr/docsync-go/internal/storage"
	"github.com/yndnr/docsync-go/internal/telemetry/metric"
)

func newTestHandler(t *testing.T, metrics *metric.Metrics) *handler.Handler {
	t.Helper()
	rcfg := room.DefaultConfig()
	rcfg.InstanceID = "router-test"
	rl := relay.NewBus().Join(rcfg.InstanceID, slog.Default())
	rooms, err := room.NewManager(rcfg, storage.NewMemoryStore(), rl, slog.Default(), metrics)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	sessions, err := session.NewHandler(session.DefaultConfig(), rooms, auth.AllowAll{}, auth.AllowAll{}, slog.Default(), metrics)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	h := handler.New(handler.Config{Rooms: rooms, Sessions: sessions, RelayAvailable: rl.Available})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rooms.Close(ctx)
		_ = h.CloseSessions(ctx)
		_ = rl.Close()
	})
	return h
}

func TestNewRouter(t *testing.T) {
	reg := metric.NewRegistry()
	metrics := metric.New(reg)
	keys := testAdminKeys(t, "admin-key-1")
	router := NewRouter(&RouterConfig{
		Handler:        newTestHandler(t, metrics),
		Gatherer:       reg,
		Metrics:        metrics,
		AdminKeys:      keys,
		AdminAllowList: []string{"192.0.2.0/24"},
	})

	tests := []struct {
		name   string
		method string
		path   string
		remote string
		key    string
		want   int
	}{
		{"health", http.MethodGet, "/health", "198.51.100.1:1", "", http.StatusOK},
		{"ready", http.MethodGet, "/ready", "198.51.100.1:1", "", http.StatusOK},
		{"metrics without key", http.MethodGet, "/metrics", "198.51.100.1:1", "", http.StatusUnauthorized},
		{"metrics with key", http.MethodGet, "/metrics", "198.51.100.1:1", "admin-key-1", http.StatusOK},
		{"admin outside allowlist", http.MethodGet, "/admin/v1/rooms", "198.51.100.1:1", "admin-key-1", http.StatusForbidden},
		{"admin without key", http.MethodGet, "/admin/v1/rooms", "192.0.2.10:1", "", http.StatusUnauthorized},
		{"admin", http.MethodGet, "/admin/v1/rooms", "192.0.2.10:1", "admin-key-1", http.StatusOK},
		{"admin unknown room", http.MethodGet, "/admin/v1/rooms/nope", "192.0.2.10:1", "admin-key-1", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/admin/v1/rooms", "192.0.2.10:1", "admin-key-1", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/v2/anything", "192.0.2.10:1", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			r.RemoteAddr = tt.remote
			if tt.key != "" {
				r.Header.Set("Authorization", "Bearer "+tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d: %s", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}

	// the metrics endpoint exposes the request counter
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Header.Set("Authorization", "Bearer admin-key-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if !strings.Contains(w.Body.String(), "docsync_http_requests_total") {
		t.Error("/metrics does not expose docsync_http_requests_total")
	}
}

func TestNewLocalRouter(t *testing.T) {
	router := NewLocalRouter(newTestHandler(t, nil), slog.Default())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/v1/rooms", nil))
	if w.Code != http.StatusOK {
		t.Errorf("local admin = %d, want 200 without a key", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/documents/notes/sync", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("sync on local router = %d, want 404", w.Code)
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{ReadHeaderTimeout: time.Second}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}), slog.Default())

	errChan := make(chan error, 1)
	go func() { errChan <- s.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil after Shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for Serve to return")
	}
}

func selfSigned(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestServer_ServeTLS(t *testing.T) {
	cert := selfSigned(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{TLS: &tls.Config{Certificates: []tls.Certificate{cert}}},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, r.Proto)
		}), slog.Default())
	errChan := make(chan error, 1)
	go func() { errChan <- s.Serve(l) }()

	leaf, _ := x509.ParseCertificate(cert.Certificate[0])
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
	resp, err := client.Get("https://" + l.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.TLS == nil {
		t.Error("response not served over TLS")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := <-errChan; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}
