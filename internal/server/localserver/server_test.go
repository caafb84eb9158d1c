package localserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// socketPath returns a short socket path; sun_path is limited to 108 bytes.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ds")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "admin.sock")
}

func unixClient(path string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
		Timeout: 5 * time.Second,
	}
}

func startServer(t *testing.T, path string) (*Server, <-chan error) {
	t.Helper()
	s := New(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "rooms")
	}), slog.Default())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	return s, done
}

func TestServer_ServeAndShutdown(t *testing.T) {
	path := socketPath(t)
	s, done := startServer(t, path)

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	resp, err := unixClient(path).Get("http://local/admin/v1/rooms")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "rooms" {
		t.Errorf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file still present: %v", err)
	}
}

func TestServer_ReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	// keep the file but stop answering, like a crashed server
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close()

	s, done := startServer(t, path)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		<-done
	}()
	if _, err := unixClient(path).Get("http://local/"); err != nil {
		t.Errorf("GET after stale socket error = %v", err)
	}
}

func TestServer_RefusesLiveSocketAndFiles(t *testing.T) {
	path := socketPath(t)
	first, done := startServer(t, path)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = first.Shutdown(ctx)
		<-done
	}()

	err := New(path, http.NotFoundHandler(), nil).Listen()
	if err == nil || !strings.Contains(err.Error(), "in use") {
		t.Errorf("Listen() on a live socket error = %v", err)
	}

	file := filepath.Join(filepath.Dir(path), "plain")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	err = New(file, http.NotFoundHandler(), nil).Listen()
	if err == nil || !strings.Contains(err.Error(), "not a socket") {
		t.Errorf("Listen() on a regular file error = %v", err)
	}
}

func TestServer_ServeBeforeListen(t *testing.T) {
	if err := New(socketPath(t), http.NotFoundHandler(), nil).Serve(); err == nil {
		t.Error("Serve() before Listen() succeeded")
	}
}
