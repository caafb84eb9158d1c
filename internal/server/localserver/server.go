package localserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Server is the local management server.
type Server struct {
	path     string
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
	logger   *slog.Logger
}

// New creates a local server for handler on socketPath.
func New(socketPath string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		path: socketPath,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "localserver"),
	}
}

// Listen creates the socket. A stale socket file left by a crashed server
// is replaced; a socket another server still answers on is not.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := removeStale(s.path); err != nil {
		return err
	}
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		l.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = l
	return nil
}

// Addr returns the socket path.
func (s *Server) Addr() string { return s.path }

// Serve serves requests until Shutdown. Listen must have succeeded.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("localserver: Serve called before Listen")
	}
	s.running.Store(true)
	s.logger.Info("local admin socket listening", "path", s.path)
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) || !s.running.Load() {
		return nil
	}
	return err
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting connections, waits for active requests and
// removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)
	err := s.server.Shutdown(ctx)
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if c, err := net.DialTimeout("unix", path, time.Second); err == nil {
		c.Close()
		return fmt.Errorf("%s is in use by another server", path)
	}
	return os.Remove(path)
}
