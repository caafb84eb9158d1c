package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config configures the listener.
type Config struct {
	Addr              string
	// TLS enables HTTPS. Certificates come from TLS.GetCertificate or
	// TLS.Certificates.
	TLS               *tls.Config
	ReadHeaderTimeout time.Duration
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	cfg        Config
}

// New creates a new HTTP server.
func New(cfg Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			TLSConfig:         cfg.TLS,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		cfg: cfg,
	}
}

// ListenAndServe listens on the configured address and serves until
// Shutdown. HTTPS is used when a certificate is configured. A clean
// shutdown returns nil.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	var err error
	if s.cfg.TLS != nil {
		err = s.httpServer.ServeTLS(l, "", "")
	} else {
		err = s.httpServer.Serve(l)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server. Hijacked WebSocket
// connections are not tracked and must be closed separately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
