package tlsroots

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultSettle is the quiet time after the last file event before the
// key pair is reloaded. Certificate and key are usually written in two
// steps.
const defaultSettle = 500 * time.Millisecond

// CertReloader holds the server certificate and reloads it when its files
// change.
type CertReloader struct {
	certFile string
	keyFile  string
	cert     atomic.Pointer[tls.Certificate]
	watcher  *fsnotify.Watcher
	settle   time.Duration
	logger   *slog.Logger
}

// ReloaderOption configures a CertReloader.
type ReloaderOption func(*CertReloader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ReloaderOption {
	return func(r *CertReloader) {
		r.logger = logger
	}
}

// WithSettle sets the quiet time before a reload.
func WithSettle(d time.Duration) ReloaderOption {
	return func(r *CertReloader) {
		r.settle = d
	}
}

// NewCertReloader loads the key pair and starts watching the directories
// holding it. A pair that cannot be loaded is an error here; later reload
// failures keep the previous certificate.
func NewCertReloader(certFile, keyFile string, opts ...ReloaderOption) (*CertReloader, error) {
	r := &CertReloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		settle:   defaultSettle,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.reload(); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	dirs := []string{filepath.Dir(r.certFile)}
	if d := filepath.Dir(r.keyFile); d != dirs[0] {
		dirs = append(dirs, d)
	}
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return nil, fmt.Errorf("tlsroots: watch %s: %w", d, err)
		}
	}
	r.watcher = fw
	return r, nil
}

// Run reloads the key pair after changes until ctx is done, then releases
// the watcher.
func (r *CertReloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	settle := time.NewTimer(r.settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.watched(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				settle.Reset(r.settle)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("certificate watcher error", "error", err)
		case <-settle.C:
			if err := r.reload(); err != nil {
				r.logger.Error("certificate reload failed, serving the previous certificate",
					"cert_file", r.certFile, "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// watched reports whether name is the certificate, the key, or the
// ..data link Kubernetes swaps when a mounted secret is updated.
func (r *CertReloader) watched(name string) bool {
	name = filepath.Clean(name)
	return name == r.certFile || name == r.keyFile || filepath.Base(name) == "..data"
}

// GetCertificate returns the current certificate. It has the signature of
// tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.cert.Load(), nil
}

// TLSConfig returns a server configuration backed by the reloader.
func (r *CertReloader) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

func (r *CertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	r.cert.Store(&cert)
	r.logger.Info("certificate loaded", "cert_file", r.certFile)
	return nil
}
