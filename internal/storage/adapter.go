package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// AdapterConfig bounds the time spent on one persistence call.
type AdapterConfig struct {
	// OpTimeout bounds a single store call.
	OpTimeout time.Duration
	// MaxAttempts bounds the calls made for one Load or Save.
	MaxAttempts int
	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
}

// DefaultAdapterConfig returns the default retry policy.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		OpTimeout:      5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Adapter is the persistence entry point used by rooms.
//
// Transient store failures are retried with exponential backoff a bounded
// number of times and then reported as domain.ErrPersistenceUnavailable.
// Conflicts and corrupt snapshots are returned at once; retrying them
// blindly cannot succeed.
type Adapter struct {
	store  Store
	cfg    AdapterConfig
	logger *slog.Logger
}

// NewAdapter wraps store.
func NewAdapter(store Store, cfg AdapterConfig, logger *slog.Logger) *Adapter {
	def := DefaultAdapterConfig()
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{store: store, cfg: cfg, logger: logger}
}

// Load returns the latest verified record, or nil for a new document.
func (a *Adapter) Load(ctx context.Context, documentID string) (*domain.PersistenceRecord, error) {
	var rec *domain.PersistenceRecord
	err := a.retry(ctx, "load", documentID, func(ctx context.Context) error {
		var err error
		rec, err = a.store.Load(ctx, documentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := Verify(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Save writes a snapshot over expectedVersion and returns the new version.
func (a *Adapter) Save(ctx context.Context, documentID string, snapshot []byte, expectedVersion uint64) (uint64, error) {
	var version uint64
	err := a.retry(ctx, "save", documentID, func(ctx context.Context) error {
		var err error
		version, err = a.store.Save(ctx, documentID, snapshot, expectedVersion)
		return err
	})
	return version, err
}

// Store returns the wrapped store.
func (a *Adapter) Store() Store {
	return a.store
}

// Close closes the wrapped store.
func (a *Adapter) Close() error {
	return a.store.Close()
}

func (a *Adapter) retry(ctx context.Context, op, documentID string, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.cfg.InitialBackoff
	eb.MaxInterval = a.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		opCtx, cancel := context.WithTimeout(ctx, a.cfg.OpTimeout)
		defer cancel()

		err := fn(opCtx)
		if err != nil && final(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		a.logger.Warn("persistence call failed, retrying",
			"op", op,
			"document_id", documentID,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	})
	if err == nil || final(err) {
		return err
	}
	return domain.ErrPersistenceUnavailable.WithCause(err).WithDetails(op + " " + documentID)
}

func final(err error) bool {
	return errors.Is(err, domain.ErrPersistenceConflict) || errors.Is(err, domain.ErrSnapshotCorrupt)
}
