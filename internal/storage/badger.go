package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// BadgerConfig contains Badger tuning parameters.
type BadgerConfig struct {
	// Dir is the database directory.
	Dir string

	// GCInterval is the interval between automatic value log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the discard ratio that makes a value log file eligible
	// for rewriting (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64

	// SyncWrites fsyncs after each write.
	// Default: true (a saved snapshot must survive a crash)
	SyncWrites bool
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:              dir,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		CacheSize:        64 << 20,
		ValueLogFileSize: 256 << 20,
		SyncWrites:       true,
	}
}

var badgerKeyPrefix = []byte("doc/")

func badgerKey(documentID string) []byte {
	return append(append([]byte(nil), badgerKeyPrefix...), documentID...)
}

// BadgerStore keeps records in an embedded Badger database.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger
	now    func() time.Time

	lastGCTime       atomic.Int64 // Unix milliseconds
	gcBytesReclaimed atomic.Uint64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge

	stopCh   chan struct{}
	doneCh   chan struct{}
	closed   atomic.Bool
}

// NewBadgerStore opens (or creates) a Badger database.
func NewBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.DetectConflicts = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("badger store opened",
		"dir", cfg.Dir,
		"cache_size", cfg.CacheSize,
		"gc_interval", cfg.GCInterval)

	return s, nil
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, documentID string) (*domain.PersistenceRecord, error) {
	var rec *domain.PersistenceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.get(txn, documentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Save implements Store. The version check and the write run in one
// transaction; a concurrent writer makes the commit fail with a conflict.
func (s *BadgerStore) Save(ctx context.Context, documentID string, snapshot []byte, expectedVersion uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	next := expectedVersion + 1
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := s.get(txn, documentID)
		if err != nil {
			return err
		}
		var stored uint64
		if cur != nil {
			stored = cur.Version
		}
		if stored != expectedVersion {
			return conflict(documentID, stored, expectedVersion)
		}
		return txn.Set(badgerKey(documentID), encodeRecord(&domain.PersistenceRecord{
			DocumentID: documentID,
			Snapshot:   snapshot,
			Version:    next,
			UpdatedAt:  s.now().UTC(),
			Checksum:   Checksum(snapshot),
		}))
	})
	if errors.Is(err, badger.ErrConflict) {
		return 0, domain.ErrPersistenceConflict.WithCause(err).WithDetails(documentID + ": concurrent transaction")
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *BadgerStore) get(txn *badger.Txn, documentID string) (*domain.PersistenceRecord, error) {
	item, err := txn.Get(badgerKey(documentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(documentID, value)
	if err != nil {
		return nil, domain.ErrSnapshotCorrupt.WithCause(err).WithDetails(documentID)
	}
	return rec, nil
}

// List calls fn for every stored document id until fn returns false.
func (s *BadgerStore) List(ctx context.Context, fn func(documentID string) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerKeyPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			key := it.Item().Key()
			if !fn(string(key[len(badgerKeyPrefix):])) {
				break
			}
		}
		return nil
	})
}

// GC rewrites value log files until nothing is left to reclaim.
func (s *BadgerStore) GC(ctx context.Context) (int, error) {
	start := time.Now()
	rewrites := 0
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			return rewrites, fmt.Errorf("gc: %w", err)
		}
		rewrites++
	}

	s.lastGCTime.Store(time.Now().UnixMilli())
	s.logger.Debug("badger gc completed",
		"rewrites", rewrites,
		"elapsed", time.Since(start))
	return rewrites, nil
}

// Size returns the LSM and value log sizes in bytes.
func (s *BadgerStore) Size() (lsm, vlog int64) {
	return s.db.Size()
}

// Close stops background work and closes the database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	s.logger.Info("badger store closed")
	return nil
}

// RegisterMetrics registers size gauges with reg and keeps them current.
func (s *BadgerStore) RegisterMetrics(reg prometheus.Registerer) *BadgerStore {
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "docsync",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "docsync",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	s.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "docsync",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})
	reg.MustRegister(s.metricsLSMSize, s.metricsValueLogSize, s.metricsLastGCTime)

	s.updateMetrics()
	go s.metricsUpdateLoop()
	return s
}

func (s *BadgerStore) updateMetrics() {
	lsm, vlog := s.db.Size()
	s.metricsLSMSize.Set(float64(lsm))
	s.metricsValueLogSize.Set(float64(vlog))
	if ms := s.lastGCTime.Load(); ms > 0 {
		s.metricsLastGCTime.Set(float64(ms) / 1000.0)
	}
}

func (s *BadgerStore) metricsUpdateLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateMetrics()
		case <-s.stopCh:
			return
		}
	}
}

func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)

	interval := s.cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("badger auto gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
