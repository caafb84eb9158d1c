package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// DefaultPostgresTable is the table used when the DSN does not name one.
const DefaultPostgresTable = "docsync_documents"

var tableNameRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PostgresStore keeps records in a PostgreSQL table shared by every
// instance. The version column carries the optimistic lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresStore connects to dsn and creates the table if needed.
func NewPostgresStore(ctx context.Context, dsn, table string, logger *slog.Logger) (*PostgresStore, error) {
	if table == "" {
		table = DefaultPostgresTable
	}
	if !tableNameRE.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	s := &PostgresStore{pool: pool, table: table, logger: logger, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres store opened",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"table", table)
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		document_id TEXT PRIMARY KEY,
		snapshot    BYTEA NOT NULL,
		version     BIGINT NOT NULL,
		checksum    BIGINT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`, s.table))
	if err != nil {
		return fmt.Errorf("postgres: create table %s: %w", s.table, err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, documentID string) (*domain.PersistenceRecord, error) {
	rec := &domain.PersistenceRecord{DocumentID: documentID}
	var version, checksum int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT snapshot, version, checksum, updated_at FROM %s WHERE document_id = $1`, s.table),
		documentID,
	).Scan(&rec.Snapshot, &version, &checksum, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load %s: %w", documentID, err)
	}
	rec.Version = uint64(version)
	rec.Checksum = uint64(checksum)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Save implements Store. Version 0 inserts only when no row exists; later
// versions update only the row still holding expectedVersion.
func (s *PostgresStore) Save(ctx context.Context, documentID string, snapshot []byte, expectedVersion uint64) (uint64, error) {
	next := expectedVersion + 1
	checksum := int64(Checksum(snapshot))
	now := s.now().UTC()

	var query string
	var args []any
	if expectedVersion == 0 {
		query = fmt.Sprintf(`INSERT INTO %s (document_id, snapshot, version, checksum, updated_at)
			VALUES ($1, $2, 1, $3, $4)
			ON CONFLICT (document_id) DO NOTHING`, s.table)
		args = []any{documentID, snapshot, checksum, now}
	} else {
		query = fmt.Sprintf(`UPDATE %s SET snapshot = $2, version = $3, checksum = $4, updated_at = $5
			WHERE document_id = $1 AND version = $6`, s.table)
		args = []any{documentID, snapshot, int64(next), checksum, now, int64(expectedVersion)}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: save %s: %w", documentID, err)
	}
	if tag.RowsAffected() == 0 {
		var stored int64
		err := s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT version FROM %s WHERE document_id = $1`, s.table), documentID).Scan(&stored)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrPersistenceConflict.WithCause(err).WithDetails(documentID)
		}
		return 0, conflict(documentID, uint64(stored), expectedVersion)
	}
	return next, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
