// Package postgres implements persistence.Store using PostgreSQL, for
// the Standard deployment profile. Grounded on the teacher's
// internal/config.PostgreSQLConfigStorage (version-stamped snapshot
// history via RETURNING, transactional saves) and
// internal/database.RunMigrations (goose.SetDialect + goose.Up against
// an embedded migrations filesystem rather than a path on disk, since
// the binary should not depend on its working directory to find them).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vitaliisemenov/llm-key-proxy/internal/persistence"
	"github.com/vitaliisemenov/llm-key-proxy/internal/stats"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
)

// Store implements persistence.Store over a Postgres connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ persistence.Store = (*Store)(nil)

// Open connects to Postgres via dsn, runs pending goose migrations
// against the embedded schema, and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	if err := goose.SetBaseFS(migrationsFS); err != nil {
		return fmt.Errorf("failed to set goose migrations filesystem: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveStatsSnapshot implements persistence.Store.
func (s *Store) SaveStatsSnapshot(ctx context.Context, snap stats.Snapshot) (int64, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var version int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO stats_snapshots (snapshot) VALUES ($1) RETURNING version`,
		body,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to save stats snapshot: %w", err)
	}
	return version, nil
}

// LatestStatsSnapshot implements persistence.Store.
func (s *Store) LatestStatsSnapshot(ctx context.Context) (persistence.StatsSnapshotRecord, bool, error) {
	var version int64
	var body []byte
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT version, snapshot, created_at FROM stats_snapshots ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &body, &createdAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return persistence.StatsSnapshotRecord{}, false, nil
		}
		return persistence.StatsSnapshotRecord{}, false, fmt.Errorf("failed to load latest stats snapshot: %w", err)
	}

	var snap stats.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return persistence.StatsSnapshotRecord{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return persistence.StatsSnapshotRecord{Version: version, Snapshot: snap, CreatedAt: createdAt}, true, nil
}

// ArchiveTraces implements persistence.Store.
func (s *Store) ArchiveTraces(ctx context.Context, traces []tracer.Trace) error {
	if len(traces) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range traces {
		var endTime *time.Time
		if !t.EndTime.IsZero() {
			e := t.EndTime
			endTime = &e
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO trace_archive (trace_id, request_id, start_time, end_time, succeeded, attempts)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (trace_id) DO UPDATE SET
				end_time = EXCLUDED.end_time,
				succeeded = EXCLUDED.succeeded,
				attempts = EXCLUDED.attempts
		`, t.TraceID, t.RequestID, t.StartTime, endTime, t.Succeeded(), len(t.Attempts))
		if err != nil {
			return fmt.Errorf("failed to archive trace %s: %w", t.TraceID, err)
		}
	}

	return tx.Commit(ctx)
}

// RecentTraces implements persistence.Store.
func (s *Store) RecentTraces(ctx context.Context, limit int) ([]persistence.TraceRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT trace_id, request_id, start_time, end_time, succeeded, attempts
		FROM trace_archive
		ORDER BY start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace archive: %w", err)
	}
	defer rows.Close()

	records := make([]persistence.TraceRecord, 0, limit)
	for rows.Next() {
		var r persistence.TraceRecord
		var endTime *time.Time
		if err := rows.Scan(&r.TraceID, &r.RequestID, &r.StartTime, &endTime, &r.Succeeded, &r.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan trace record: %w", err)
		}
		if endTime != nil {
			r.EndTime = *endTime
		}
		records = append(records, r)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating trace archive rows: %w", rows.Err())
	}
	return records, nil
}

// Health implements persistence.Store.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements persistence.Store. Idempotent.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

