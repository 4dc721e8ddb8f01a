// Package sqlite implements persistence.Store using an embedded SQLite
// database, for the Lite deployment profile (single node, no external
// dependencies). Grounded on the teacher's internal/storage/sqlite
// package: WAL mode, inline schema creation, and a read/write mutex
// guarding connection lifecycle rather than data (SQLite serializes
// writes itself).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitaliisemenov/llm-key-proxy/internal/persistence"
	"github.com/vitaliisemenov/llm-key-proxy/internal/stats"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
)

const schema = `
CREATE TABLE IF NOT EXISTS stats_snapshots (
	version    INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trace_archive (
	trace_id   TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time   INTEGER,
	succeeded  INTEGER NOT NULL,
	attempts   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trace_archive_start_time ON trace_archive(start_time);
`

// Store implements persistence.Store over a SQLite file.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

var _ persistence.Store = (*Store)(nil)

// Open creates (if needed) and opens the SQLite file at path, enabling
// WAL mode for concurrent reads during writes, then runs the inline
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("invalid path contains '..': %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}

	s := &Store{db: db, path: path}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// SaveStatsSnapshot implements persistence.Store.
func (s *Store) SaveStatsSnapshot(ctx context.Context, snap stats.Snapshot) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO stats_snapshots (snapshot, created_at) VALUES (?, ?)`,
		string(body), time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save stats snapshot: %w", err)
	}
	version, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted version: %w", err)
	}
	return version, nil
}

// LatestStatsSnapshot implements persistence.Store.
func (s *Store) LatestStatsSnapshot(ctx context.Context) (persistence.StatsSnapshotRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int64
	var body string
	var createdAtMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version, snapshot, created_at FROM stats_snapshots ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &body, &createdAtMs)
	if err == sql.ErrNoRows {
		return persistence.StatsSnapshotRecord{}, false, nil
	}
	if err != nil {
		return persistence.StatsSnapshotRecord{}, false, fmt.Errorf("failed to load latest stats snapshot: %w", err)
	}

	var snap stats.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return persistence.StatsSnapshotRecord{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return persistence.StatsSnapshotRecord{
		Version:   version,
		Snapshot:  snap,
		CreatedAt: time.UnixMilli(createdAtMs),
	}, true, nil
}

// ArchiveTraces implements persistence.Store, upserting each trace so a
// retried archive call stays idempotent.
func (s *Store) ArchiveTraces(ctx context.Context, traces []tracer.Trace) error {
	if len(traces) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_archive (trace_id, request_id, start_time, end_time, succeeded, attempts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			end_time = excluded.end_time,
			succeeded = excluded.succeeded,
			attempts = excluded.attempts
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range traces {
		var endTime int64
		if !t.EndTime.IsZero() {
			endTime = t.EndTime.UnixMilli()
		}
		succeeded := 0
		if t.Succeeded() {
			succeeded = 1
		}
		if _, err := stmt.ExecContext(ctx,
			t.TraceID, t.RequestID, t.StartTime.UnixMilli(), endTime, succeeded, len(t.Attempts),
		); err != nil {
			return fmt.Errorf("failed to archive trace %s: %w", t.TraceID, err)
		}
	}

	return tx.Commit()
}

// RecentTraces implements persistence.Store.
func (s *Store) RecentTraces(ctx context.Context, limit int) ([]persistence.TraceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, request_id, start_time, end_time, succeeded, attempts
		FROM trace_archive
		ORDER BY start_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace archive: %w", err)
	}
	defer rows.Close()

	records := make([]persistence.TraceRecord, 0, limit)
	for rows.Next() {
		var r persistence.TraceRecord
		var startMs int64
		var endMs sql.NullInt64
		var succeeded int
		if err := rows.Scan(&r.TraceID, &r.RequestID, &startMs, &endMs, &succeeded, &r.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan trace record: %w", err)
		}
		r.StartTime = time.UnixMilli(startMs)
		if endMs.Valid {
			r.EndTime = time.UnixMilli(endMs.Int64)
		}
		r.Succeeded = succeeded != 0
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trace archive rows: %w", err)
	}
	return records, nil
}

// Health implements persistence.Store.
func (s *Store) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return fmt.Errorf("sqlite connection is closed")
	}
	return s.db.PingContext(ctx)
}

// Close implements persistence.Store. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
