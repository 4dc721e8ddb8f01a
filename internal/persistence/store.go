// Package persistence defines the optional Trace/Stats snapshot backend
// (spec.md §9's Lite/Standard deployment profile split). Neither
// implementation changes the in-memory contracts the Trace Store or
// Stats Aggregator expose; they only give those snapshots a durable
// home across restarts, version-stamped the way the teacher's
// PostgreSQLConfigStorage stamps config versions.
package persistence

import (
	"context"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/stats"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
)

// StatsSnapshotRecord wraps a persisted stats.Snapshot with the version
// number the store assigned it, mirroring the teacher's ConfigVersion
// history record.
type StatsSnapshotRecord struct {
	Version   int64
	Snapshot  stats.Snapshot
	CreatedAt time.Time
}

// TraceRecord is one archived trace, flattened for storage. The Trace
// Store itself stays in-memory and bounded (spec.md §4.6); archiving is
// purely additive durability for traces that would otherwise be evicted
// from the ring buffer.
type TraceRecord struct {
	TraceID   string
	RequestID string
	StartTime time.Time
	EndTime   time.Time
	Succeeded bool
	Attempts  int
}

// Store is the snapshot backend's full surface. Both the sqlite and
// postgres packages implement it identically; callers select between
// them via config.StorageConfig.Backend at startup.
type Store interface {
	// SaveStatsSnapshot persists one stats snapshot and returns the
	// monotonically increasing version it was assigned.
	SaveStatsSnapshot(ctx context.Context, snap stats.Snapshot) (version int64, err error)
	// LatestStatsSnapshot returns the most recently saved snapshot, or
	// ok=false if none has been saved yet.
	LatestStatsSnapshot(ctx context.Context) (record StatsSnapshotRecord, ok bool, err error)
	// ArchiveTraces durably records a batch of traces. cmd/proxyserver
	// calls it on a one-minute ticker with the trace store's most recent
	// traces; it is not tied to ring-buffer eviction.
	ArchiveTraces(ctx context.Context, traces []tracer.Trace) error
	// RecentTraces returns up to limit archived traces, most recent
	// first, for history views that outlive the in-memory ring buffer.
	RecentTraces(ctx context.Context, limit int) ([]TraceRecord, error)
	// Health checks backend connectivity.
	Health(ctx context.Context) error
	// Close releases the backend's connection resources. Idempotent.
	Close() error
}

func traceRecordFrom(t tracer.Trace) TraceRecord {
	return TraceRecord{
		TraceID:   t.TraceID,
		RequestID: t.RequestID,
		StartTime: t.StartTime,
		EndTime:   t.EndTime,
		Succeeded: t.Succeeded(),
		Attempts:  len(t.Attempts),
	}
}
