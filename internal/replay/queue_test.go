package replay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func alwaysSucceed(ctx context.Context, e Entry) error { return nil }

func TestNewQueue_ValidatesBounds(t *testing.T) {
	if _, err := NewQueue(0, 3, time.Minute, alwaysSucceed); err == nil {
		t.Fatal("capacity 0 should be rejected")
	}
	if _, err := NewQueue(10, 101, time.Minute, alwaysSucceed); err == nil {
		t.Fatal("maxRetries 101 should be rejected")
	}
	if _, err := NewQueue(10, 3, time.Millisecond, alwaysSucceed); err == nil {
		t.Fatal("retention below 1s should be rejected")
	}
	if _, err := NewQueue(10, 3, 8*24*time.Hour, alwaysSucceed); err == nil {
		t.Fatal("retention above 7d should be rejected")
	}
}

func TestQueue_EnqueueValidatesInput(t *testing.T) {
	q, _ := NewQueue(10, 3, time.Minute, alwaysSucceed)
	now := time.Now()
	if err := q.Enqueue("", map[string]interface{}{}, nil, "", now); err == nil {
		t.Fatal("empty traceId should be rejected")
	}
	if err := q.Enqueue("t1", nil, nil, "", now); err == nil {
		t.Fatal("nil request should be rejected")
	}
}

// TestQueue_CapacityEvictsOldestFirst mirrors spec.md §8's invariant
// |Q| <= capacity with oldest-first eviction.
func TestQueue_CapacityEvictsOldestFirst(t *testing.T) {
	q, _ := NewQueue(2, 3, time.Minute, alwaysSucceed)
	now := time.Now()

	q.Enqueue("t1", map[string]interface{}{}, nil, "e", now)
	q.Enqueue("t2", map[string]interface{}{}, nil, "e", now.Add(time.Millisecond))
	q.Enqueue("t3", map[string]interface{}{}, nil, "e", now.Add(2*time.Millisecond))

	if q.Len() != 2 {
		t.Fatalf("want capacity-bounded length 2, got %d", q.Len())
	}
	if _, ok := q.Get("t1"); ok {
		t.Fatal("oldest entry t1 should have been evicted")
	}
	if _, ok := q.Get("t3"); !ok {
		t.Fatal("newest entry t3 should still be present")
	}
}

func TestQueue_ReplayRefusesReentryWhileReplaying(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	slow := func(ctx context.Context, e Entry) error {
		close(started)
		<-block
		return nil
	}
	q, _ := NewQueue(10, 3, time.Minute, slow)
	now := time.Now()
	q.Enqueue("t1", map[string]interface{}{}, nil, "e", now)

	done := make(chan error, 1)
	go func() { done <- q.Replay(context.Background(), "t1", now) }()
	<-started

	if err := q.Replay(context.Background(), "t1", now); err == nil {
		t.Fatal("replay should refuse re-entry while status=replaying")
	}
	close(block)
	<-done
}

func TestQueue_ReplaySuccessUpdatesStatus(t *testing.T) {
	q, _ := NewQueue(10, 3, time.Minute, alwaysSucceed)
	now := time.Now()
	q.Enqueue("t1", map[string]interface{}{}, nil, "e", now)

	if err := q.Replay(context.Background(), "t1", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, _ := q.Get("t1")
	if e.Status != StatusSucceeded {
		t.Fatalf("want succeeded, got %s", e.Status)
	}
	if e.Attempts != 1 {
		t.Fatalf("want 1 attempt recorded, got %d", e.Attempts)
	}
}

func TestQueue_ReplayFailureRecordsAttempt(t *testing.T) {
	failing := func(ctx context.Context, e Entry) error { return errors.New("upstream down") }
	q, _ := NewQueue(10, 3, time.Minute, failing)
	now := time.Now()
	q.Enqueue("t1", map[string]interface{}{}, nil, "e", now)

	if err := q.Replay(context.Background(), "t1", now); err == nil {
		t.Fatal("expected replay error to propagate")
	}
	e, _ := q.Get("t1")
	if e.Status != StatusFailed || e.Attempts != 1 {
		t.Fatalf("want failed/1 attempt, got %s/%d", e.Status, e.Attempts)
	}
}

func TestQueue_ReplayExhaustsMaxRetries(t *testing.T) {
	failing := func(ctx context.Context, e Entry) error { return errors.New("nope") }
	q, _ := NewQueue(10, 1, time.Minute, failing)
	now := time.Now()
	q.Enqueue("t1", map[string]interface{}{}, nil, "e", now)

	q.Replay(context.Background(), "t1", now)
	if err := q.Replay(context.Background(), "t1", now); err == nil {
		t.Fatal("want retries exhausted error on second attempt with maxRetries=1")
	}
}

func TestQueue_ReplayAllFiltersByTimestamp(t *testing.T) {
	q, _ := NewQueue(10, 3, time.Minute, alwaysSucceed)
	base := time.Now()
	q.Enqueue("old", map[string]interface{}{}, nil, "e", base)
	q.Enqueue("new", map[string]interface{}{}, nil, "e", base.Add(time.Hour))

	succeeded, failed := q.ReplayAll(context.Background(), Filter{AfterTimestamp: base.Add(time.Minute)}, base.Add(2*time.Hour))
	if succeeded != 1 || failed != 0 {
		t.Fatalf("want 1 succeeded (only 'new'), got succeeded=%d failed=%d", succeeded, failed)
	}
	oldEntry, _ := q.Get("old")
	if oldEntry.Status != StatusPending {
		t.Fatal("'old' entry predates the filter and should be untouched")
	}
}

func TestQueue_EvictExpiredRemovesOldEntries(t *testing.T) {
	q, _ := NewQueue(10, 3, time.Second, alwaysSucceed)
	now := time.Now()
	q.Enqueue("t1", map[string]interface{}{}, nil, "e", now)

	q.evictExpired(now.Add(2 * time.Second))
	if q.Len() != 0 {
		t.Fatalf("want entry expired past retention, got len %d", q.Len())
	}
}

func TestQueue_StopIsIdempotent(t *testing.T) {
	q, _ := NewQueue(10, 3, time.Minute, alwaysSucceed)
	q.StartEvictionTimer(10 * time.Millisecond)
	q.Stop()
	q.Stop()
}
