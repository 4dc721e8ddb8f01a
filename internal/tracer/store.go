package tracer

import (
	"sort"
	"sync"

	"github.com/vitaliisemenov/llm-key-proxy/internal/ring"
)

// Store keeps the latest N traces using a FIFO ring buffer; eviction
// also removes the corresponding requestId/traceId index entries
// (spec.md §4.6).
type Store struct {
	mu          sync.Mutex
	buf         *ring.Buffer[*Recorder]
	byRequestID map[string]*Recorder
	byTraceID   map[string]*Recorder
}

// NewStore creates a trace store bounded to capacity traces.
func NewStore(capacity int) *Store {
	return &Store{
		buf:         ring.NewBuffer[*Recorder](capacity),
		byRequestID: make(map[string]*Recorder),
		byTraceID:   make(map[string]*Recorder),
	}
}

// Start registers a new recorder immediately, so in-flight traces are
// queryable before they complete, and returns it for the pipeline to
// record spans against.
func (s *Store) Start(rec *Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := rec.Snapshot()
	evicted, didEvict := s.buf.Push(rec)
	if didEvict && evicted != nil {
		old := evicted.Snapshot()
		delete(s.byRequestID, old.RequestID)
		delete(s.byTraceID, old.TraceID)
	}
	s.byRequestID[snap.RequestID] = rec
	s.byTraceID[snap.TraceID] = rec
}

// ByTraceID looks up a trace by its unique traceId.
func (s *Store) ByTraceID(traceID string) (Trace, bool) {
	s.mu.Lock()
	rec, ok := s.byTraceID[traceID]
	s.mu.Unlock()
	if !ok {
		return Trace{}, false
	}
	return rec.Snapshot(), true
}

// ByRequestID looks up a trace by requestId. Since only the most recent
// recorder per requestId is indexed, a resubmitted requestId overwrites
// the index entry for an older trace (the older trace itself still
// lives in the ring until it ages out).
func (s *Store) ByRequestID(requestID string) (Trace, bool) {
	s.mu.Lock()
	rec, ok := s.byRequestID[requestID]
	s.mu.Unlock()
	if !ok {
		return Trace{}, false
	}
	return rec.Snapshot(), true
}

// Recent returns up to n of the most recently started traces, newest
// first.
func (s *Store) Recent(n int) []Trace {
	s.mu.Lock()
	recs := s.buf.Recent(n)
	s.mu.Unlock()

	out := make([]Trace, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Snapshot())
	}
	return out
}

// Query returns all stored traces matching filter, newest first.
func (s *Store) Query(filter Filter) []Trace {
	s.mu.Lock()
	all := s.buf.Snapshot()
	s.mu.Unlock()

	out := make([]Trace, 0, len(all))
	for _, r := range all {
		t := r.Snapshot()
		if filter.matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// Len reports how many traces are currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}
