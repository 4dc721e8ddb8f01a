package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
)

const defaultHistoryMinutes = 60

// historyPoint is one per-minute rollup bucket derived from the Request
// Tracer's recent traces.
type historyPoint struct {
	MinuteStart time.Time `json:"minuteStart"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
}

// history returns per-minute rollup points over the trailing window,
// per spec.md §6 GET /history?minutes=N. The Request Tracer stores
// individual traces, not pre-aggregated rollups, so this handler
// derives the rollup at read time the way spec.md §4.8's own
// client-facing view is derived from per-event accounting rather than
// stored pre-aggregated.
func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TracerStore == nil {
		writeJSON(w, http.StatusOK, []historyPoint{})
		return
	}

	minutes := defaultHistoryMinutes
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			minutes = n
		}
	}

	since := time.Now().Add(-time.Duration(minutes) * time.Minute)
	traces := h.cfg.TracerStore.Query(tracer.Filter{Since: since})

	buckets := make(map[int64]*historyPoint)
	order := make([]int64, 0, minutes)
	for _, t := range traces {
		key := t.StartTime.Truncate(time.Minute).Unix()
		p, ok := buckets[key]
		if !ok {
			p = &historyPoint{MinuteStart: t.StartTime.Truncate(time.Minute)}
			buckets[key] = p
			order = append(order, key)
		}
		p.Total++
		if t.Succeeded() {
			p.Succeeded++
		} else {
			p.Failed++
		}
	}

	points := make([]historyPoint, 0, len(order))
	for _, key := range order {
		points = append(points, *buckets[key])
	}
	writeJSON(w, http.StatusOK, points)
}

// getRequestPayload returns the full captured request payload for a
// failed trace, per spec.md §6 GET /requests/{id}/payload (admin only).
// The Request Tracer only stores span timing, never request bodies
// (spec.md §1 Non-goal on content inspection), so the payload comes
// from the Replay Queue's own capture of the request that was enqueued
// after a terminal failure.
func (h *handlers) getRequestPayload(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	if h.cfg.ReplayQueue == nil {
		writeError(w, requestID, CodeNotFound, "replay queue is disabled")
		return
	}

	traceID := mux.Vars(r)["id"]
	entry, ok := h.cfg.ReplayQueue.Get(traceID)
	if !ok {
		writeError(w, requestID, CodeNotFound, "no captured payload for this request id")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traceId":       entry.TraceID,
		"request":       entry.Request,
		"headers":       entry.Headers,
		"originalError": entry.OriginalError,
		"status":        entry.Status,
		"attempts":      entry.Attempts,
		"createdAt":     entry.CreatedAt,
	})
}
