package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/llm-key-proxy/internal/pipeline"
	"github.com/vitaliisemenov/llm-key-proxy/internal/replay"
	"github.com/vitaliisemenov/llm-key-proxy/internal/router"
	"github.com/vitaliisemenov/llm-key-proxy/internal/routingconfig"
	"github.com/vitaliisemenov/llm-key-proxy/internal/stats"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
	"github.com/vitaliisemenov/llm-key-proxy/pkg/metrics"
)

// Config gathers the collaborators the HTTP surface calls into. Pipeline
// and Router are required; ReplayQueue and TracerStore back the
// observability endpoints and are nil-able if a deployment disables
// them. Stats is carried here but no handler reads it.
type Config struct {
	Pipeline       *pipeline.Pipeline
	Router         *router.Router
	RoutingStore   *routingconfig.Store
	TracerStore    *tracer.Store
	ReplayQueue    *replay.Queue
	Stats          *stats.Aggregator
	Metrics        *metrics.Registry
	AdminHeader    string
	AdminTokens    []string
	Logger         *slog.Logger
}

// NewRouter builds the full mux.Router for the proxy's HTTP surface:
// the admin/observability routes of spec.md §6, falling through to the
// generic reverse-proxy entrypoint for every other path (mirroring the
// teacher's internal/api/router.go PathPrefix/Subrouter layering, with
// RequestID and Logging applied globally).
func NewRouter(cfg Config) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	header := cfg.AdminHeader
	if header == "" {
		header = "X-Admin-Token"
	}

	h := &handlers{cfg: cfg, logger: logger}

	root := mux.NewRouter()
	root.Use(requestIDMiddleware)
	root.Use(loggingMiddleware(logger))

	admin := root.NewRoute().Subrouter()
	admin.Use(adminAuthMiddleware(header, cfg.AdminTokens))

	admin.HandleFunc("/model-routing", h.putModelRouting).Methods(http.MethodPut)
	admin.HandleFunc("/model-routing/overrides", h.putOverride).Methods(http.MethodPut)
	admin.HandleFunc("/model-routing/overrides", h.deleteOverride).Methods(http.MethodDelete)
	admin.HandleFunc("/model-routing/reset", h.resetModelRouting).Methods(http.MethodPost)
	admin.HandleFunc("/requests/{id}/payload", h.getRequestPayload).Methods(http.MethodGet)

	// Read-only introspection and export need no admin token: they leak
	// no secrets and spec.md §6 only gates mutating/payload-capture
	// endpoints behind the admin token.
	root.HandleFunc("/model-routing/test", h.testModelRouting).Methods(http.MethodPost)
	root.HandleFunc("/model-routing/explain", h.explainModelRouting).Methods(http.MethodPost)
	root.HandleFunc("/model-routing/export", h.exportModelRouting).Methods(http.MethodGet)
	root.HandleFunc("/auth-status", h.authStatus).Methods(http.MethodGet)
	root.HandleFunc("/history", h.history).Methods(http.MethodGet)
	root.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Everything else is a reverse-proxy call driven through the
	// pipeline (spec.md §4.5).
	root.PathPrefix("/").Handler(http.HandlerFunc(h.proxy))

	return root
}

type handlers struct {
	cfg    Config
	logger *slog.Logger
}
