package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/router"
	"github.com/vitaliisemenov/llm-key-proxy/internal/routingconfig"
)

// putModelRouting accepts either v1 or v2 shaped JSON, normalizes it,
// persists it (hash-gated), and swaps the Router's live config
// (spec.md §6 PUT /model-routing).
func (h *handlers) putModelRouting(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodyBytes))
	if err != nil {
		writeError(w, requestID, CodeValidation, "failed to read request body")
		return
	}
	defer r.Body.Close()

	result := routingconfig.Normalize(body, routingconfig.ModeFull)
	if err := routingconfig.Validate(result.Config); err != nil {
		writeError(w, requestID, CodeValidation, err.Error())
		return
	}

	resp := map[string]interface{}{"legacy": result.Migrated}

	if h.cfg.Metrics != nil {
		label := "unchanged"
		if result.Migrated {
			label = "migrated"
		}
		h.cfg.Metrics.System().ConfigMigrationTotal.WithLabelValues(label).Inc()
	}

	if h.cfg.RoutingStore != nil {
		persisted, warning, err := h.cfg.RoutingStore.Persist(result.Config, time.Now())
		if err != nil {
			writeError(w, requestID, CodeInternal, "failed to persist model routing config")
			return
		}
		resp["persisted"] = persisted
		if warning != "" {
			resp["warning"] = warning
		}
	} else {
		resp["persisted"] = false
		resp["warning"] = "runtime_only_change"
	}

	h.cfg.Router.SetConfig(result.Config)
	writeJSON(w, http.StatusOK, resp)
}

// putOverride sets one tier's saved override (spec.md §4.4 SourceSavedOverride).
func (h *handlers) putOverride(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	var body struct {
		Tier  string `json:"tier"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxProxyBodyBytes)).Decode(&body); err != nil {
		writeError(w, requestID, CodeValidation, "invalid override body")
		return
	}
	if body.Tier == "" || body.Model == "" {
		writeError(w, requestID, CodeValidation, "tier and model are required")
		return
	}

	cfg := h.cfg.Router.Config()
	if cfg.Overrides == nil {
		cfg.Overrides = map[string]string{}
	}
	cfg.Overrides[body.Tier] = body.Model
	h.persistAndSwap(w, requestID, cfg)
}

// deleteOverride removes one tier's saved override.
func (h *handlers) deleteOverride(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	tier := r.URL.Query().Get("tier")
	if tier == "" {
		writeError(w, requestID, CodeValidation, "tier query parameter is required")
		return
	}

	cfg := h.cfg.Router.Config()
	delete(cfg.Overrides, tier)
	h.persistAndSwap(w, requestID, cfg)
}

// resetModelRouting restores the default (empty-override) config.
func (h *handlers) resetModelRouting(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	cfg := h.cfg.Router.Config()
	cfg.Overrides = map[string]string{}
	h.persistAndSwap(w, requestID, cfg)
}

func (h *handlers) persistAndSwap(w http.ResponseWriter, requestID string, cfg routingconfig.Config) {
	resp := map[string]interface{}{}
	if h.cfg.RoutingStore != nil {
		persisted, warning, err := h.cfg.RoutingStore.Persist(cfg, time.Now())
		if err != nil {
			writeError(w, requestID, CodeInternal, "failed to persist model routing config")
			return
		}
		resp["persisted"] = persisted
		if warning != "" {
			resp["warning"] = warning
		}
	} else {
		resp["persisted"] = false
	}
	h.cfg.Router.SetConfig(cfg)
	writeJSON(w, http.StatusOK, resp)
}

// exportModelRouting returns the full live config JSON.
func (h *handlers) exportModelRouting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Router.Config())
}

// testRequest/explainRequest mirror the shallow classification features
// an inbound proxy call would carry, so operators can dry-run the
// router without sending a real upstream call.
type testRequest struct {
	Model               string `json:"model"`
	MaxTokens           int    `json:"maxTokens"`
	MessageCount        int    `json:"messageCount"`
	SystemLength        int    `json:"systemLength"`
	HasTools            bool   `json:"hasTools"`
	HasVision           bool   `json:"hasVision"`
	RequestID           string `json:"requestId"`
	RequestOverrideTier string `json:"requestOverrideTier"`
	ClientID            string `json:"clientId"`
}

func decodeTestRequest(r *http.Request) (router.RequestFeatures, testRequest, error) {
	var tr testRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxProxyBodyBytes)).Decode(&tr); err != nil {
		return router.RequestFeatures{}, tr, err
	}
	return router.RequestFeatures{
		Model:        tr.Model,
		MaxTokens:    tr.MaxTokens,
		MessageCount: tr.MessageCount,
		SystemLength: tr.SystemLength,
		HasTools:     tr.HasTools,
		HasVision:    tr.HasVision,
	}, tr, nil
}

// testModelRouting runs a live (but side-effect-free) routing decision
// and returns the selected model with its tier, resolution source, and
// reason, per spec.md §6 POST /model-routing/test.
func (h *handlers) testModelRouting(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	features, tr, err := decodeTestRequest(r)
	if err != nil {
		writeError(w, requestID, CodeValidation, "invalid test request body")
		return
	}
	decision := h.cfg.Router.Explain(features, tr.RequestID, tr.RequestOverrideTier, tr.ClientID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selectedModel": decision.SelectedModel,
		"tier":          decision.Tier,
		"source":        decision.Source,
		"reason":        decision.Reason,
	})
}

// explainModelRouting runs the same dry-run decision but returns the
// full scoring artifact, per spec.md §6 POST /model-routing/explain.
func (h *handlers) explainModelRouting(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	features, tr, err := decodeTestRequest(r)
	if err != nil {
		writeError(w, requestID, CodeValidation, "invalid explain request body")
		return
	}
	decision := h.cfg.Router.Explain(features, tr.RequestID, tr.RequestOverrideTier, tr.ClientID)
	writeJSON(w, http.StatusOK, decision)
}
