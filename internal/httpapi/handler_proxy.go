package httpapi

import (
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/llm-key-proxy/internal/pipeline"
)

const maxProxyBodyBytes = 10 << 20 // 10MiB, generous for a chat completion body

// proxy is the reverse-proxy entrypoint: it reads the inbound request,
// derives the Model Router's shallow classification features, and
// drives it through the pipeline end to end (spec.md §4.5), mirroring
// the teacher's handleProxyWebhook read-body/dispatch/write-response
// shape.
func (h *handlers) proxy(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodyBytes))
	if err != nil {
		writeError(w, requestID, CodeValidation, "failed to read request body")
		return
	}
	defer r.Body.Close()

	model, maxTokens, messageCount, systemLength, hasTools, hasVision := featuresFromBody(body)

	clientID := r.Header.Get("X-Client-Id")
	if clientID == "" {
		clientID = r.RemoteAddr
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	req := pipeline.Request{
		RequestID:           requestID,
		TraceID:             uuid.New().String(),
		ClientID:            clientID,
		Path:                r.URL.Path,
		Method:              r.Method,
		Model:               model,
		MaxTokens:           maxTokens,
		MessageCount:        messageCount,
		SystemLength:        systemLength,
		HasTools:            hasTools,
		HasVision:           hasVision,
		RequestOverrideTier: r.Header.Get("X-Tier-Override"),
		Body:                body,
		Headers:             headers,
	}

	res := h.cfg.Pipeline.Process(r.Context(), req)

	for k, v := range resultHeaders(res, req.TraceID) {
		if v != "" {
			w.Header().Set(k, v)
		}
	}

	if res.Success {
		writeJSON(w, res.StatusCode, map[string]interface{}{
			"model":        res.Model,
			"inputTokens":  res.InputTokens,
			"outputTokens": res.OutputTokens,
			"costUsd":      res.CostUSD,
			"attempts":     res.Attempts,
		})
		return
	}

	status := statusForKind(res.ErrorKind)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"kind":      res.ErrorKind.String(),
			"message":   res.ErrorMessage,
			"attempts":  res.Attempts,
			"requestId": requestID,
		},
	})
}
