// Package httpapi exposes the proxy over HTTP: model-routing
// configuration, auth status, and request history/replay introspection
// (spec.md §6), plus the request-serving path itself — NewRouter
// registers the reverse proxy endpoint that drives internal/pipeline as
// the catch-all route.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
)

// ErrorCode names a stable, client-facing error category. Kept distinct
// from resilience.Kind since this package's errors cover request
// validation and routing-config problems that never flow through the
// pipeline's own error taxonomy.
type ErrorCode string

const (
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetail is the body of an ErrorResponse.
type ErrorDetail struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the JSON shape written for every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

func statusForCode(code ErrorCode) int {
	switch code {
	case CodeValidation:
		return http.StatusConflict // spec.md §6: "409-style code (no server-state change)"
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, requestID string, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForCode(code))
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now(),
	}})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusForKind maps a pipeline failure kind to the status code the
// reverse-proxy entrypoint should surface to the caller (spec.md §7).
func statusForKind(k resilience.Kind) int {
	switch k {
	case resilience.KindAdmissionTimeout:
		return http.StatusServiceUnavailable
	case resilience.KindRateLimit:
		return http.StatusTooManyRequests
	case resilience.KindAuth:
		return http.StatusUnauthorized
	case resilience.KindValidation:
		return http.StatusBadRequest
	case resilience.KindClientDisconnect:
		return 499 // non-standard but conventional "client closed request"
	case resilience.KindTimeout:
		return http.StatusGatewayTimeout
	case resilience.KindUpstream, resilience.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
