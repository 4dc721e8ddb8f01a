package httpapi

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/vitaliisemenov/llm-key-proxy/internal/pipeline"
)

// inboundBody is the shallow subset of a Messages-style request body the
// classifier needs (spec.md §4.4/§1: shallow classification features,
// never full content inspection).
type inboundBody struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	Messages  []json.RawMessage `json:"messages"`
	System    json.RawMessage   `json:"system"`
	Tools     []json.RawMessage `json:"tools"`
}

// featuresFromBody extracts the router's shallow classification signals
// from a raw request body without inspecting message content, only
// shape: message count, system block byte length, presence of a tools
// array, and a substring check for an image content block type.
func featuresFromBody(body []byte) (model string, maxTokens, messageCount, systemLength int, hasTools, hasVision bool) {
	var b inboundBody
	if err := json.Unmarshal(body, &b); err != nil {
		return "", 0, 0, 0, false, false
	}
	model = b.Model
	maxTokens = b.MaxTokens
	messageCount = len(b.Messages)
	systemLength = len(b.System)
	hasTools = len(b.Tools) > 0
	hasVision = strings.Contains(string(body), `"type":"image"`) || strings.Contains(string(body), `"type": "image"`)
	return
}

// ProxyResponseHeaders names the response headers the proxy entrypoint
// attaches to every completed call, surfacing pipeline bookkeeping
// without requiring clients to parse a response body on error.
const (
	HeaderSelectedModel = "X-Proxy-Model"
	HeaderSelectedKey   = "X-Proxy-Key"
	HeaderAttempts      = "X-Proxy-Attempts"
	HeaderTraceID       = "X-Proxy-Trace-Id"
)

// resultHeaders returns the bookkeeping headers for one pipeline.Result.
func resultHeaders(res pipeline.Result, traceID string) map[string]string {
	return map[string]string{
		HeaderSelectedModel: res.Model,
		HeaderSelectedKey:   res.KeyID,
		HeaderAttempts:      strconv.Itoa(res.Attempts),
		HeaderTraceID:       traceID,
	}
}
