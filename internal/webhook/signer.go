package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// headerPrefix names this service in the X-*-Event/Timestamp/Signature
// headers (spec.md §6 leaves the prefix to the implementation).
const headerPrefix = "X-LLM-Proxy"

// wireBody is the JSON shape POSTed to the webhook URL (spec.md §6):
// {id, type, timestamp, payload}.
type wireBody struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// sign builds the JSON body and delivery headers for event, computing
// the HMAC-SHA256 signature over "timestamp\nbody" after sensitive
// payload keys have been stripped (spec.md §6).
func sign(event Event, secret string) (body []byte, headers map[string]string, err error) {
	ts := event.Timestamp.UTC().Format(time.RFC3339Nano)
	wb := wireBody{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: ts,
		Payload:   sanitize(event.Payload),
	}

	body, err = json.Marshal(wb)
	if err != nil {
		return nil, nil, fmt.Errorf("webhook: marshal body: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("\n"))
	mac.Write(body)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	headers = map[string]string{
		headerPrefix + "-Event":     event.Type,
		headerPrefix + "-Timestamp": ts,
		headerPrefix + "-Signature": signature,
		"Content-Type":              "application/json",
	}
	return body, headers, nil
}

// Verify recomputes the expected signature the same way sign does, for
// a receiving side to validate an inbound delivery (mirrors the
// constant-time comparison pattern the teacher's own HMAC auth
// middleware uses).
func Verify(body []byte, timestamp, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
