// Package upstream implements the Request Pipeline's UpstreamClient:
// a single reverse-proxy forward to the configured provider endpoint.
// Re-implementing that provider's wire semantics is out of scope
// (spec.md §1 Non-goals: "no upstream protocol reimplementation"), so
// this client only forwards bytes, streams the response back in
// chunks, and opportunistically reads a usage block when the provider
// includes one.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/pipeline"
	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
)

// rateLimitClampMin and rateLimitClampMax bound a parsed Retry-After
// value, mirroring the Key Manager's own clamp on the same signal
// (spec.md §7: "respecting the upstream-advertised value clamped to
// [1s, 5min]").
const (
	rateLimitClampMin = time.Second
	rateLimitClampMax = 5 * time.Minute

	readChunkSize = 32 * 1024
)

// Config parameterizes Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client forwards requests to a single upstream base URL, adapted from
// the webhook package's hardened transport (TLS 1.2 floor, bounded
// connection pool, explicit per-phase timeouts).
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
				ForceAttemptHTTP2:   true,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				ExpectContinueTimeout: time.Second,
			},
		},
	}
}

// usageEnvelope captures the provider's optional token-usage block. The
// field names follow the Anthropic Messages API shape the httpapi
// package's request bodies already use ("/v1/messages", "max_tokens").
type usageEnvelope struct {
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Do implements pipeline.UpstreamClient.
func (c *Client) Do(ctx context.Context, req pipeline.UpstreamRequest, onFirstByte func(), onChunk func([]byte)) (pipeline.UpstreamResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(req.Body))
	if err != nil {
		return pipeline.UpstreamResult{}, resilience.NewError(resilience.KindInternal, "build upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		kind := resilience.DefaultErrorChecker{}.Classify(err)
		return pipeline.UpstreamResult{}, resilience.NewError(kind, "upstream request failed", err)
	}
	defer resp.Body.Close()
	onFirstByte()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, readChunkSize))
		return pipeline.UpstreamResult{StatusCode: resp.StatusCode}, c.classifyHTTPError(resp)
	}

	body, readErr := readAndStream(resp.Body, onChunk)
	result := pipeline.UpstreamResult{StatusCode: resp.StatusCode}
	if readErr != nil {
		return result, resilience.NewError(resilience.KindTransport, "read upstream response body", readErr)
	}

	var usage usageEnvelope
	if json.Unmarshal(body, &usage) == nil {
		result.InputTokens = usage.Usage.InputTokens
		result.OutputTokens = usage.Usage.OutputTokens
	}
	return result, nil
}

func (c *Client) classifyHTTPError(resp *http.Response) error {
	kind := resilience.HTTPErrorChecker{StatusCode: resp.StatusCode}.Classify(nil)
	e := resilience.NewError(kind, fmt.Sprintf("upstream returned %s", resp.Status), fmt.Errorf("status %d", resp.StatusCode))
	if kind == resilience.KindRateLimit {
		e.RetryAfterMs = int(parseRetryAfter(resp.Header.Get("Retry-After")) / time.Millisecond)
	}
	return e
}

func readAndStream(r io.Reader, onChunk func([]byte)) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			onChunk(chunk[:n])
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return rateLimitClampMin
	}
	secs, err := strconv.Atoi(header)
	if err != nil {
		return rateLimitClampMin
	}
	d := time.Duration(secs) * time.Second
	if d < rateLimitClampMin {
		return rateLimitClampMin
	}
	if d > rateLimitClampMax {
		return rateLimitClampMax
	}
	return d
}
