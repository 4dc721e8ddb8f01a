package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/llm-key-proxy/internal/pipeline"
	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
)

func TestClient_SuccessfulCallExtractsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"usage":{"input_tokens":12,"output_tokens":34}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})

	var firstByte bool
	var chunks [][]byte
	result, err := c.Do(context.Background(), pipeline.UpstreamRequest{Body: []byte(`{}`)},
		func() { firstByte = true },
		func(b []byte) { chunks = append(chunks, append([]byte{}, b...)) })

	require.NoError(t, err)
	assert.True(t, firstByte)
	assert.NotEmpty(t, chunks)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, int64(12), result.InputTokens)
	assert.Equal(t, int64(34), result.OutputTokens)
}

func TestClient_RateLimitResponseClassifiesAndClampsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := c.Do(context.Background(), pipeline.UpstreamRequest{Body: []byte(`{}`)}, func() {}, func([]byte) {})

	require.Error(t, err)
	var classified *resilience.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, resilience.KindRateLimit, classified.Kind)
	assert.Equal(t, 3000, classified.RetryAfterMs)
}

func TestClient_ServerErrorClassifiesAsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := c.Do(context.Background(), pipeline.UpstreamRequest{Body: []byte(`{}`)}, func() {}, func([]byte) {})

	require.Error(t, err)
	var classified *resilience.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, resilience.KindUpstream, classified.Kind)
}

func TestClient_NoResponseBodyLeavesTokenCountsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	result, err := c.Do(context.Background(), pipeline.UpstreamRequest{Body: []byte(`{}`)}, func() {}, func([]byte) {})

	require.NoError(t, err)
	assert.Zero(t, result.InputTokens)
	assert.Zero(t, result.OutputTokens)
}
