package webhook

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// httpDeliverer is the real HTTP transport, adapted from the teacher's
// WebhookHTTPClient connection settings (TLS 1.2 floor, bounded
// connection pool, explicit per-phase timeouts).
type httpDeliverer struct {
	client *http.Client
}

// NewHTTPDeliverer builds a Deliverer with the teacher's hardened
// transport settings.
func NewHTTPDeliverer(timeout time.Duration) Deliverer {
	return &httpDeliverer{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
				ForceAttemptHTTP2:   true,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		},
	}
}

func (d *httpDeliverer) Deliver(url string, body []byte, headers map[string]string) (int, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook: delivery failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
