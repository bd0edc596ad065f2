// Package enrichment calls the optional upstream enrichment service.
//
// The service augments raw sensor readings (contextual analysis,
// cross-node correlation) and is explicitly allowed to be down: every
// call goes through a Guard composing a circuit breaker with the HTTP
// client, and a rejected or failed call falls back to local telemetry
// recording. The upstream being unreachable is a degraded mode, never a
// node fault.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaiser-home/nodecore/internal/infrastructure/config"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseSize caps enrichment replies. The service answers with
	// small JSON documents; anything larger is a misbehaving upstream.
	maxResponseSize = 256 * 1024
)

// Response is a decoded upstream reply.
type Response struct {
	Status int
	Body   json.RawMessage
}

// Caller performs one upstream call.
//
// Implementations must return an error for every outcome that should
// count against the circuit breaker, including non-success status codes.
type Caller interface {
	Call(ctx context.Context, endpoint string, payload any) (*Response, error)
}

// Client is the net/http Caller implementation.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the configured enrichment service.
func NewClient(cfg config.EnrichmentConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Call POSTs the payload as JSON to the endpoint and returns the reply.
//
// Transport failures wrap ErrUnreachable; non-2xx replies wrap
// ErrUpstreamStatus. Both count as failures for the guarding breaker.
func (c *Client) Call(ctx context.Context, endpoint string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling enrichment payload: %w", err)
	}

	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building enrichment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading enrichment response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	return &Response{Status: resp.StatusCode, Body: raw}, nil
}
