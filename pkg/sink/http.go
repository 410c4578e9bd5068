package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autolog/pkg/runlog"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTP appends run records by posting them to a collector's ingest endpoint.
// It lets automations log runs without holding warehouse credentials.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// HTTPOption adjusts HTTP sink construction.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// NewHTTP creates an HTTP sink targeting the collector at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) (*HTTP, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse collector url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("collector url %q must be absolute", baseURL)
	}

	h := &HTTP{
		endpoint: strings.TrimRight(parsed.String(), "/") + "/v1/runs",
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Append posts the finalized record to the collector. Any transport error or
// non-2xx response is a *runlog.PersistenceError.
func (h *HTTP) Append(ctx context.Context, rec *runlog.Record) error {
	if rec == nil {
		return &runlog.PersistenceError{Err: errors.New("nil record")}
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return &runlog.PersistenceError{Err: fmt.Errorf("marshal record: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return &runlog.PersistenceError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return &runlog.PersistenceError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &runlog.PersistenceError{
			Err: fmt.Errorf("collector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	return nil
}
