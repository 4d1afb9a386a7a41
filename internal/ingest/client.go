package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/LJTian/newswire/internal/collector"
)

const (
	// Path is where the article service mounts the ingestion endpoint.
	Path = "/internal/articles/ingest"

	KeyHeader       = "X-Ingestion-Key"
	RequestIDHeader = "X-Request-ID"
)

// Client submits collected batches to the article service.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
}

// NewClient targets baseURL. A zero timeout leaves the call unbounded, so a
// hung endpoint simply delays the next cycle.
func NewClient(baseURL, key string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		key:     key,
		http:    &http.Client{Timeout: timeout},
	}
}

type batch struct {
	Articles []collector.CandidateItem `json:"articles"`
}

// Submit posts items as one batch and returns the endpoint's summary.
// Any non-2xx status is an error.
func (c *Client) Submit(ctx context.Context, items []collector.CandidateItem, requestID string) (*Summary, error) {
	body, err := json.Marshal(batch{Articles: items})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set(KeyHeader, c.key)
	}
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ingestion endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &sum, nil
}
