// Package qdrant is a thin REST client for the retrieval service. The
// pipeline stores fact fragments as points whose payload carries the
// fragment text, the fact cluster it belongs to and its position inside
// the cluster.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Payload field names shared with the indexing side.
const (
	FieldText     = "text"
	FieldFactID   = "factId"
	FieldPosition = "position"
)

// Point is a vector with its payload, as upserted into a collection.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// ScoredPayload is a search hit: the stored payload plus similarity score.
type ScoredPayload struct {
	Payload map[string]any `json:"payload"`
	Score   float64        `json:"score"`
}

// Client talks to a Qdrant instance over its REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithAPIKey sets the api-key header value.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given base URL (e.g. "http://localhost:6333").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureCollection creates the collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error {
	if distance == "" {
		distance = "Cosine"
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": distance,
		},
	}

	status, data, err := c.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	if status == http.StatusConflict || bytes.Contains(data, []byte("already exists")) {
		c.logger.Debug("collection already exists", slog.String("collection", name))
		return nil
	}
	if status != http.StatusOK {
		return fmt.Errorf("create collection %s: HTTP %d: %s", name, status, data)
	}
	return nil
}

// Upsert writes points into a collection, waiting for completion.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}

	status, data, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body)
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("upsert into %s: HTTP %d: %s", collection, status, data)
	}

	c.logger.Debug("points upserted",
		slog.String("collection", collection),
		slog.Int("count", len(points)),
	)
	return nil
}

// Search returns the points nearest to vector, payload included.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPayload, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	status, data, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search %s: HTTP %d: %s", collection, status, data)
	}

	var parsed struct {
		Result []ScoredPayload `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("search %s: decode response: %w", collection, err)
	}
	return parsed.Result, nil
}

// Scroll returns the payloads of every point whose payload field
// filterKey matches matchValue, up to limit.
func (c *Client) Scroll(ctx context.Context, collection, filterKey string, matchValue any, limit int) ([]map[string]any, error) {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": filterKey, "match": map[string]any{"value": matchValue}},
			},
		},
		"limit":        limit,
		"with_payload": true,
	}

	status, data, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body)
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", collection, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("scroll %s: HTTP %d: %s", collection, status, data)
	}

	var parsed struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("scroll %s: decode response: %w", collection, err)
	}

	payloads := make([]map[string]any, 0, len(parsed.Result.Points))
	for _, p := range parsed.Result.Points {
		payloads = append(payloads, p.Payload)
	}
	return payloads, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
