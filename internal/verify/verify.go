// Package verify submits answer sets to the external verification
// endpoint and interprets its verdicts.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// CodeWrongAnswer is the verdict code the endpoint returns when one of
// the submitted answers is wrong. Any other code means the answer set
// was accepted.
const CodeWrongAnswer = -350

// Payload is the request body sent to the verification endpoint. Answer
// keys are zero-padded question ids ("01", "02", ...); a nil value is a
// placeholder for a question not yet answered.
type Payload struct {
	Task   string         `json:"task"`
	APIKey string         `json:"apikey"`
	Answer map[string]any `json:"answer"`
}

// Result is the endpoint's verdict.
type Result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Wrong reports whether the verdict rejects the answer set.
func (r *Result) Wrong() bool { return r.Code == CodeWrongAnswer }

// questionRefPattern pulls the question number out of a rejection
// message such as `Answer for question 02 is incorrect`.
var questionRefPattern = regexp.MustCompile(`question (\d+)`)

// QuestionRef extracts the zero-based index of the question the message
// refers to. The endpoint numbers questions from 1. Returns -1 when the
// message carries no question reference.
func (r *Result) QuestionRef() int {
	m := questionRefPattern.FindStringSubmatch(r.Message)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return -1
	}
	return n - 1
}

// Key formats a zero-based question index as an answer map key.
func Key(index int) string { return fmt.Sprintf("%02d", index+1) }

// NewPayload builds a payload with a placeholder entry per question.
func NewPayload(task, apiKey string, questionCount int) Payload {
	answer := make(map[string]any, questionCount)
	for i := 0; i < questionCount; i++ {
		answer[Key(i)] = nil
	}
	return Payload{Task: task, APIKey: apiKey, Answer: answer}
}

// Client posts payloads to the verification endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the given endpoint URL.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts the payload and returns the endpoint's verdict. A
// transport or decode failure returns a nil Result alongside the error:
// the answers have not been validated, which is distinct from a
// rejection verdict.
func (c *Client) Submit(ctx context.Context, payload Payload) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit answers: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read verdict: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}

	c.logger.Info("verification verdict",
		slog.Int("code", result.Code),
		slog.String("message", result.Message),
	)
	return &result, nil
}
