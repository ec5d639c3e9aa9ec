// Package apiagent is the external-API sub-agent: given the accumulated
// context for a question, it extracts an API password and every URL the
// context mentions, then posts the password to each endpoint and
// collects the raw responses.
package apiagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/prompt"
	"github.com/qemc/conversation-gluer/pkg/graph"
)

// Node identifiers.
const (
	nodePassword = "password"
	nodeEndpoint = "endpoints"
	nodeExecute  = "execute"
)

// ErrNoPassword is returned when the model cannot find a password in
// the context.
var ErrNoPassword = errors.New("apiagent: password not found in context")

// urlPattern matches http(s) URLs embedded in free text.
var urlPattern = regexp.MustCompile(`(?i)https?://[^\s"']+`)

// trailingPunct strips sentence punctuation glued onto a matched URL.
var trailingPunct = regexp.MustCompile(`[.,;:]+$`)

// State threads through the sub-agent's nodes.
type State struct {
	Context   string   `json:"context"`
	Password  string   `json:"password,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
	Responses []string `json:"responses,omitempty"`
}

var passwordPrompt = prompt.New(
	`You are a careful text analyst whose job is to spot passwords in text.

In the text inside <context>, find the single word that, going by the
context, is the password to an API. Read the text closely. The password
is exactly one word. Reply with that word only.`,

	`<context>
${context}
</context>`,
)

// Agent runs the password/endpoint extraction and the API calls.
type Agent struct {
	llm        llm.Client
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an agent. model names the completion model for password
// extraction.
func New(client llm.Client, model string, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		llm:        client,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// WithHTTPClient replaces the client used for endpoint calls.
func (a *Agent) WithHTTPClient(hc *http.Client) *Agent {
	a.httpClient = hc
	return a
}

// Build compiles the sub-agent graph: password and endpoint extraction
// feed the execute node, which calls every endpoint in order.
func (a *Agent) Build() (*graph.Compiled[State], error) {
	g := graph.NewGraph[State]()

	g.AddNode(nodePassword, a.passwordNode)
	g.AddNode(nodeEndpoint, a.endpointNode)
	g.AddNode(nodeExecute, a.executeNode)

	g.AddEdge(nodePassword, nodeEndpoint)
	g.AddEdge(nodeEndpoint, nodeExecute)
	g.AddEdge(nodeExecute, graph.END)

	g.SetEntry(nodePassword)
	return g.Compile()
}

// Invoke runs the sub-agent over the given context text and returns the
// collected endpoint responses, one per endpoint in discovery order.
func (a *Agent) Invoke(ctx context.Context, contextText string) ([]string, error) {
	compiled, err := a.Build()
	if err != nil {
		return nil, err
	}

	gctx := graph.NewContext(ctx, graph.WithLogger(a.logger))
	final, err := compiled.Run(gctx, State{Context: contextText})
	if err != nil {
		return nil, err
	}
	return final.Responses, nil
}

func (a *Agent) passwordNode(ctx graph.Context, s State) (State, error) {
	system, user, err := passwordPrompt.Render(map[string]string{"context": s.Context})
	if err != nil {
		return s, err
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Model:        a.model,
	})
	if err != nil {
		return s, fmt.Errorf("extract password: %w", err)
	}

	password := strings.TrimSpace(resp.Content)
	if password == "" {
		return s, ErrNoPassword
	}
	s.Password = password
	return s, nil
}

// endpointNode pulls every distinct URL out of the context, order
// preserved, trailing punctuation stripped.
func (a *Agent) endpointNode(_ graph.Context, s State) (State, error) {
	seen := make(map[string]bool)
	var endpoints []string
	for _, match := range urlPattern.FindAllString(s.Context, -1) {
		url := trailingPunct.ReplaceAllString(match, "")
		if seen[url] {
			continue
		}
		seen[url] = true
		endpoints = append(endpoints, url)
	}
	s.Endpoints = endpoints
	return s, nil
}

// executeNode posts the password to every endpoint in order. Each raw
// response body is kept as its own entry; a failed call records the
// error text instead so the orchestrator still sees one response per
// endpoint.
func (a *Agent) executeNode(ctx graph.Context, s State) (State, error) {
	payload, err := json.Marshal(map[string]string{"password": s.Password})
	if err != nil {
		return s, err
	}

	responses := make([]string, 0, len(s.Endpoints))
	for _, endpoint := range s.Endpoints {
		body, err := a.post(ctx, endpoint, payload)
		if err != nil {
			a.logger.Warn("endpoint call failed",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
			responses = append(responses, fmt.Sprintf("error calling %s: %v", endpoint, err))
			continue
		}
		responses = append(responses, body)
	}

	s.Responses = responses
	return s, nil
}

func (a *Agent) post(ctx context.Context, url string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
