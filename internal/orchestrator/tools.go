package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/qemc/conversation-gluer/internal/llm"
)

// ToolKind is the closed set of tools the orchestrator binds to its
// model calls. Any tool call outside this set is a contract violation.
type ToolKind string

const (
	// ToolResearchQuery requests more facts from the retrieval store.
	ToolResearchQuery ToolKind = "research_query"
	// ToolProceedFurther declares the current context sufficient.
	ToolProceedFurther ToolKind = "proceed_further"
	// ToolAPIAgent delegates to the external API-probing sub-agent.
	ToolAPIAgent ToolKind = "api_agent_tool"
)

// researchArgs is the argument payload of a research_query call.
type researchArgs struct {
	Query string `json:"query"`
}

// gatherTools are bound to the gather step: ask for more facts, or move
// on.
func gatherTools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        string(ToolResearchQuery),
			Description: "Request additional facts relevant to the question. Provide a focused free-text query.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "What to look up"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        string(ToolProceedFurther),
			Description: "Declare that the accumulated context is sufficient to answer the question.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}

// chooseTools are bound to the tool-choice step: call the discovered
// API endpoints, or answer directly.
func chooseTools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        string(ToolAPIAgent),
			Description: "The answer requires calling the API endpoints mentioned in the context.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        string(ToolProceedFurther),
			Description: "The answer can be produced directly from the accumulated context.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}

// parseToolCall validates a model tool call against the allowed set and
// extracts the research query when present.
func parseToolCall(call llm.ToolCall, allowed ...ToolKind) (ToolKind, string, error) {
	kind := ToolKind(call.Name)

	permitted := false
	for _, a := range allowed {
		if kind == a {
			permitted = true
			break
		}
	}
	if !permitted {
		return "", "", fmt.Errorf("model called unknown tool %q", call.Name)
	}

	if kind != ToolResearchQuery {
		return kind, "", nil
	}

	var args researchArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", "", fmt.Errorf("decode %s arguments: %w", call.Name, err)
		}
	}
	if args.Query == "" {
		return "", "", fmt.Errorf("%s called without a query", call.Name)
	}
	return kind, args.Query, nil
}
