// Package orchestrator is the question-answering state machine. For
// each question in order it plans, gathers facts through a tool-bound
// sufficiency loop with a human checkpoint, produces an answer either
// directly or via the API sub-agent, submits the full answer set to the
// verification endpoint, and reroutes on rejection until every answer
// is accepted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qemc/conversation-gluer/internal/apiagent"
	"github.com/qemc/conversation-gluer/internal/facts"
	"github.com/qemc/conversation-gluer/internal/hitl"
	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/transcript"
	"github.com/qemc/conversation-gluer/internal/verify"
	"github.com/qemc/conversation-gluer/pkg/graph"
	"github.com/qemc/conversation-gluer/pkg/graph/checkpoint"
)

// Node identifiers.
const (
	nodePlan     = "plan"
	nodeGather   = "gather"
	nodeRetrieve = "retrieve"
	nodeHuman    = "human"
	nodeChoose   = "choose"
	nodeAPI      = "api"
	nodeAnswer   = "answer"
	nodeValidate = "validate"
	nodeFormat   = "format"
	nodeError    = "error"
	nodeAPIError = "apiError"
)

// maxIterations raises the engine's runaway guard well above any
// plausible retry count; answer retries carry no cap of their own.
const maxIterations = 100_000

// Errors surfaced by the workflow.
var (
	// ErrNoToolCall is the model contract violation: a tool-bound step
	// received a reply with no tool call. Fatal for the run.
	ErrNoToolCall = errors.New("orchestrator: model emitted no tool call")

	// ErrAborted is returned when the operator rejects at the human
	// checkpoint, terminating the whole run.
	ErrAborted = errors.New("orchestrator: aborted by operator")

	// ErrNoVerdict means the human node executed without an injected
	// verdict. The driver treats it like an interrupt: collect the
	// verdict and resume. It surfaces when a restarted process resumes
	// a session that was suspended awaiting approval.
	ErrNoVerdict = errors.New("orchestrator: human checkpoint reached with no verdict")
)

// Workflow wires the orchestrator's collaborators together.
type Workflow struct {
	llm       llm.Client
	model     string
	retriever *facts.Retriever
	verifier  *verify.Client
	agent     *apiagent.Agent
	task      string
	apiKey    string
	logger    *slog.Logger
}

// New creates a workflow. task and apiKey identify the run to the
// verification endpoint.
func New(client llm.Client, model string, retriever *facts.Retriever, verifier *verify.Client, agent *apiagent.Agent, task, apiKey string, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		llm:       client,
		model:     model,
		retriever: retriever,
		verifier:  verifier,
		agent:     agent,
		task:      task,
		apiKey:    apiKey,
		logger:    logger,
	}
}

// Build compiles the orchestrator graph.
func (w *Workflow) Build() (*graph.Compiled[State], error) {
	g := graph.NewGraph[State]()

	g.AddNode(nodePlan, w.planNode)
	g.AddNode(nodeGather, w.gatherNode)
	g.AddNode(nodeRetrieve, w.retrieveNode)
	g.AddNode(nodeHuman, w.humanNode)
	g.AddNode(nodeChoose, w.chooseNode)
	g.AddNode(nodeAPI, w.apiNode)
	g.AddNode(nodeAnswer, w.answerNode)
	g.AddNode(nodeValidate, w.validateNode)
	g.AddNode(nodeFormat, w.formatNode)
	g.AddNode(nodeError, w.errorNode)
	g.AddNode(nodeAPIError, w.apiErrorNode)

	g.AddEdge(nodePlan, nodeGather)
	g.AddConditionalEdge(nodeGather, gatherRouter)
	g.AddEdge(nodeRetrieve, nodeHuman)
	g.AddEdge(nodeHuman, nodeGather)
	g.AddConditionalEdge(nodeChoose, chooseRouter)
	g.AddEdge(nodeAPI, nodeValidate)
	g.AddEdge(nodeAnswer, nodeValidate)
	g.AddConditionalEdge(nodeValidate, validationRouter)
	g.AddConditionalEdge(nodeFormat, func(_ graph.Context, s State) string {
		if s.Done {
			return graph.END
		}
		return nodePlan
	})
	g.AddEdge(nodeError, nodePlan)
	g.AddEdge(nodeAPIError, nodeAPI)

	g.SetEntry(nodePlan)
	return g.Compile()
}

// gatherRouter sends a research request to retrieval, or on to the
// tool-choice step.
func gatherRouter(_ graph.Context, s State) string {
	if s.GatherTool == ToolResearchQuery {
		return nodeRetrieve
	}
	return nodeChoose
}

// chooseRouter sends the run down the API path or the direct-answer
// path.
func chooseRouter(_ graph.Context, s State) string {
	if s.ChooseTool == ToolAPIAgent {
		return nodeAPI
	}
	return nodeAnswer
}

// validationRouter is the core decision point. A nil result means the
// answers were not validated at all (transport failure included) and
// drives another retry iteration.
func validationRouter(_ graph.Context, s State) string {
	r := s.LastResult

	if r != nil && len(s.Answers) == len(s.Questions) && !r.Wrong() {
		return nodeFormat // finish: format marks Done and routes to END
	}

	ref := -1
	if r != nil {
		ref = r.QuestionRef()
	}

	switch {
	case r != nil && ref > s.Index:
		return nodeFormat
	case r != nil && ref == s.Index && s.APICalls > 0:
		return nodeAPIError
	default:
		return nodeError
	}
}

// planNode derives the expected answer format and action plan from the
// question text alone.
func (w *Workflow) planNode(ctx graph.Context, s State) (State, error) {
	q := s.CurrentQuestion()

	system, user, err := planPrompt.Render(map[string]string{"question": q.Question})
	if err != nil {
		return s, err
	}

	resp, err := w.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Model:        w.model,
	})
	if err != nil {
		return s, fmt.Errorf("plan question %d: %w", q.QuestionID, err)
	}
	s.Usage.Add(resp.Usage)

	s.Plan = strings.TrimSpace(resp.Content)
	return s, nil
}

// gatherNode asks the model whether the context suffices. Exactly one
// tool call is required; none is a contract violation and halts the
// run.
func (w *Workflow) gatherNode(ctx graph.Context, s State) (State, error) {
	q := s.CurrentQuestion()

	system, user, err := gatherPrompt.Render(map[string]string{
		"question": q.Question,
		"plan":     s.Plan,
		"context":  s.Context,
	})
	if err != nil {
		return s, err
	}

	resp, err := w.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Model:        w.model,
		Tools:        gatherTools(),
	})
	if err != nil {
		return s, fmt.Errorf("gather for question %d: %w", q.QuestionID, err)
	}
	s.Usage.Add(resp.Usage)

	s.GatherLog = append(s.GatherLog, resp.Content)

	if len(resp.ToolCalls) == 0 {
		return s, fmt.Errorf("%w at gather for question %d", ErrNoToolCall, q.QuestionID)
	}

	kind, query, err := parseToolCall(resp.ToolCalls[0], ToolResearchQuery, ToolProceedFurther)
	if err != nil {
		return s, err
	}

	s.GatherTool = kind
	s.PendingQuery = query
	return s, nil
}

// retrieveNode answers the pending research query with a whole fact
// cluster, deduplicated against the already-queried set, and appends it
// to the context under a label naming the query.
func (w *Workflow) retrieveNode(ctx graph.Context, s State) (State, error) {
	cluster, err := w.retriever.Query(ctx, s.PendingQuery, s.seenFacts())
	if err != nil {
		return s, fmt.Errorf("retrieve %q: %w", s.PendingQuery, err)
	}

	var addition string
	if cluster == nil {
		addition = noNewDataSentinel
	} else {
		addition = fmt.Sprintf("Facts retrieved for %q:\n%s", s.PendingQuery, cluster.Text)
		if !s.factSeen(cluster.FactID) {
			s.QueriedFacts = append(s.QueriedFacts, cluster.FactID)
		}
	}

	s.Context += "\n\n" + addition
	s.LastRetrieved = addition
	s.PendingQuery = ""
	return s, nil
}

// humanNode consumes the operator verdict injected on resume. Anything
// but approval aborts the run.
func (w *Workflow) humanNode(_ graph.Context, s State) (State, error) {
	switch s.Verdict {
	case VerdictApprove:
		s.Approved = true
	case "":
		return s, fmt.Errorf("%w (question %d)", ErrNoVerdict, s.CurrentQuestion().QuestionID)
	default:
		return s, ErrAborted
	}
	s.Verdict = ""
	return s, nil
}

// chooseNode selects between the API path and the direct answer. Same
// one-tool-call contract as gather.
func (w *Workflow) chooseNode(ctx graph.Context, s State) (State, error) {
	q := s.CurrentQuestion()

	system, user, err := choosePrompt.Render(map[string]string{
		"question": q.Question,
		"plan":     s.Plan,
		"context":  s.Context,
	})
	if err != nil {
		return s, err
	}

	resp, err := w.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Model:        w.model,
		Tools:        chooseTools(),
	})
	if err != nil {
		return s, fmt.Errorf("choose for question %d: %w", q.QuestionID, err)
	}
	s.Usage.Add(resp.Usage)

	s.ChooseLog = append(s.ChooseLog, resp.Content)

	if len(resp.ToolCalls) == 0 {
		return s, fmt.Errorf("%w at choose for question %d", ErrNoToolCall, q.QuestionID)
	}

	kind, _, err := parseToolCall(resp.ToolCalls[0], ToolAPIAgent, ToolProceedFurther)
	if err != nil {
		return s, err
	}

	s.ChooseTool = kind
	return s, nil
}

// apiNode delegates to the sub-agent on first entry for this question,
// caching every endpoint response. Each pass consumes the next cached
// response as that attempt's answer, so the validation loop can retry
// against a different already-fetched response without re-invoking the
// sub-agent.
func (w *Workflow) apiNode(ctx graph.Context, s State) (State, error) {
	q := s.CurrentQuestion()

	if len(s.APIResponses) == 0 || s.APICalls >= len(s.APIResponses) {
		responses, err := w.agent.Invoke(ctx, s.Context)
		if err != nil {
			return s, fmt.Errorf("api sub-agent for question %d: %w", q.QuestionID, err)
		}
		if len(responses) == 0 {
			return s, fmt.Errorf("api sub-agent found no endpoints for question %d", q.QuestionID)
		}
		s.APIResponses = responses
		s.APICalls = 0
	}

	answer := s.APIResponses[s.APICalls]
	s.APICalls++

	s.Answers = append(s.Answers, Answer{Question: q, Answer: strings.TrimSpace(answer)})
	return s, nil
}

// answerNode produces the short direct answer from context alone.
func (w *Workflow) answerNode(ctx graph.Context, s State) (State, error) {
	q := s.CurrentQuestion()

	system, user, err := answerPrompt.Render(map[string]string{
		"question": q.Question,
		"plan":     s.Plan,
		"context":  s.Context,
	})
	if err != nil {
		return s, err
	}

	resp, err := w.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Model:        w.model,
	})
	if err != nil {
		return s, fmt.Errorf("answer question %d: %w", q.QuestionID, err)
	}
	s.Usage.Add(resp.Usage)

	s.Answers = append(s.Answers, Answer{Question: q, Answer: strings.TrimSpace(resp.Content)})
	return s, nil
}

// validateNode submits the full answer set, placeholders included, and
// stores the raw verdict. A transport failure leaves the result absent
// rather than failing the node; downstream routing treats that as "not
// yet validated".
func (w *Workflow) validateNode(ctx graph.Context, s State) (State, error) {
	payload := verify.NewPayload(w.task, w.apiKey, len(s.Questions))
	for _, a := range s.Answers {
		payload.Answer[verify.Key(a.QuestionID-1)] = a.Answer
	}

	result, err := w.verifier.Submit(ctx, payload)
	if err != nil {
		w.logger.Warn("verification unreachable, treating as not validated",
			slog.String("error", err.Error()),
		)
		s.LastResult = nil
		return s, nil
	}

	s.LastResult = result
	return s, nil
}

// formatNode handles both finish and per-question success: the current
// answer is accepted, so advance to the next question and reset every
// per-question transient.
func (w *Workflow) formatNode(ctx graph.Context, s State) (State, error) {
	accepted := s.CurrentQuestion()

	s.Index++
	s.Plan = ""
	s.APIResponses = nil
	s.APICalls = 0
	s.QueriedFacts = nil
	s.WrongLog = nil
	s.LastResult = nil
	s.Approved = false
	s.GatherTool = ""
	s.ChooseTool = ""
	s.LastRetrieved = ""
	s.rebuildContext()

	if s.Index >= len(s.Questions) {
		s.Done = true
	}

	ctx.Logger().Info("answer accepted",
		slog.Int("question", accepted.QuestionID),
		slog.Int("answered", len(s.Answers)),
		slog.Int("total", len(s.Questions)),
	)
	return s, nil
}

// errorNode handles a plain wrong answer: pop it, record it in the
// wrong-answer log, rebuild the context and restart planning for the
// same question.
func (w *Workflow) errorNode(ctx graph.Context, s State) (State, error) {
	if wrong, ok := s.popAnswer(); ok {
		s.WrongLog = append(s.WrongLog, wrong.Answer)
	}

	s.Plan = ""
	s.APIResponses = nil
	s.APICalls = 0
	s.QueriedFacts = nil
	s.LastResult = nil
	s.GatherTool = ""
	s.ChooseTool = ""
	s.LastRetrieved = ""
	s.rebuildContext()

	ctx.Logger().Info("answer rejected, retrying",
		slog.Int("question", s.CurrentQuestion().QuestionID),
		slog.Int("wrong_so_far", len(s.WrongLog)),
	)
	return s, nil
}

// apiErrorNode handles a wrong API-derived answer: pop it and either
// let the api node consume the next cached response or, when the cache
// is exhausted, clear it so the sub-agent runs fresh.
func (w *Workflow) apiErrorNode(ctx graph.Context, s State) (State, error) {
	s.popAnswer()
	s.LastResult = nil

	if s.APICalls >= len(s.APIResponses) {
		s.APIResponses = nil
		s.APICalls = 0
		ctx.Logger().Info("api response cache exhausted, sub-agent will be re-invoked",
			slog.Int("question", s.CurrentQuestion().QuestionID),
		)
	} else {
		ctx.Logger().Info("advancing to next cached api response",
			slog.Int("question", s.CurrentQuestion().QuestionID),
			slog.Int("cursor", s.APICalls),
			slog.Int("cached", len(s.APIResponses)),
		)
	}
	return s, nil
}

// Run drives the orchestrator to completion. When the session already
// has checkpoints the run continues from the latest one, so the process
// can exit and restart between human interactions. The review loop
// blocks on the approver at every retrieval checkpoint; rejection
// aborts the run.
func (w *Workflow) Run(ctx context.Context, questions []transcript.Question, conversations []transcript.File, approver hitl.Approver, store checkpoint.Store, sessionID string) ([]Answer, error) {
	compiled, err := w.Build()
	if err != nil {
		return nil, err
	}

	gctx := graph.NewContext(ctx, graph.WithLogger(w.logger))
	runOpts := []graph.RunOption{
		graph.WithSession(store, sessionID),
		graph.WithInterruptBefore(nodeHuman),
		graph.WithMaxIterations(maxIterations),
	}

	var state State
	infos, err := store.List(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) > 0 {
		w.logger.Info("resuming session", slog.String("session", sessionID))
		state, err = compiled.Resume(gctx, store, sessionID,
			graph.WithRunOptions[State](runOpts...),
		)
	} else {
		state, err = compiled.Run(gctx, NewState(questions, conversations), runOpts...)
	}

	for {
		if err == nil {
			w.logger.Info("model usage",
				slog.Int("input_tokens", state.Usage.InputTokens),
				slog.Int("output_tokens", state.Usage.OutputTokens),
				slog.Int("total_tokens", state.Usage.TotalTokens),
			)
			return state.Answers, nil
		}
		var intr *graph.InterruptError
		if !errors.As(err, &intr) && !errors.Is(err, ErrNoVerdict) {
			return state.Answers, err
		}

		decision, _, reviewErr := approver.Review(state.LastRetrieved)
		if reviewErr != nil {
			return state.Answers, reviewErr
		}
		if decision != hitl.Approve {
			return state.Answers, ErrAborted
		}

		state, err = compiled.Resume(gctx, store, sessionID,
			graph.WithStateOverride(func(s State) State {
				s.Verdict = VerdictApprove
				return s
			}),
			graph.WithRunOptions[State](runOpts...),
		)
	}
}
