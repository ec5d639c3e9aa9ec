// Package reconstruct implements the conversation reconstruction
// workflow: for each scrambled conversation, a model proposes an
// ordering, an operator reviews it, and the consumed sentences are
// removed from the shared pool before the ordered transcript is saved.
package reconstruct

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qemc/conversation-gluer/internal/hitl"
	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/transcript"
	"github.com/qemc/conversation-gluer/pkg/graph"
	"github.com/qemc/conversation-gluer/pkg/graph/checkpoint"
)

// Node identifiers.
const (
	nodePropose = "propose"
	nodeReview  = "review"
	nodeParse   = "parse"
	nodeSave    = "save"
)

// maxIterations raises the engine's runaway guard well above any
// plausible retry count; reconstruction retries carry no cap of their
// own.
const maxIterations = 100_000

// Errors surfaced by the workflow.
var (
	// ErrAborted is returned when the operator terminates the workflow.
	ErrAborted = errors.New("reconstruct: aborted by operator")

	// ErrNoVerdict means the review node executed without an injected
	// verdict. The driver treats it like an interrupt: collect the
	// verdict and resume.
	ErrNoVerdict = errors.New("reconstruct: review reached with no verdict")
)

// Workflow reconstructs conversations one at a time.
type Workflow struct {
	llm    llm.Client
	store  *transcript.Store
	model  string
	logger *slog.Logger
}

// New creates a workflow. model names the completion model used for
// ordering proposals.
func New(client llm.Client, store *transcript.Store, model string, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{llm: client, store: store, model: model, logger: logger}
}

// Build compiles the workflow graph.
func (w *Workflow) Build() (*graph.Compiled[State], error) {
	g := graph.NewGraph[State]()

	g.AddNode(nodePropose, w.proposeNode)
	g.AddNode(nodeReview, w.reviewNode)
	g.AddNode(nodeParse, w.parseNode)
	g.AddNode(nodeSave, w.saveNode)

	g.AddConditionalEdge(nodePropose, func(_ graph.Context, s State) string {
		if len(s.Proposal) == 0 {
			return nodePropose
		}
		return nodeReview
	})
	g.AddConditionalEdge(nodeReview, func(_ graph.Context, s State) string {
		if s.Rejected {
			return nodePropose
		}
		return nodeParse
	})
	g.AddConditionalEdge(nodeParse, func(_ graph.Context, s State) string {
		if !s.ParseOK {
			return nodePropose
		}
		return nodeSave
	})
	g.AddConditionalEdge(nodeSave, func(_ graph.Context, s State) string {
		if s.Done {
			return graph.END
		}
		return nodePropose
	})

	g.SetEntry(nodePropose)
	return g.Compile()
}

// proposeNode asks the model for an ordered sentence sequence. A reply
// that does not decode as a JSON string array leaves the proposal empty
// and the workflow retries the same conversation.
func (w *Workflow) proposeNode(ctx graph.Context, s State) (State, error) {
	s.Proposal = nil
	s.Rejected = false
	s.ParseOK = false
	s.Verdict = ""
	s.Feedback = ""

	conv := s.Current()
	hint := ""
	if s.Hint != "" {
		hint = "\nA previous attempt was rejected. Do not repeat it:\n" + s.Hint
	}

	system, user, err := proposePrompt.Render(map[string]string{
		"first":      conv.Start,
		"last":       conv.End,
		"length":     fmt.Sprintf("%d", conv.Length),
		"candidates": strings.Join(s.Pool, "\n"),
		"hint":       hint,
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
		return s, fmt.Errorf("propose conversation %d: %w", conv.ID, err)
	}

	proposal, err := decodeProposal(resp.Content)
	if err != nil {
		w.logger.Warn("proposal did not decode, retrying",
			slog.Int("conversation", conv.ID),
			slog.String("error", err.Error()),
		)
		return s, nil
	}

	s.Proposal = proposal
	return s, nil
}

// reviewNode consumes the operator verdict injected on resume.
func (w *Workflow) reviewNode(_ graph.Context, s State) (State, error) {
	switch s.Verdict {
	case VerdictApprove:
		s.Rejected = false
	case VerdictReject:
		s.Rejected = true
		hint := strings.Join(s.Proposal, "\n")
		if s.Feedback != "" {
			hint += "\nOperator note: " + s.Feedback
		}
		s.Hint = hint
		s.Proposal = nil
	default:
		return s, fmt.Errorf("%w (conversation %d)", ErrNoVerdict, s.Current().ID)
	}
	s.Verdict = ""
	s.Feedback = ""
	return s, nil
}

// parseNode validates the approved proposal against the pool and, only
// on success, commits the consumed sentences out of it. The proposal's
// middle sentences must remove exactly length-2 pool entries; anything
// else leaves the pool untouched and retries.
func (w *Workflow) parseNode(ctx graph.Context, s State) (State, error) {
	conv := s.Current()
	s.ParseOK = false

	if len(s.Proposal) < 2 {
		return s, nil
	}

	middles := make(map[string]bool, len(s.Proposal)-2)
	for _, line := range s.Proposal[1 : len(s.Proposal)-1] {
		middles[normalize(line)] = true
	}

	remaining := make([]string, 0, len(s.Pool))
	for _, candidate := range s.Pool {
		if !middles[normalize(candidate)] {
			remaining = append(remaining, candidate)
		}
	}

	removed := len(s.Pool) - len(remaining)
	if removed != conv.Length-2 {
		ctx.Logger().Warn("pool mismatch, retrying",
			slog.Int("conversation", conv.ID),
			slog.Int("removed", removed),
			slog.Int("expected", conv.Length-2),
		)
		return s, nil
	}

	s.Pool = remaining
	s.ParseOK = true
	return s, nil
}

// saveNode persists the finished transcript and advances to the next
// conversation, clearing all per-attempt state.
func (w *Workflow) saveNode(ctx graph.Context, s State) (State, error) {
	conv := s.Current()
	file := transcript.File{ConvID: conv.ID, Conversation: s.Proposal}
	if err := w.store.Save(file); err != nil {
		return s, err
	}

	ctx.Logger().Info("conversation saved",
		slog.Int("conversation", conv.ID),
		slog.Int("sentences", len(s.Proposal)),
		slog.Int("pool_remaining", len(s.Pool)),
	)

	s.Index++
	s.Proposal = nil
	s.Hint = ""
	s.ParseOK = false
	s.Rejected = false
	if s.Index >= len(s.Conversations) {
		s.Done = true
	}
	return s, nil
}

// decodeProposal extracts the JSON string array from a model reply,
// tolerating surrounding prose or code fences.
func decodeProposal(content string) ([]string, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON array in reply")
	}

	var proposal []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &proposal); err != nil {
		return nil, err
	}
	if len(proposal) == 0 {
		return nil, errors.New("empty proposal")
	}
	return proposal, nil
}

// Run drives the workflow to completion, looping through the review
// checkpoint with the given approver until every conversation is saved,
// the operator aborts, or the run fails.
func (w *Workflow) Run(ctx context.Context, src *transcript.Source, approver hitl.Approver, store checkpoint.Store, sessionID string) error {
	compiled, err := w.Build()
	if err != nil {
		return err
	}

	gctx := graph.NewContext(ctx, graph.WithLogger(w.logger))
	runOpts := []graph.RunOption{
		graph.WithSession(store, sessionID),
		graph.WithInterruptBefore(nodeReview),
		graph.WithMaxIterations(maxIterations),
	}

	var state State
	infos, err := store.List(sessionID)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) > 0 {
		w.logger.Info("resuming session", slog.String("session", sessionID))
		state, err = compiled.Resume(gctx, store, sessionID,
			graph.WithRunOptions[State](runOpts...),
		)
	} else {
		state, err = compiled.Run(gctx, NewState(src), runOpts...)
	}

	for {
		if err == nil {
			return nil
		}
		var intr *graph.InterruptError
		if !errors.As(err, &intr) && !errors.Is(err, ErrNoVerdict) {
			return err
		}

		decision, feedback, reviewErr := approver.Review(state.RenderProposal())
		if reviewErr != nil {
			return reviewErr
		}
		if decision == hitl.Abort {
			return ErrAborted
		}

		verdict := VerdictApprove
		if decision == hitl.Reject {
			verdict = VerdictReject
		}

		state, err = compiled.Resume(gctx, store, sessionID,
			graph.WithStateOverride(func(s State) State {
				s.Verdict = verdict
				s.Feedback = feedback
				return s
			}),
			graph.WithRunOptions[State](runOpts...),
		)
	}
}
