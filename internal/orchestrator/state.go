package orchestrator

import (
	"strings"

	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/transcript"
	"github.com/qemc/conversation-gluer/internal/verify"
)

// Operator verdict values injected at the human checkpoint.
const (
	VerdictApprove = "approve"
	VerdictReject  = "reject"
)

// noNewDataSentinel is appended to the context when retrieval found
// nothing the current attempt has not already seen.
const noNewDataSentinel = "[retrieval returned no new data]"

// Answer pairs a question with its produced answer text.
type Answer struct {
	transcript.Question
	Answer string `json:"answer"`
}

// State is the orchestrator's shared memory, threaded through every
// node and serialized whole into checkpoints.
type State struct {
	// Questions to answer, in ascending id order. Immutable.
	Questions []transcript.Question `json:"questions"`

	// BaseContext is the reconstructed source conversations rendered as
	// text; every per-question context rebuild starts from it.
	BaseContext string `json:"baseContext"`

	// Index of the question currently being answered.
	Index int `json:"index"`

	// Context is the accumulator of everything known for the current
	// attempt. Append-only within an attempt; rebuilt on question
	// change and on retry.
	Context string `json:"context"`

	// Plan is the expected answer format and action plan for the
	// current question. Set once per question, cleared on reset.
	Plan string `json:"plan,omitempty"`

	// GatherLog and ChooseLog accumulate the raw model replies of the
	// two tool-bound steps. Append-only, never truncated.
	GatherLog []string `json:"gatherLog,omitempty"`
	ChooseLog []string `json:"chooseLog,omitempty"`

	// Answers accumulated so far, one per answered question.
	Answers []Answer `json:"answers,omitempty"`

	// QueriedFacts are the fact cluster ids already retrieved this
	// attempt, the dedup guard for retrieval.
	QueriedFacts []int `json:"queriedFacts,omitempty"`

	// APIResponses caches the sub-agent's endpoint responses; APICalls
	// is the cursor of consumed entries.
	APIResponses []string `json:"apiResponses,omitempty"`
	APICalls     int      `json:"apiCalls,omitempty"`

	// Approved records the last human checkpoint outcome.
	Approved bool `json:"approved,omitempty"`

	// Verdict is set by the operator on resume, consumed by the human
	// node.
	Verdict string `json:"verdict,omitempty"`

	// WrongLog lists answers already rejected for the current question.
	WrongLog []string `json:"wrongLog,omitempty"`

	// LastResult is the latest verification verdict. Nil means the
	// answers have not been validated, including after a transport
	// failure.
	LastResult *verify.Result `json:"lastResult,omitempty"`

	// GatherTool and ChooseTool record the tool picked at each
	// tool-bound step; PendingQuery carries the research query text.
	GatherTool   ToolKind `json:"gatherTool,omitempty"`
	ChooseTool   ToolKind `json:"chooseTool,omitempty"`
	PendingQuery string   `json:"pendingQuery,omitempty"`

	// LastRetrieved is the text the retrieve node last appended,
	// presented to the operator at the human checkpoint.
	LastRetrieved string `json:"lastRetrieved,omitempty"`

	// Usage accumulates model token consumption across the whole run,
	// retries included. Never reset.
	Usage llm.TokenUsage `json:"usage"`

	// Done marks that every question was answered and accepted.
	Done bool `json:"done,omitempty"`
}

// NewState builds the initial state from the questions and the
// reconstructed conversations.
func NewState(questions []transcript.Question, conversations []transcript.File) State {
	base := transcript.Render(conversations)
	return State{
		Questions:   questions,
		BaseContext: base,
		Context:     base,
	}
}

// CurrentQuestion returns the question under work.
func (s State) CurrentQuestion() transcript.Question {
	return s.Questions[s.Index]
}

// factSeen reports whether a fact cluster was already retrieved this
// attempt.
func (s State) factSeen(factID int) bool {
	for _, id := range s.QueriedFacts {
		if id == factID {
			return true
		}
	}
	return false
}

// seenFacts returns the queried set in map form for the retriever.
func (s State) seenFacts() map[int]bool {
	seen := make(map[int]bool, len(s.QueriedFacts))
	for _, id := range s.QueriedFacts {
		seen[id] = true
	}
	return seen
}

// rebuildContext resets the accumulator to the source conversations,
// plus the wrong-answer log when retrying the same question.
func (s *State) rebuildContext() {
	var b strings.Builder
	b.WriteString(s.BaseContext)
	if len(s.WrongLog) > 0 {
		b.WriteString("\nPreviously wrong answers, do not repeat:\n")
		for _, wrong := range s.WrongLog {
			b.WriteString("- ")
			b.WriteString(wrong)
			b.WriteByte('\n')
		}
	}
	s.Context = b.String()
}

// popAnswer removes and returns the most recent answer. Returns false
// when there is none.
func (s *State) popAnswer() (Answer, bool) {
	if len(s.Answers) == 0 {
		return Answer{}, false
	}
	last := s.Answers[len(s.Answers)-1]
	s.Answers = s.Answers[:len(s.Answers)-1]
	return last, true
}
