package reconstruct

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qemc/conversation-gluer/internal/transcript"
)

// Operator verdict values injected at the review checkpoint.
const (
	VerdictApprove = "approve"
	VerdictReject  = "reject"
)

// State is the workflow state threaded through every node. It is
// serialized whole into checkpoints, so all fields are exported.
type State struct {
	// Conversations to reconstruct, ordered by ascending target length
	// so the easy ones shrink the pool before the hard ones run.
	Conversations []transcript.Conversation `json:"conversations"`

	// Pool holds the candidate middle sentences not yet consumed by a
	// saved conversation.
	Pool []string `json:"pool"`

	// Index is the conversation currently being reconstructed.
	Index int `json:"index"`

	// Proposal is the model's ordered sentence sequence for the current
	// conversation, boundaries included.
	Proposal []string `json:"proposal,omitempty"`

	// Hint carries a rejected proposal (and any operator feedback)
	// forward into the next attempt.
	Hint string `json:"hint,omitempty"`

	// Verdict is set by the operator on resume, consumed by the review
	// node.
	Verdict string `json:"verdict,omitempty"`

	// Feedback is the operator's rejection note, if any.
	Feedback string `json:"feedback,omitempty"`

	// Rejected marks that the review node turned the proposal down.
	Rejected bool `json:"rejected,omitempty"`

	// ParseOK marks that the proposal passed pool validation and its
	// sentences were committed out of the pool.
	ParseOK bool `json:"parseOk,omitempty"`

	// Done marks that every conversation has been saved.
	Done bool `json:"done,omitempty"`
}

// NewState builds the initial state from the remote source payload.
func NewState(src *transcript.Source) State {
	conversations := make([]transcript.Conversation, len(src.Conversations))
	copy(conversations, src.Conversations)
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].Length < conversations[j].Length
	})

	pool := make([]string, 0, len(src.Pool))
	for _, p := range src.Pool {
		pool = append(pool, strings.TrimSpace(p))
	}

	return State{Conversations: conversations, Pool: pool}
}

// Current returns the conversation under reconstruction.
func (s State) Current() transcript.Conversation {
	return s.Conversations[s.Index]
}

// RenderProposal formats the proposal for operator review.
func (s State) RenderProposal() string {
	var b strings.Builder
	conv := s.Current()
	fmt.Fprintf(&b, "conversation %d (%d of %d sentences):\n", conv.ID, len(s.Proposal), conv.Length)
	for i, line := range s.Proposal {
		fmt.Fprintf(&b, "%d. %s\n", i+1, line)
	}
	return b.String()
}
