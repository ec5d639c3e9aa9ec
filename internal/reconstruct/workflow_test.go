package reconstruct

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qemc/conversation-gluer/internal/hitl"
	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/transcript"
	"github.com/qemc/conversation-gluer/pkg/graph/checkpoint"
)

// queueLLM replays canned completions in order and records the user
// messages it was asked.
type queueLLM struct {
	replies []string
	asked   []string
}

func (q *queueLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) > 0 {
		q.asked = append(q.asked, req.Messages[len(req.Messages)-1].Content)
	}
	if len(q.replies) == 0 {
		return &llm.CompletionResponse{Content: "out of replies"}, nil
	}
	reply := q.replies[0]
	q.replies = q.replies[1:]
	return &llm.CompletionResponse{Content: reply}, nil
}

func (q *queueLLM) Embed(context.Context, string) ([]float32, error) {
	panic("embed not expected")
}

// queueApprover replays canned review decisions.
type queueApprover struct {
	decisions []hitl.Decision
	feedback  []string
	shown     []string
}

func (q *queueApprover) Review(content string) (hitl.Decision, string, error) {
	q.shown = append(q.shown, content)
	if len(q.decisions) == 0 {
		return hitl.Abort, "", nil
	}
	d := q.decisions[0]
	q.decisions = q.decisions[1:]
	var fb string
	if len(q.feedback) > 0 {
		fb = q.feedback[0]
		q.feedback = q.feedback[1:]
	}
	return d, fb, nil
}

func testSource() *transcript.Source {
	return &transcript.Source{
		Conversations: []transcript.Conversation{
			{ID: 1, Start: "hello", End: "bye", Length: 3},
			{ID: 2, Start: "good morning", End: "good night", Length: 3},
		},
		Pool: []string{"how are you", "sleep well"},
	}
}

// TestRun_ApprovesAll drives both conversations through propose, review
// and save, checking the pool drains and the transcripts land on disk.
func TestRun_ApprovesAll(t *testing.T) {
	dir := t.TempDir()
	store, err := transcript.NewStore(dir)
	require.NoError(t, err)

	model := &queueLLM{replies: []string{
		`["hello", "how are you", "bye"]`,
		`["good morning", "sleep well", "good night"]`,
	}}
	approver := &queueApprover{decisions: []hitl.Decision{hitl.Approve, hitl.Approve}}

	w := New(model, store, "m", nil)
	err = w.Run(context.Background(), testSource(), approver, checkpoint.NewMemoryStore(), "sess")

	require.NoError(t, err)
	require.Len(t, approver.shown, 2)
	assert.Contains(t, approver.shown[0], "how are you")
	assert.Contains(t, approver.shown[1], "sleep well")

	files, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.FileExists(t, filepath.Join(dir, "conv1.json"))
	assert.FileExists(t, filepath.Join(dir, "conv2.json"))
}

// TestRun_RejectionRetriesWithHint rejects the first proposal and checks
// the retry prompt carries the rejected ordering and the operator note.
func TestRun_RejectionRetriesWithHint(t *testing.T) {
	store, err := transcript.NewStore(t.TempDir())
	require.NoError(t, err)

	src := &transcript.Source{
		Conversations: []transcript.Conversation{{ID: 1, Start: "hello", End: "bye", Length: 3}},
		Pool:          []string{"how are you"},
	}

	model := &queueLLM{replies: []string{
		`["hello", "how are you", "bye"]`,
		`["hello", "how are you", "bye"]`,
	}}
	approver := &queueApprover{
		decisions: []hitl.Decision{hitl.Reject, hitl.Approve},
		feedback:  []string{"greeting feels off"},
	}

	w := New(model, store, "m", nil)
	err = w.Run(context.Background(), src, approver, checkpoint.NewMemoryStore(), "sess")

	require.NoError(t, err)
	require.Len(t, model.asked, 2)
	assert.NotContains(t, model.asked[0], "Operator note")
	assert.Contains(t, model.asked[1], "greeting feels off")

	files, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, files, 1)
}

// TestRun_AbortStopsWorkflow verifies an operator abort surfaces as
// ErrAborted and nothing is saved.
func TestRun_AbortStopsWorkflow(t *testing.T) {
	store, err := transcript.NewStore(t.TempDir())
	require.NoError(t, err)

	model := &queueLLM{replies: []string{`["hello", "how are you", "bye"]`}}
	approver := &queueApprover{decisions: []hitl.Decision{hitl.Abort}}

	w := New(model, store, "m", nil)
	err = w.Run(context.Background(), testSource(), approver, checkpoint.NewMemoryStore(), "sess")

	assert.ErrorIs(t, err, ErrAborted)

	files, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, files)
}

// TestRun_ResumesFromCheckpoint aborts after the first interrupt, then
// runs a fresh workflow over the same session and finishes.
func TestRun_ResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store, err := transcript.NewStore(dir)
	require.NoError(t, err)
	checkpoints := checkpoint.NewMemoryStore()

	model := &queueLLM{replies: []string{
		`["hello", "how are you", "bye"]`,
		`["good morning", "sleep well", "good night"]`,
	}}

	first := New(model, store, "m", nil)
	err = first.Run(context.Background(), testSource(), &queueApprover{}, checkpoints, "sess")
	require.ErrorIs(t, err, ErrAborted)

	approver := &queueApprover{decisions: []hitl.Decision{hitl.Approve, hitl.Approve}}
	second := New(model, store, "m", nil)
	err = second.Run(context.Background(), testSource(), approver, checkpoints, "sess")

	require.NoError(t, err)
	files, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
