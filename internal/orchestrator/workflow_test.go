package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qemc/conversation-gluer/internal/apiagent"
	"github.com/qemc/conversation-gluer/internal/facts"
	"github.com/qemc/conversation-gluer/internal/hitl"
	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/qdrant"
	"github.com/qemc/conversation-gluer/internal/transcript"
	"github.com/qemc/conversation-gluer/internal/verify"
	"github.com/qemc/conversation-gluer/pkg/graph"
	"github.com/qemc/conversation-gluer/pkg/graph/checkpoint"
)

// fakeModel replays canned completions in order and records every
// request it saw.
type fakeModel struct {
	replies  []*llm.CompletionResponse
	requests []llm.CompletionRequest
	vector   []float32
}

func (f *fakeModel) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if len(f.replies) == 0 {
		return nil, fmt.Errorf("fake model out of replies (call %d)", len(f.requests))
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeModel) Embed(context.Context, string) ([]float32, error) {
	return f.vector, nil
}

func text(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content}
}

func toolCall(name, args string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: name, Arguments: json.RawMessage(args)}},
	}
}

// verdictServer replays canned verification verdicts and records the
// submitted payloads.
type verdictServer struct {
	*httptest.Server
	verdicts []string
	payloads []verify.Payload
}

func newVerdictServer(t *testing.T, verdicts ...string) *verdictServer {
	t.Helper()
	vs := &verdictServer{verdicts: verdicts}
	vs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p verify.Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		vs.payloads = append(vs.payloads, p)
		require.NotEmpty(t, vs.verdicts, "verification called more times than scripted")
		w.Write([]byte(vs.verdicts[0]))
		vs.verdicts = vs.verdicts[1:]
	}))
	return vs
}

// stubApprover replays canned checkpoint decisions.
type stubApprover struct {
	decisions []hitl.Decision
	shown     []string
}

func (s *stubApprover) Review(content string) (hitl.Decision, string, error) {
	s.shown = append(s.shown, content)
	if len(s.decisions) == 0 {
		return hitl.Abort, "", nil
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d, "", nil
}

func oneQuestion() []transcript.Question {
	return []transcript.Question{{QuestionID: 1, Question: "What was found?"}}
}

func sourceFiles() []transcript.File {
	return []transcript.File{{ConvID: 1, Conversation: []string{"hello", "something was found", "bye"}}}
}

func newWorkflow(model *fakeModel, verifier *verify.Client, retriever *facts.Retriever, agent *apiagent.Agent) *Workflow {
	return New(model, "m", retriever, verifier, agent, "phone", "key", nil)
}

// TestHumanNode verifies verdict handling at the checkpoint.
func TestHumanNode(t *testing.T) {
	w := newWorkflow(&fakeModel{}, nil, nil, nil)
	ctx := graph.NewContext(nil)
	base := State{Questions: oneQuestion()}

	t.Run("approve", func(t *testing.T) {
		s := base
		s.Verdict = VerdictApprove
		out, err := w.humanNode(ctx, s)
		require.NoError(t, err)
		assert.True(t, out.Approved)
		assert.Empty(t, out.Verdict)
	})

	t.Run("no verdict", func(t *testing.T) {
		_, err := w.humanNode(ctx, base)
		assert.ErrorIs(t, err, ErrNoVerdict)
	})

	t.Run("reject aborts", func(t *testing.T) {
		s := base
		s.Verdict = VerdictReject
		_, err := w.humanNode(ctx, s)
		assert.ErrorIs(t, err, ErrAborted)
	})
}

// TestFormatNode verifies advancing resets every per-question transient
// and rebuilds the context from the source conversations.
func TestFormatNode(t *testing.T) {
	w := newWorkflow(&fakeModel{}, nil, nil, nil)
	ctx := graph.NewContext(nil)

	s := State{
		Questions:    twoQuestions(),
		BaseContext:  "base",
		Context:      "base\n\nretrieved facts",
		Index:        0,
		Plan:         "plan",
		APIResponses: []string{"r1"},
		APICalls:     1,
		QueriedFacts: []int{3},
		WrongLog:     []string{"blue"},
		LastResult:   &verify.Result{Code: 0},
		Approved:     true,
		GatherLog:    []string{"thinking"},
		Answers:      []Answer{{Answer: "a"}},
	}

	out, err := w.formatNode(ctx, s)

	require.NoError(t, err)
	assert.Equal(t, 1, out.Index)
	assert.False(t, out.Done)
	assert.Empty(t, out.Plan)
	assert.Nil(t, out.APIResponses)
	assert.Zero(t, out.APICalls)
	assert.Nil(t, out.QueriedFacts)
	assert.Nil(t, out.WrongLog)
	assert.Nil(t, out.LastResult)
	assert.False(t, out.Approved)
	assert.Equal(t, "base", out.Context)
	// accepted answers and step logs survive the reset
	assert.Len(t, out.Answers, 1)
	assert.Len(t, out.GatherLog, 1)

	out.LastResult = &verify.Result{Code: 0}
	final, err := w.formatNode(ctx, out)
	require.NoError(t, err)
	assert.True(t, final.Done)
}

// TestErrorNode verifies a rejected answer lands in the wrong-answer
// log and the rebuilt context warns against repeating it.
func TestErrorNode(t *testing.T) {
	w := newWorkflow(&fakeModel{}, nil, nil, nil)
	ctx := graph.NewContext(nil)

	s := State{
		Questions:   twoQuestions(),
		BaseContext: "base",
		Context:     "base\n\nfacts",
		Answers: []Answer{
			{Question: transcript.Question{QuestionID: 1}, Answer: "kept"},
			{Question: transcript.Question{QuestionID: 2}, Answer: "blue"},
		},
		WrongLog:   []string{"red"},
		LastResult: &verify.Result{Code: verify.CodeWrongAnswer},
		Plan:       "plan",
	}
	s.Index = 1

	out, err := w.errorNode(ctx, s)

	require.NoError(t, err)
	assert.Equal(t, []string{"red", "blue"}, out.WrongLog)
	require.Len(t, out.Answers, 1)
	assert.Equal(t, "kept", out.Answers[0].Answer)
	assert.Nil(t, out.LastResult)
	assert.Empty(t, out.Plan)
	assert.Contains(t, out.Context, "- red")
	assert.Contains(t, out.Context, "- blue")
}

// TestAPIErrorNode verifies the cached-response cursor: advance while
// responses remain, clear the cache once exhausted.
func TestAPIErrorNode(t *testing.T) {
	w := newWorkflow(&fakeModel{}, nil, nil, nil)
	ctx := graph.NewContext(nil)

	t.Run("responses remain", func(t *testing.T) {
		s := State{
			Questions:    oneQuestion(),
			Answers:      []Answer{{Answer: "first response"}},
			APIResponses: []string{"r1", "r2"},
			APICalls:     1,
			LastResult:   &verify.Result{Code: verify.CodeWrongAnswer},
		}
		out, err := w.apiErrorNode(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, []string{"r1", "r2"}, out.APIResponses)
		assert.Equal(t, 1, out.APICalls)
		assert.Empty(t, out.Answers)
		assert.Nil(t, out.LastResult)
	})

	t.Run("cache exhausted", func(t *testing.T) {
		s := State{
			Questions:    oneQuestion(),
			Answers:      []Answer{{Answer: "second response"}},
			APIResponses: []string{"r1", "r2"},
			APICalls:     2,
		}
		out, err := w.apiErrorNode(ctx, s)
		require.NoError(t, err)
		assert.Nil(t, out.APIResponses)
		assert.Zero(t, out.APICalls)
	})
}

// TestNodeUsageAccumulates verifies every model call adds its token
// counts to the running total carried in state.
func TestNodeUsageAccumulates(t *testing.T) {
	model := &fakeModel{replies: []*llm.CompletionResponse{
		{Content: "plan", Usage: llm.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
		{Content: "answer", Usage: llm.TokenUsage{InputTokens: 20, OutputTokens: 2, TotalTokens: 22}},
	}}
	w := newWorkflow(model, nil, nil, nil)
	ctx := graph.NewContext(nil)

	s := State{Questions: oneQuestion()}
	s, err := w.planNode(ctx, s)
	require.NoError(t, err)
	s, err = w.answerNode(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, 30, s.Usage.InputTokens)
	assert.Equal(t, 7, s.Usage.OutputTokens)
	assert.Equal(t, 37, s.Usage.TotalTokens)
}

// TestRun_DirectAnswer drives one question straight through: plan,
// sufficient context, direct answer, accepted on first submission.
func TestRun_DirectAnswer(t *testing.T) {
	vs := newVerdictServer(t, `{"code": 0, "message": "ok"}`)
	defer vs.Close()

	model := &fakeModel{replies: []*llm.CompletionResponse{
		text("Answer with a short phrase."),
		toolCall("proceed_further", "{}"),
		toolCall("proceed_further", "{}"),
		text("something was found"),
	}}

	w := newWorkflow(model, verify.NewClient(vs.URL), nil, nil)
	answers, err := w.Run(context.Background(), oneQuestion(), sourceFiles(), &stubApprover{}, checkpoint.NewMemoryStore(), "sess")

	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "something was found", answers[0].Answer)

	require.Len(t, vs.payloads, 1)
	assert.Equal(t, "phone", vs.payloads[0].Task)
	assert.Equal(t, "key", vs.payloads[0].APIKey)
	assert.Equal(t, "something was found", vs.payloads[0].Answer["01"])
}

// TestRun_WrongAnswerRetried rejects the first answer; the retry prompt
// must carry the wrong-answer log and the final set must hold the
// second answer only.
func TestRun_WrongAnswerRetried(t *testing.T) {
	vs := newVerdictServer(t,
		`{"code": -350, "message": "Answer for question 01 is incorrect"}`,
		`{"code": 0, "message": "ok"}`,
	)
	defer vs.Close()

	model := &fakeModel{replies: []*llm.CompletionResponse{
		text("plan"),
		toolCall("proceed_further", "{}"),
		toolCall("proceed_further", "{}"),
		text("blue"),
		text("plan again"),
		toolCall("proceed_further", "{}"),
		toolCall("proceed_further", "{}"),
		text("green"),
	}}

	w := newWorkflow(model, verify.NewClient(vs.URL), nil, nil)
	answers, err := w.Run(context.Background(), oneQuestion(), sourceFiles(), &stubApprover{}, checkpoint.NewMemoryStore(), "sess")

	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "green", answers[0].Answer)

	// the second answer prompt warns against the rejected answer
	require.Len(t, model.requests, 8)
	retryPrompt := model.requests[7].Messages[0].Content
	assert.Contains(t, retryPrompt, "- blue")
}

// TestRun_ResearchCheckpoint routes through retrieval and the human
// checkpoint: the operator sees the retrieved cluster, approves, and
// the answer prompt carries the facts.
func TestRun_ResearchCheckpoint(t *testing.T) {
	qs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/facts/points/search":
			w.Write([]byte(`{"result": [
				{"score": 0.9, "payload": {"text": "middle", "factId": 3, "position": 1}}
			]}`))
		case "/collections/facts/points/scroll":
			w.Write([]byte(`{"result": {"points": [
				{"payload": {"text": "middle", "factId": 3, "position": 1}},
				{"payload": {"text": "start", "factId": 3, "position": 0}},
				{"payload": {"text": "finish", "factId": 3, "position": 2}}
			]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer qs.Close()

	vs := newVerdictServer(t, `{"code": 0, "message": "ok"}`)
	defer vs.Close()

	model := &fakeModel{
		vector: []float32{0.1},
		replies: []*llm.CompletionResponse{
			text("plan"),
			toolCall("research_query", `{"query": "what was in sector D"}`),
			toolCall("proceed_further", "{}"),
			toolCall("proceed_further", "{}"),
			text("sector D held the samples"),
		},
	}

	retriever := facts.NewRetriever(model, qdrant.New(qs.URL), "facts", nil)
	approver := &stubApprover{decisions: []hitl.Decision{hitl.Approve}}

	w := newWorkflow(model, verify.NewClient(vs.URL), retriever, nil)
	answers, err := w.Run(context.Background(), oneQuestion(), sourceFiles(), approver, checkpoint.NewMemoryStore(), "sess")

	require.NoError(t, err)
	require.Len(t, answers, 1)

	require.Len(t, approver.shown, 1)
	assert.Contains(t, approver.shown[0], "start\nmiddle\nfinish")

	// the post-approval gather prompt includes the retrieved cluster
	gatherPrompt := model.requests[2].Messages[0].Content
	assert.Contains(t, gatherPrompt, "start\nmiddle\nfinish")
}

// TestRun_RepeatedQuerySentinel re-queries after the nearest cluster
// was already retrieved: the context gains the no-new-data sentinel, not
// a second copy of the facts.
func TestRun_RepeatedQuerySentinel(t *testing.T) {
	qs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/facts/points/search":
			w.Write([]byte(`{"result": [
				{"score": 0.9, "payload": {"text": "middle", "factId": 3, "position": 1}}
			]}`))
		case "/collections/facts/points/scroll":
			w.Write([]byte(`{"result": {"points": [
				{"payload": {"text": "start", "factId": 3, "position": 0}},
				{"payload": {"text": "middle", "factId": 3, "position": 1}}
			]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer qs.Close()

	vs := newVerdictServer(t, `{"code": 0, "message": "ok"}`)
	defer vs.Close()

	model := &fakeModel{
		vector: []float32{0.1},
		replies: []*llm.CompletionResponse{
			text("plan"),
			toolCall("research_query", `{"query": "first pass"}`),
			toolCall("research_query", `{"query": "second pass"}`),
			toolCall("proceed_further", "{}"),
			toolCall("proceed_further", "{}"),
			text("answered"),
		},
	}

	retriever := facts.NewRetriever(model, qdrant.New(qs.URL), "facts", nil)
	approver := &stubApprover{decisions: []hitl.Decision{hitl.Approve, hitl.Approve}}

	w := newWorkflow(model, verify.NewClient(vs.URL), retriever, nil)
	answers, err := w.Run(context.Background(), oneQuestion(), sourceFiles(), approver, checkpoint.NewMemoryStore(), "sess")

	require.NoError(t, err)
	require.Len(t, answers, 1)

	require.Len(t, approver.shown, 2)
	assert.Contains(t, approver.shown[0], "start\nmiddle")
	assert.Equal(t, noNewDataSentinel, approver.shown[1])

	// the answer prompt context holds the cluster once, plus the sentinel
	finalPrompt := model.requests[5].Messages[0].Content
	assert.Equal(t, 1, strings.Count(finalPrompt, "Facts retrieved for"))
	assert.Contains(t, finalPrompt, noNewDataSentinel)
}

// TestRun_RejectAtCheckpoint verifies operator rejection aborts the
// whole run.
func TestRun_RejectAtCheckpoint(t *testing.T) {
	qs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": []}`))
	}))
	defer qs.Close()

	model := &fakeModel{
		vector: []float32{0.1},
		replies: []*llm.CompletionResponse{
			text("plan"),
			toolCall("research_query", `{"query": "anything"}`),
		},
	}

	retriever := facts.NewRetriever(model, qdrant.New(qs.URL), "facts", nil)
	approver := &stubApprover{decisions: []hitl.Decision{hitl.Reject}}

	w := newWorkflow(model, nil, retriever, nil)
	_, err := w.Run(context.Background(), oneQuestion(), sourceFiles(), approver, checkpoint.NewMemoryStore(), "sess")

	assert.ErrorIs(t, err, ErrAborted)
}

// TestRun_APIRetriesCachedThenFresh sends the question down the API
// path; after the first response is rejected the exhausted cache makes
// the sub-agent run again, and the fresh response is accepted.
func TestRun_APIRetriesCachedThenFresh(t *testing.T) {
	var hits int
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Write([]byte("wrong flag"))
			return
		}
		w.Write([]byte("right flag"))
	}))
	defer endpoint.Close()

	vs := newVerdictServer(t,
		`{"code": -350, "message": "Answer for question 01 is incorrect"}`,
		`{"code": 0, "message": "ok"}`,
	)
	defer vs.Close()

	model := &fakeModel{replies: []*llm.CompletionResponse{
		text("plan"),
		toolCall("proceed_further", "{}"),
		toolCall("api_agent_tool", "{}"),
	}}

	agentModel := &fakeModel{replies: []*llm.CompletionResponse{text("hunter2"), text("hunter2")}}
	agent := apiagent.New(agentModel, "m", nil)

	files := []transcript.File{{ConvID: 1, Conversation: []string{
		"The password is hunter2.",
		"Post it to " + endpoint.URL + "/submit.",
	}}}

	w := newWorkflow(model, verify.NewClient(vs.URL), nil, agent)
	answers, err := w.Run(context.Background(), oneQuestion(), files, &stubApprover{}, checkpoint.NewMemoryStore(), "sess")

	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "right flag", answers[0].Answer)
	assert.Equal(t, 2, hits)
}

// TestRun_NoToolCallFatal verifies the one-tool-call contract: a bare
// text reply at a tool-bound step halts the run.
func TestRun_NoToolCallFatal(t *testing.T) {
	model := &fakeModel{replies: []*llm.CompletionResponse{
		text("plan"),
		text("I think the context is fine."),
	}}

	w := newWorkflow(model, nil, nil, nil)
	_, err := w.Run(context.Background(), oneQuestion(), sourceFiles(), &stubApprover{}, checkpoint.NewMemoryStore(), "sess")

	assert.ErrorIs(t, err, ErrNoToolCall)
}
