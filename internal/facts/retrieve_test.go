package facts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qemc/conversation-gluer/internal/qdrant"
)

// retrievalServer fakes the vector store: search returns the given
// hits, scroll returns the fragments of cluster 3 out of order.
func retrievalServer(t *testing.T, searchBody string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/facts/points/search":
			w.Write([]byte(searchBody))
		case "/collections/facts/points/scroll":
			w.Write([]byte(`{"result": {"points": [
				{"payload": {"text": "middle", "factId": 3, "position": 1}},
				{"payload": {"text": "start", "factId": 3, "position": 0}},
				{"payload": {"text": "finish", "factId": 3, "position": 2}}
			]}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

// TestRetriever_Query verifies the nearest cluster comes back whole,
// fragments joined in position order.
func TestRetriever_Query(t *testing.T) {
	server := retrievalServer(t, `{"result": [
		{"score": 0.9, "payload": {"text": "middle", "factId": 3, "position": 1}}
	]}`)
	defer server.Close()

	client := &embedOnlyClient{vector: []float32{0.1}}
	retriever := NewRetriever(client, qdrant.New(server.URL), "facts", nil)

	cluster, err := retriever.Query(context.Background(), "what happened in sector D", nil)

	require.NoError(t, err)
	require.NotNil(t, cluster)
	assert.Equal(t, 3, cluster.FactID)
	assert.Equal(t, "start\nmiddle\nfinish", cluster.Text)
}

// TestRetriever_Query_NearestAlreadySeen verifies only the top hit
// counts: when the nearest cluster was already retrieved, the query
// yields nil even if other unseen clusters rank just behind it.
func TestRetriever_Query_NearestAlreadySeen(t *testing.T) {
	server := retrievalServer(t, `{"result": [
		{"score": 0.9, "payload": {"text": "known", "factId": 7, "position": 0}},
		{"score": 0.8, "payload": {"text": "middle", "factId": 3, "position": 1}}
	]}`)
	defer server.Close()

	client := &embedOnlyClient{vector: []float32{0.1}}
	retriever := NewRetriever(client, qdrant.New(server.URL), "facts", nil)

	cluster, err := retriever.Query(context.Background(), "anything", map[int]bool{7: true})

	require.NoError(t, err)
	assert.Nil(t, cluster)
}

// TestRetriever_Query_NoHits verifies a nil cluster when the search
// finds nothing.
func TestRetriever_Query_NoHits(t *testing.T) {
	server := retrievalServer(t, `{"result": []}`)
	defer server.Close()

	client := &embedOnlyClient{vector: []float32{0.1}}
	retriever := NewRetriever(client, qdrant.New(server.URL), "facts", nil)

	cluster, err := retriever.Query(context.Background(), "anything", nil)

	require.NoError(t, err)
	assert.Nil(t, cluster)
}
