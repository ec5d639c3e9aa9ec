package facts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/qdrant"
)

// scrollLimit bounds how many fragments one cluster lookup returns.
// Fact documents are short; this is far above any real cluster size.
const scrollLimit = 256

// Cluster is one whole retrieved fact cluster.
type Cluster struct {
	FactID int
	Text   string
}

// Retriever answers free-text queries with whole fact clusters.
type Retriever struct {
	llm        llm.Client
	store      *qdrant.Client
	collection string
	logger     *slog.Logger
}

// NewRetriever creates a retriever over the given collection.
func NewRetriever(client llm.Client, store *qdrant.Client, collection string, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{llm: client, store: store, collection: collection, logger: logger}
}

// Query embeds the query, finds the single nearest fragment, and
// returns the complete cluster that fragment belongs to, fragments
// joined in position order. Only the top hit is considered: when its
// cluster is already in seen (or nothing matches at all), Query returns
// nil and the caller records that the query produced no new data.
func (r *Retriever) Query(ctx context.Context, query string, seen map[int]bool) (*Cluster, error) {
	vector, err := r.llm.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, r.collection, vector, 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	factID, ok := payloadInt(hits[0].Payload, qdrant.FieldFactID)
	if !ok {
		return nil, fmt.Errorf("nearest hit carries no %s payload", qdrant.FieldFactID)
	}
	if seen[factID] {
		r.logger.Debug("nearest cluster already retrieved",
			slog.Int("factId", factID),
		)
		return nil, nil
	}

	text, err := r.cluster(ctx, factID)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("fact cluster retrieved",
		slog.Int("factId", factID),
		slog.Float64("score", hits[0].Score),
	)
	return &Cluster{FactID: factID, Text: text}, nil
}

func (r *Retriever) cluster(ctx context.Context, factID int) (string, error) {
	payloads, err := r.store.Scroll(ctx, r.collection, qdrant.FieldFactID, factID, scrollLimit)
	if err != nil {
		return "", err
	}

	type positioned struct {
		position int
		text     string
	}
	fragments := make([]positioned, 0, len(payloads))
	for _, p := range payloads {
		pos, _ := payloadInt(p, qdrant.FieldPosition)
		text, _ := p[qdrant.FieldText].(string)
		fragments = append(fragments, positioned{position: pos, text: text})
	}
	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].position < fragments[j].position
	})

	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		parts = append(parts, f.text)
	}
	return strings.Join(parts, "\n"), nil
}

// payloadInt reads an integer payload field. JSON decoding hands
// numbers back as float64.
func payloadInt(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
