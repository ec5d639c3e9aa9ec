// Package facts loads local fact documents, splits them into fragments
// and indexes the fragments into the vector store. Each source file is
// one fact cluster; the fragment payload records the cluster id and the
// fragment's position within it so retrieval can pull back a whole
// cluster from any one hit.
package facts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/qdrant"
)

// Fragment is one indexable piece of a fact document.
type Fragment struct {
	Text     string
	FactID   int
	Position int
}

// Load reads every regular file in dir, in directory order, and returns
// its contents. The file's index is its fact cluster id.
func Load(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list facts dir: %w", err)
	}

	var docs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		docs = append(docs, string(data))
	}
	return docs, nil
}

// Split breaks a document into fragments on blank lines, skipping empty
// paragraphs. Position is the fragment's index within the document.
func Split(doc string, factID int) []Fragment {
	paragraphs := strings.Split(doc, "\n\n")
	fragments := make([]Fragment, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fragments = append(fragments, Fragment{
			Text:     p,
			FactID:   factID,
			Position: len(fragments),
		})
	}
	return fragments
}

// Indexer embeds fragments and writes them into a Qdrant collection.
type Indexer struct {
	llm        llm.Client
	store      *qdrant.Client
	collection string
	vectorSize int
	logger     *slog.Logger
}

// NewIndexer creates an indexer for the given collection.
func NewIndexer(client llm.Client, store *qdrant.Client, collection string, vectorSize int, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		llm:        client,
		store:      store,
		collection: collection,
		vectorSize: vectorSize,
		logger:     logger,
	}
}

// Index loads, splits, embeds and upserts every fact document in dir.
func (ix *Indexer) Index(ctx context.Context, dir string) error {
	docs, err := Load(dir)
	if err != nil {
		return err
	}

	if err := ix.store.EnsureCollection(ctx, ix.collection, ix.vectorSize, "Cosine"); err != nil {
		return err
	}

	var points []qdrant.Point
	for factID, doc := range docs {
		for _, frag := range Split(doc, factID) {
			vector, err := ix.llm.Embed(ctx, frag.Text)
			if err != nil {
				return fmt.Errorf("embed fact %d fragment %d: %w", frag.FactID, frag.Position, err)
			}
			points = append(points, qdrant.Point{
				ID:     uuid.NewString(),
				Vector: vector,
				Payload: map[string]any{
					qdrant.FieldText:     frag.Text,
					qdrant.FieldFactID:   frag.FactID,
					qdrant.FieldPosition: frag.Position,
				},
			})
		}
	}

	if err := ix.store.Upsert(ctx, ix.collection, points); err != nil {
		return err
	}

	ix.logger.Info("facts indexed",
		slog.Int("documents", len(docs)),
		slog.Int("fragments", len(points)),
	)
	return nil
}
