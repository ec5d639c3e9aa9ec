// Package transcript models dialogue transcripts: the scrambled remote
// source data, the evaluation questions, and the local cache of
// reconstructed conversations.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// Conversation describes one transcript to reconstruct: its two known
// boundary sentences and the target total sentence count.
type Conversation struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Length int    `json:"length"`
	ID     int    `json:"id"`
}

// File is a finished, ordered transcript as persisted to disk.
type File struct {
	ConvID       int      `json:"convId"`
	Conversation []string `json:"conversation"`
}

// Source is the remote payload: the conversation descriptors plus the
// shuffled pool of middle sentences from all conversations mixed
// together.
type Source struct {
	Conversations []Conversation
	Pool          []string
}

// Question is one evaluation question.
type Question struct {
	QuestionID int    `json:"questionId"`
	Question   string `json:"question"`
}

// sourceCount is how many conversations the remote payload carries.
const sourceCount = 5

// Loader fetches source data and questions over HTTP.
type Loader struct {
	httpClient *http.Client
}

// NewLoader creates a loader with a default HTTP client.
func NewLoader() *Loader {
	return &Loader{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// NewLoaderWithClient creates a loader over the given HTTP client.
func NewLoaderWithClient(hc *http.Client) *Loader {
	return &Loader{httpClient: hc}
}

// FetchSource downloads and decodes the scrambled source payload. The
// payload keys conversations as "rozmowa1".."rozmowa5" with the leftover
// sentence pool under "reszta"; ids are assigned from the key number.
func (l *Loader) FetchSource(ctx context.Context, url string) (*Source, error) {
	data, err := l.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch source data: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode source data: %w", err)
	}

	src := &Source{Conversations: make([]Conversation, 0, sourceCount)}
	for i := 1; i <= sourceCount; i++ {
		key := fmt.Sprintf("rozmowa%d", i)
		blob, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("source data missing %q", key)
		}
		var conv Conversation
		if err := json.Unmarshal(blob, &conv); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		conv.ID = i
		src.Conversations = append(src.Conversations, conv)
	}

	blob, ok := raw["reszta"]
	if !ok {
		return nil, fmt.Errorf(`source data missing "reszta"`)
	}
	if err := json.Unmarshal(blob, &src.Pool); err != nil {
		return nil, fmt.Errorf("decode sentence pool: %w", err)
	}
	return src, nil
}

// FetchQuestions downloads the question map ({"01": "...", ...}) and
// returns the questions ordered by id.
func (l *Loader) FetchQuestions(ctx context.Context, url string) ([]Question, error) {
	data, err := l.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	questions := make([]Question, 0, len(raw))
	for id, text := range raw {
		var n int
		if _, err := fmt.Sscanf(id, "%d", &n); err != nil {
			return nil, fmt.Errorf("question id %q is not numeric", id)
		}
		questions = append(questions, Question{QuestionID: n, Question: text})
	}
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].QuestionID < questions[j].QuestionID
	})
	return questions, nil
}

func (l *Loader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
