// Package memory keeps a record of finished pipeline runs so later runs can
// look them up. Two stores are provided: KeyedStore, an in-process map
// searched by substring, and ChromemStore, a chromem-go collection searched
// by embedding similarity.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for store operations.
var (
	// ErrEmptyGoal is returned when a record has no goal.
	ErrEmptyGoal = errors.New("goal is required")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid memory configuration")

	// ErrEmbeddingFailed indicates the embedder could not vectorize a record.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrNotFound is returned by Get for unknown keys.
	ErrNotFound = errors.New("record not found")
)

// DefaultSearchLimit caps search results when the caller passes limit <= 0.
const DefaultSearchLimit = 50

// Store persists run records and searches them.
type Store interface {
	// Store saves content for goal and returns the new record's identity.
	Store(ctx context.Context, goal string, content map[string]any) (*StoreResult, error)

	// Search returns records matching pattern, most relevant first.
	Search(ctx context.Context, pattern string, limit int) (*SearchResult, error)

	// Stats summarizes what the store holds.
	Stats(ctx context.Context) (*Stats, error)
}

// Record is one stored run.
type Record struct {
	ID        string            `json:"id"`
	Key       string            `json:"key"`
	Namespace string            `json:"namespace"`
	Goal      string            `json:"goal"`
	Content   map[string]any    `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SizeBytes int               `json:"size_bytes"`
	CreatedAt time.Time         `json:"created_at"`
}

// StoreResult reports a successful write.
type StoreResult struct {
	Success   bool   `json:"success"`
	RecordID  string `json:"record_id"`
	Key       string `json:"key"`
	Namespace string `json:"namespace"`
	Backend   string `json:"backend"`
}

// SearchHit is one search match. Score is 1 for keyed matches and the
// cosine similarity for semantic ones.
type SearchHit struct {
	Record Record  `json:"record"`
	Score  float32 `json:"score"`
}

// SearchResult holds search matches.
type SearchResult struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
	Count   int         `json:"count"`
}

// NamespaceStats counts records in one namespace.
type NamespaceStats struct {
	Count int `json:"count"`
	Bytes int `json:"bytes"`
}

// Stats describes store contents.
type Stats struct {
	Backend    string                    `json:"backend"`
	Records    int                       `json:"records"`
	Bytes      int                       `json:"bytes"`
	Namespaces map[string]NamespaceStats `json:"namespaces"`
}

// newRecord builds a record with a fresh id and a time-ordered key.
func newRecord(namespace, goal string, content map[string]any) (Record, error) {
	if goal == "" {
		return Record{}, ErrEmptyGoal
	}
	if content == nil {
		content = map[string]any{}
	}
	data, err := json.Marshal(content)
	if err != nil {
		return Record{}, fmt.Errorf("encoding content: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	return Record{
		ID:        id,
		Key:       fmt.Sprintf("goal_%s_%s", now.Format("20060102_150405"), id[:8]),
		Namespace: namespace,
		Goal:      goal,
		Content:   content,
		SizeBytes: len(data),
		CreatedAt: now,
	}, nil
}

// document renders a record as the text that gets embedded.
func (r Record) document() string {
	data, _ := json.Marshal(r.Content)
	text := r.Goal + "\n" + string(data)
	if len(text) > maxDocumentBytes {
		n := maxDocumentBytes
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	return text
}

const maxDocumentBytes = 8000

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return limit
}
