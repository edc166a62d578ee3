package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
)

// BackendChromem names the semantic store.
const BackendChromem = "chromem"

var chromemTracer = otel.Tracer("arcyn.memory.chromem")

// Embedder vectorizes text. gateway.Provider satisfies it.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, texts []string) *gateway.EmbeddingResponse
}

// ChromemConfig configures ChromemStore.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the database in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// Collection defaults to "arcyn_runs".
	Collection string

	// Namespace is written on every record and used to filter searches.
	Namespace string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "arcyn_runs"
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
}

// ChromemStore stores run records in a chromem-go collection and searches
// them by embedding similarity.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	config     ChromemConfig
	logger     *logging.Logger
}

// NewChromemStore opens (or creates) the configured collection.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	cfg.ApplyDefaults()

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, perr := expandPath(cfg.Path)
		if perr != nil {
			return nil, fmt.Errorf("expanding path: %w", perr)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		cfg.Path = path
	}

	s := &ChromemStore{db: db, embedder: embedder, config: cfg, logger: logger}

	// The embedding func must be passed even for existing collections,
	// otherwise chromem falls back to its OpenAI default.
	s.collection, err = db.GetOrCreateCollection(cfg.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info(context.Background(), "chromem memory store initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", s.collection.Count()),
	)
	return s, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := s.embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}
}

func (s *ChromemStore) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp := s.embedder.GenerateEmbedding(ctx, texts)
	if resp == nil || !resp.Success {
		msg := "no response"
		if resp != nil {
			msg = resp.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingFailed, msg)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// Store implements Store.
func (s *ChromemStore) Store(ctx context.Context, goal string, content map[string]any) (*StoreResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Store")
	defer span.End()

	rec, err := newRecord(s.config.Namespace, goal, content)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("key", rec.Key))

	text := rec.document()
	vecs, err := s.embed(ctx, []string{text})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	data, err := json.Marshal(rec.Content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}

	doc := chromem.Document{
		ID:      rec.ID,
		Content: text,
		Metadata: map[string]string{
			"key":        rec.Key,
			"namespace":  rec.Namespace,
			"goal":       rec.Goal,
			"content":    string(data),
			"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
		},
		Embedding: vecs[0],
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding document: %w", err)
	}
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug(ctx, "stored run record",
		zap.String("key", rec.Key),
		zap.String("collection", s.config.Collection),
	)

	return &StoreResult{
		Success:   true,
		RecordID:  rec.ID,
		Key:       rec.Key,
		Namespace: rec.Namespace,
		Backend:   BackendChromem,
	}, nil
}

// Search implements Store. pattern is embedded and compared against stored
// records in the store's namespace.
func (s *ChromemStore) Search(ctx context.Context, pattern string, limit int) (*SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	if strings.TrimSpace(pattern) == "" {
		return nil, errors.New("query cannot be empty")
	}
	limit = limitOrDefault(limit)

	// chromem requires nResults <= document count.
	count := s.collection.Count()
	if count == 0 {
		return &SearchResult{Query: pattern, Results: []SearchHit{}}, nil
	}
	if limit > count {
		limit = count
	}
	span.SetAttributes(attribute.Int("k", limit))

	results, err := s.collection.Query(ctx, pattern, limit, map[string]string{"namespace": s.config.Namespace}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{Record: recordFromMetadata(r.ID, r.Metadata), Score: r.Similarity})
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")

	return &SearchResult{Query: pattern, Results: hits, Count: len(hits)}, nil
}

// Stats implements Store.
func (s *ChromemStore) Stats(_ context.Context) (*Stats, error) {
	n := s.collection.Count()
	return &Stats{
		Backend: BackendChromem,
		Records: n,
		Namespaces: map[string]NamespaceStats{
			s.config.Namespace: {Count: n},
		},
	}, nil
}

func recordFromMetadata(id string, md map[string]string) Record {
	rec := Record{
		ID:        id,
		Key:       md["key"],
		Namespace: md["namespace"],
		Goal:      md["goal"],
		SizeBytes: len(md["content"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, md["created_at"]); err == nil {
		rec.CreatedAt = ts
	}
	if c := md["content"]; c != "" {
		_ = json.Unmarshal([]byte(c), &rec.Content)
	}
	return rec
}
