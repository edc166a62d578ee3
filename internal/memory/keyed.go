package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/logging"
)

// BackendKeyed names the in-process store.
const BackendKeyed = "keyed"

// KeyedStore is an in-process store keyed by record key. Search matches the
// pattern as a case-insensitive substring of the key or goal.
type KeyedStore struct {
	mu        sync.RWMutex
	records   map[string]Record
	namespace string
	logger    *logging.Logger
}

// NewKeyedStore creates an empty store writing into namespace.
func NewKeyedStore(namespace string, logger *logging.Logger) *KeyedStore {
	if namespace == "" {
		namespace = "default"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &KeyedStore{
		records:   make(map[string]Record),
		namespace: namespace,
		logger:    logger,
	}
}

// Store implements Store.
func (s *KeyedStore) Store(ctx context.Context, goal string, content map[string]any) (*StoreResult, error) {
	rec, err := newRecord(s.namespace, goal, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[rec.Key] = rec
	s.mu.Unlock()

	s.logger.Debug(ctx, "stored run record",
		zap.String("key", rec.Key),
		zap.String("namespace", rec.Namespace),
		zap.Int("size_bytes", rec.SizeBytes),
	)

	return &StoreResult{
		Success:   true,
		RecordID:  rec.ID,
		Key:       rec.Key,
		Namespace: rec.Namespace,
		Backend:   BackendKeyed,
	}, nil
}

// Get returns the record stored under key.
func (s *KeyedStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KeyedStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
}

// Search implements Store. Newest records come first. An empty pattern
// matches everything.
func (s *KeyedStore) Search(_ context.Context, pattern string, limit int) (*SearchResult, error) {
	limit = limitOrDefault(limit)
	needle := strings.ToLower(pattern)

	s.mu.RLock()
	matches := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if strings.Contains(strings.ToLower(rec.Key), needle) ||
			strings.Contains(strings.ToLower(rec.Goal), needle) {
			matches = append(matches, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].Key > matches[j].Key
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	hits := make([]SearchHit, len(matches))
	for i, rec := range matches {
		hits[i] = SearchHit{Record: rec, Score: 1}
	}
	return &SearchResult{Query: pattern, Results: hits, Count: len(hits)}, nil
}

// Stats implements Store.
func (s *KeyedStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{Backend: BackendKeyed, Namespaces: make(map[string]NamespaceStats)}
	for _, rec := range s.records {
		ns := st.Namespaces[rec.Namespace]
		ns.Count++
		ns.Bytes += rec.SizeBytes
		st.Namespaces[rec.Namespace] = ns
		st.Records++
		st.Bytes += rec.SizeBytes
	}
	return st, nil
}
