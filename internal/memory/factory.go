package memory

import (
	"fmt"

	"github.com/fyrsmithlabs/arcyn/internal/config"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
)

// New builds the store selected by cfg.Backend. embedder is only used by
// the chromem backend.
func New(cfg config.MemoryConfig, embedder Embedder, logger *logging.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendKeyed:
		return NewKeyedStore(cfg.Namespace, logger), nil
	case BackendChromem:
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
			Namespace:  cfg.Namespace,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
