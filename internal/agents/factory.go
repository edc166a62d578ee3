package agents

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/memory"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

type options struct {
	config gateway.ProviderConfig
	logger *logging.Logger
}

// Option configures agents.
type Option func(*options)

// WithConfig sets the generation settings agents use. Each agent
// overrides the system instruction.
func WithConfig(cfg gateway.ProviderConfig) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func collect(opts []Option) options {
	o := options{config: gateway.DefaultProviderConfig(), logger: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Factories returns an agent factory for every stage. Provider-backed
// agents resolve to nothing when p is nil and fail to resolve when p
// reports unhealthy, so those stages run in fallback mode. The knowledge
// agent needs only store.
func Factories(p gateway.Provider, store memory.Store, opts ...Option) map[orchestrator.Stage]orchestrator.AgentFactory {
	llm := func(build func() orchestrator.Agent) orchestrator.AgentFactory {
		return func(context.Context) (orchestrator.Agent, error) {
			if p == nil {
				return nil, nil
			}
			if !p.HealthCheck() {
				return nil, fmt.Errorf("provider %s is %s", p.Name(), p.Status())
			}
			return build(), nil
		}
	}

	return map[orchestrator.Stage]orchestrator.AgentFactory{
		orchestrator.StageClassify:  llm(func() orchestrator.Agent { return NewPersona(p, opts...) }),
		orchestrator.StagePlan:      llm(func() orchestrator.Agent { return NewArchitect(p, opts...) }),
		orchestrator.StageBuild:     llm(func() orchestrator.Agent { return NewBuilder(p, opts...) }),
		orchestrator.StageValidate:  llm(func() orchestrator.Agent { return NewSystemDesigner(p, opts...) }),
		orchestrator.StageIntegrate: llm(func() orchestrator.Agent { return NewIntegrator(p, opts...) }),
		orchestrator.StageStore: func(context.Context) (orchestrator.Agent, error) {
			if store == nil {
				return nil, nil
			}
			return NewKnowledge(store, opts...), nil
		},
		orchestrator.StageReview: llm(func() orchestrator.Agent { return NewEvolution(p, store, opts...) }),
	}
}
