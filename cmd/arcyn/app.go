package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/agents"
	"github.com/fyrsmithlabs/arcyn/internal/config"
	"github.com/fyrsmithlabs/arcyn/internal/events"
	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/memory"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
	"github.com/fyrsmithlabs/arcyn/internal/telemetry"
)

// app holds every service a command needs.
type app struct {
	config    *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	provider  gateway.Provider
	usage     *gateway.UsageTracker
	memory    memory.Store
	events    *events.Publisher
	orch      *orchestrator.Orchestrator
}

// newApp wires the services in dependency order:
//  1. Logger and telemetry
//  2. Provider, when agents or the chromem backend need one
//  3. Memory store
//  4. NATS event publisher, when enabled
//  5. Agents and the orchestrator
//
// Logs go to stdout only when serving; one-shot commands keep stdout for
// results.
func newApp(ctx context.Context, cfg *config.Config, serving bool) (*app, error) {
	a := &app{config: cfg}

	logger, err := initLogger(cfg, serving)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := a.telemetry.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	if err := a.initProvider(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	store, err := a.initMemory()
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize memory: %w", err)
	}
	a.memory = memory.Instrument(store, cfg.Memory.Backend)

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithMemory(a.memory),
		orchestrator.WithMetrics(orchestrator.NewMetrics(logger.Underlying())),
		orchestrator.WithTracer(a.telemetry.Tracer("arcyn.orchestrator")),
	}

	if cfg.Events.Enabled {
		a.events, err = events.Connect(cfg.Events, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		opts = append(opts, orchestrator.WithProgress(a.events.Listener()))
	}

	if cfg.Pipeline.Agents {
		opts = append(opts, orchestrator.WithAgents(agents.Factories(a.provider, a.memory,
			agents.WithConfig(gateway.ConfigFromSettings(cfg.Provider)),
			agents.WithLogger(logger.Named("agents")),
		)))
	}
	a.orch = orchestrator.New(opts...)

	logger.Info(ctx, "arcyn initialized",
		zap.Bool("agents", cfg.Pipeline.Agents),
		zap.Bool("provider", a.provider != nil),
		zap.String("memory_backend", cfg.Memory.Backend),
		zap.Bool("events", a.events != nil),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
	)
	return a, nil
}

func initLogger(cfg *config.Config, serving bool) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if !serving {
		lc.Output.Stdout = false
		lc.Output.Stderr = true
	}
	return logging.NewLogger(lc, nil)
}

// initProvider builds the LLM provider. A provider that cannot be built
// is fatal only for the chromem backend; agents fall back per stage.
func (a *app) initProvider(ctx context.Context) error {
	cfg := a.config
	needEmbeddings := cfg.Memory.Backend == memory.BackendChromem
	if !cfg.Pipeline.Agents && !needEmbeddings {
		return nil
	}

	usage := gateway.NewUsageTracker(gateway.UsageOptionsFromSettings(cfg.Provider)...)
	policy := gateway.NewPolicy(gateway.PolicyFromSettings(cfg.Provider.Policy), usage)
	p, err := gateway.New(gateway.BackendFromSettings(cfg.Provider),
		gateway.WithLogger(a.logger.Named("gateway")),
		gateway.WithMetrics(gateway.NewMetrics(a.logger.Underlying())),
		gateway.WithUsageTracker(usage),
		gateway.WithPolicy(policy),
	)
	if err != nil {
		if needEmbeddings {
			return fmt.Errorf("chromem memory needs an embedding provider: %w", err)
		}
		a.logger.Warn(ctx, "provider unavailable, stages will run fallbacks", zap.Error(err))
		return nil
	}
	a.provider = p
	a.usage = usage
	a.logger.Info(ctx, "provider ready",
		zap.String("backend", cfg.Provider.Backend),
		zap.String("model", cfg.Provider.Model),
		logging.Secret("api_key", cfg.Provider.APIKey),
		zap.Int("budget_tokens", cfg.Provider.BudgetTokens),
		zap.Float64("budget_usd", cfg.Provider.BudgetUSD),
	)
	return nil
}

func (a *app) initMemory() (memory.Store, error) {
	var embedder memory.Embedder
	if a.provider != nil {
		embedder = a.provider
	}
	return memory.New(a.config.Memory, embedder, a.logger.Named("memory"))
}

// Close releases the event connection and flushes telemetry and logs.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
