// Package orchestrator runs a goal through the fixed seven-stage pipeline.
//
// # Stages
//
//	classify → plan → build → validate → integrate → store → review
//
// Stages run strictly in order and each consumes the output of the one
// before it. Every stage is served either by an Agent, built once by its
// AgentFactory when the orchestrator resolves, or by a deterministic
// fallback. Fallbacks always succeed, so a pipeline with no agents at all
// completes.
//
// # Failures
//
// A stage fails when its input is unusable (an empty goal), when its agent
// returns an error or an output carrying "error", or when integration comes
// back BLOCKED. Execute records the failure on the PipelineResult and stops;
// later stages stay pending. Execute itself never returns an error.
//
// # Lifecycle
//
// New returns an orchestrator in the constructed state. Resolve, called
// explicitly or by the first Execute or Status, moves it to ready. Resolve
// is idempotent.
//
// # Observability
//
// Runs and stages are traced with OpenTelemetry spans, timed by Metrics and
// reported to ProgressFunc listeners when each stage starts and finishes.
package orchestrator
