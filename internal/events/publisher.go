// Package events publishes pipeline progress to NATS so other processes can
// follow a run. Each update goes to <prefix>.<run_id>.<stage> as JSON.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/config"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

// DefaultSubjectPrefix is used when the configured prefix is empty.
const DefaultSubjectPrefix = "arcyn.pipeline"

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("events: publisher closed")

// Publisher sends progress updates to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *logging.Logger
}

// Connect dials the server at cfg.URL and returns a publisher that owns the
// connection.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("events: url is required")
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("arcyn"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership of nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{
		nc:     nc,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.Named("events"),
	}
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn { return p.nc }

// Subject returns the subject progress for the given run and stage is
// published on.
func (p *Publisher) Subject(runID string, stage orchestrator.Stage) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, token(runID), stage)
}

// RunSubject returns the wildcard subject matching every stage of a run,
// or of every run when runID is empty.
func (p *Publisher) RunSubject(runID string) string {
	if runID == "" {
		return p.prefix + ".>"
	}
	return fmt.Sprintf("%s.%s.*", p.prefix, token(runID))
}

// Publish sends one progress update.
func (p *Publisher) Publish(u orchestrator.Progress) error {
	if p.nc == nil || p.nc.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	subject := p.Subject(u.RunID, u.Stage)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Listener adapts the publisher to orchestrator.WithProgress. Publish
// failures are logged and never reach the pipeline.
func (p *Publisher) Listener() orchestrator.ProgressFunc {
	return func(u orchestrator.Progress) {
		if err := p.Publish(u); err != nil {
			p.logger.Warn(context.Background(), "progress publish failed",
				zap.String("run_id", u.RunID),
				zap.String("stage", string(u.Stage)),
				zap.Error(err),
			)
		}
	}
}

// Subscribe delivers every update for runID, or for all runs when runID is
// empty, to ch until the returned subscription is unsubscribed.
func (p *Publisher) Subscribe(runID string, ch chan *nats.Msg) (*nats.Subscription, error) {
	if p.nc == nil || p.nc.IsClosed() {
		return nil, ErrClosed
	}
	return p.nc.ChanSubscribe(p.RunSubject(runID), ch)
}

// Decode parses a message published by Publish.
func Decode(msg *nats.Msg) (orchestrator.Progress, error) {
	var u orchestrator.Progress
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		return u, fmt.Errorf("failed to decode progress: %w", err)
	}
	return u, nil
}

// Flush waits until the server has processed everything published so far.
func (p *Publisher) Flush() error {
	if p.nc == nil || p.nc.IsClosed() {
		return ErrClosed
	}
	return p.nc.Flush()
}

// Close drains the connection when the publisher owns it.
func (p *Publisher) Close() error {
	if !p.owned || p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

// token makes s safe for use as a single subject token.
func token(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
