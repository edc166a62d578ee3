package orchestrator

import (
	"time"

	"go.uber.org/zap"
)

// Progress reports a stage starting or finishing.
type Progress struct {
	RunID      string      `json:"run_id"`
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	AgentID    string      `json:"agent_id"`
	Message    string      `json:"message"`
	Percentage int         `json:"percentage"`
	DurationMS float64     `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ProgressFunc receives progress updates. It is called synchronously from
// the running stage, so it should return quickly.
type ProgressFunc func(Progress)

func (o *Orchestrator) emit(p Progress) {
	if len(o.progress) == 0 {
		return
	}
	p.Timestamp = time.Now()
	for _, fn := range o.progress {
		o.notify(fn, p)
	}
}

func (o *Orchestrator) notify(fn ProgressFunc, p Progress) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Underlying().Warn("progress listener panicked",
				zap.String("stage", string(p.Stage)), zap.Any("panic", r))
		}
	}()
	fn(p)
}
