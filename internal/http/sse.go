package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/events"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

const sseHeartbeat = 30 * time.Second

// handleEvents streams pipeline progress as Server-Sent Events. With a
// run_id query parameter only that run is streamed and the stream ends when
// the run fails or its last stage completes.
//
// Event format:
//
//	event: running
//	data: {"run_id":"...","stage":"classify","status":"running",...}
//
//	event: completed
//	data: {"run_id":"...","stage":"review","status":"completed",...}
func (s *Server) handleEvents(c echo.Context) error {
	if s.events == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "events are not enabled")
	}
	runID := c.QueryParam("run_id")

	msgChan := make(chan *nats.Msg, 32)
	sub, err := s.events.Subscribe(runID, msgChan)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case msg := <-msgChan:
			u, err := events.Decode(msg)
			if err != nil {
				s.logger.Warn(ctx, "dropping malformed progress event", zap.String("subject", msg.Subject), zap.Error(err))
				continue
			}

			fmt.Fprintf(c.Response(), "event: %s\n", u.Status)
			fmt.Fprintf(c.Response(), "data: %s\n\n", string(msg.Data))
			c.Response().Flush()

			if runID != "" && runFinished(u) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-ctx.Done():
			return nil
		}
	}
}

func runFinished(u orchestrator.Progress) bool {
	if u.Status == orchestrator.StatusFailed {
		return true
	}
	return u.Stage == orchestrator.StageReview && u.Status == orchestrator.StatusCompleted
}
