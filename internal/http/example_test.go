package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/arcyn/internal/http"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/memory"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	logger := logging.Nop()
	store := memory.NewKeyedStore("example", logger)

	deps := httpserver.Deps{
		Orchestrator: orchestrator.New(orchestrator.WithMemory(store), orchestrator.WithLogger(logger)),
		Memory:       store,
	}
	cfg := &httpserver.Config{
		Host:            "localhost",
		Port:            0,
		PipelineTimeout: time.Minute,
	}

	server, err := httpserver.NewServer(deps, logger, cfg)
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Underlying().Debug("server stopped", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Underlying().Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
