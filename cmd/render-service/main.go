// Command render-service serves agent conversations as model-rendered HTML
// over HTTP: a blocking render endpoint and a streaming variant that emits
// agent progress and HTML chunks as server-sent events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zcox/messagedb-agent-sub000/pkg/config"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	_ "github.com/zcox/messagedb-agent-sub000/pkg/llm/anthropic"
	_ "github.com/zcox/messagedb-agent-sub000/pkg/llm/openai"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
	"github.com/zcox/messagedb-agent-sub000/pkg/render"
	"github.com/zcox/messagedb-agent-sub000/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "",
		"Path to configuration file (.env format)")
	flag.Parse()

	// 1. Load configuration and install logging
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.Logging)

	slog.Info("Starting render service",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"agent_model", cfg.Model.AgentModel,
		"render_model", cfg.Model.RenderModel)

	ctx := context.Background()

	// 2. Connect to the message store (installs the schema unless skipped)
	store, err := messagedb.NewClient(ctx, cfg.MessageDB)
	if err != nil {
		slog.Error("Failed to connect to message store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Connected to message store",
		"host", cfg.MessageDB.Host,
		"database", cfg.MessageDB.Database)

	// 3. Create model clients
	agentModel, err := llm.Factory(cfg.AgentModelConfig())
	if err != nil {
		slog.Error("Failed to create agent model client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := agentModel.Close(); err != nil {
			slog.Error("Error closing agent model client", "error", err)
		}
	}()

	renderModel, err := llm.Factory(cfg.RenderModelConfig())
	if err != nil {
		slog.Error("Failed to create render model client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := renderModel.Close(); err != nil {
			slog.Error("Error closing render model client", "error", err)
		}
	}()
	slog.Info("Model clients initialized",
		"agent_model", agentModel.ModelName(),
		"render_model", renderModel.ModelName())

	// 4. Build the HTTP service
	svc := render.NewService(store, agentModel, renderModel, cfg.EngineOptions())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: svc.Router(),
	}

	// 5. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown with a bounded timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
