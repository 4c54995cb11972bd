package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/docsign/internal/adapters/mcp"
	"github.com/kirillkom/docsign/internal/bootstrap"
	"github.com/kirillkom/docsign/internal/config"
	"github.com/kirillkom/docsign/internal/observability/logging"
)

const serviceName = "docsign-mcp"

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	// stdout carries the MCP protocol.
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	app, err := bootstrap.New(context.Background(), cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := mcpadapter.NewServer(app.SignUC, app.LocateUC, logger).MCPServer(version)
	logger.Info("mcp_serving_stdio", "version", version)
	if err := server.ServeStdio(srv); err != nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
