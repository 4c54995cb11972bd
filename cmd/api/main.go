package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/docsign/internal/adapters/http"
	"github.com/kirillkom/docsign/internal/bootstrap"
	"github.com/kirillkom/docsign/internal/config"
	"github.com/kirillkom/docsign/internal/observability/logging"
	"github.com/kirillkom/docsign/internal/observability/metrics"
)

const serviceName = "docsign-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	router := httpadapter.NewRouter(
		cfg,
		app.SignUC,
		app.LocateUC,
		app.BatchUC,
		app.Reports,
		metrics.NewHTTPServerMetrics(serviceName),
	).Handler()

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		return err
	}
	if cfg.APIMaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConns)
	}

	// Signing runs synchronously, so writes must outlast one batch.
	writeTimeout := time.Duration(cfg.ProcessTimeoutSeconds)*time.Second + 30*time.Second
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_conns", cfg.APIMaxConns)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
	return nil
}
