package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docsign/internal/config"
	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/core/ports"
	"github.com/kirillkom/docsign/internal/core/usecase"
	"github.com/kirillkom/docsign/internal/infrastructure/imaging"
	"github.com/kirillkom/docsign/internal/infrastructure/pdfdoc"
	"github.com/kirillkom/docsign/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docsign/internal/infrastructure/report/xlsx"
	"github.com/kirillkom/docsign/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docsign/internal/infrastructure/resilience"
	"github.com/kirillkom/docsign/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/docsign/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docsign/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Metrics  *metrics.WorkerMetrics
	Executor *resilience.Executor
	Repo     *postgres.BatchRepository
	Reports  ports.ReportRenderer

	SignUC   *usecase.SignDocumentsUseCase
	LocateUC *usecase.LocateTagsUseCase
	BatchUC  *usecase.BatchQueryUseCase

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	if err := app.init(ctx, service); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context, service string) error {
	cfg := a.Config

	precedence, err := domain.ParsePrecedence(cfg.TagPrecedence)
	if err != nil {
		return err
	}
	overflow, err := domain.ParseOverflowPolicy(cfg.TextOverflow)
	if err != nil {
		return err
	}

	a.Metrics = metrics.NewWorkerMetrics(service)
	a.Executor = resilience.NewExecutor(
		ResilienceConfig(cfg),
		resilience.WithLogger(a.Logger),
		resilience.WithStateObserver(a.Metrics.BreakerStateChanged),
	)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.closeFns = append(a.closeFns, func() { _ = db.Close() })
	a.Repo = postgres.NewBatchRepository(db, a.Executor)
	if err := a.Repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := a.openStorage(ctx)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	engine := pdfdoc.NewEngine()

	overlay := usecase.DefaultOverlay()
	if cfg.TextFontName != "" {
		overlay.Style.FontName = cfg.TextFontName
	}
	if cfg.TextFontSize > 0 {
		overlay.Style.FontSize = cfg.TextFontSize
	}
	overlay.Overflow = overflow
	overlay.FillSignature = cfg.SignatureBackgroundFill

	pass := usecase.NewSubstitutionPass(overlay, precedence, a.Metrics)
	a.SignUC = usecase.NewSignDocumentsUseCase(
		storage,
		engine,
		imaging.NewDecoder(),
		pass,
		a.Repo,
		a.Metrics,
		a.Logger,
		usecase.SignOptions{
			SignedPrefix: cfg.SignedPrefix,
			Concurrency:  cfg.DocumentConcurrency,
		},
	)
	a.LocateUC = usecase.NewLocateTagsUseCase(storage, engine, a.Logger)
	a.BatchUC = usecase.NewBatchQueryUseCase(a.Repo)
	a.Reports = xlsx.NewRenderer()
	return nil
}

func (a *App) openStorage(ctx context.Context) (ports.ObjectStorage, error) {
	switch a.Config.StorageBackend {
	case "", "local":
		return localfs.New(a.Config.StoragePath)
	case "gcs":
		if a.Config.GCSBucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET is required for the gcs storage backend")
		}
		storage, err := gcs.New(ctx, a.Config.GCSBucket, a.Config.GCSPrefix)
		if err != nil {
			return nil, err
		}
		a.closeFns = append(a.closeFns, func() { _ = storage.Close() })
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.Config.StorageBackend)
	}
}

// OpenQueue connects the worker transport. The API and MCP servers run the
// orchestrator in-process and never need it.
func (a *App) OpenQueue() (*nats.Queue, error) {
	queue, err := nats.NewWithOptions(a.Config.NATSURL, a.Config.NATSRequestSubject, nats.Options{
		AckSubject:         a.Config.NATSAckSubject,
		QueueGroup:         a.Config.NATSQueueGroup,
		Subscribers:        a.Config.NATSSubscribers,
		ProcessTimeout:     time.Duration(a.Config.ProcessTimeoutSeconds) * time.Second,
		ResilienceExecutor: a.Executor,
		AckObserver:        a.Metrics.AcknowledgmentPublished,
		Logger:             a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	a.closeFns = append(a.closeFns, queue.Close)
	return queue, nil
}

// HandleSigningMessage processes one raw request and returns the encoded
// acknowledgment for the transport to publish.
func (a *App) HandleSigningMessage(ctx context.Context, payload []byte) ([]byte, error) {
	a.Metrics.StartBatch()
	defer a.Metrics.FinishBatch()

	result := a.SignUC.HandleMessage(ctx, payload)
	return usecase.EncodeAcknowledgment(result)
}

func ResilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:    cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff: time.Duration(cfg.ResilienceRetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:     time.Duration(cfg.ResilienceRetryMaxBackoffMS) * time.Millisecond,
		RetryMultiplier:     cfg.ResilienceRetryMultiplier,

		BreakerEnabled:          cfg.ResilienceBreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.ResilienceBreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:      time.Duration(cfg.ResilienceBreakerOpenTimeoutSeconds) * time.Second,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.ResilienceBreakerHalfOpenMaxCalls, 0)),
	}
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
