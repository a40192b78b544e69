package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/config"
	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
	"github.com/zakeri-dev/kbpipe/internal/core/usecase"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/chunking"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/dispatch/temporalx"
	openaiembed "github.com/zakeri-dev/kbpipe/internal/infrastructure/embedding/openai"
	eventsnats "github.com/zakeri-dev/kbpipe/internal/infrastructure/events/nats"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/extract"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/extract/docling"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/extract/fileparse"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/extract/mistral"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/queue/redisq"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/repository/postgres"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/resilience"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/storage/miniostore"
	"github.com/zakeri-dev/kbpipe/internal/observability/logging"
	"github.com/zakeri-dev/kbpipe/internal/observability/metrics"
)

// App wires configuration into the full adapter graph once, so the api and
// worker binaries share one composition root and differ only in which
// surfaces they serve.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Documents    ports.DocumentService
	Orchestrator *usecase.OrchestratorUseCase
	Lifecycle    ports.LifecycleService
	Processor    ports.DocumentProcessor
	Queue        ports.JobQueue

	TemporalConfig temporalx.Config
	ServerMetrics  *metrics.HTTPServerMetrics
	WorkerMetrics  *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, service string, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	executorCfg := resilience.DefaultConfig()
	executorCfg.Logger = logging.Component(logger, "resilience")
	executor := resilience.NewExecutor(executorCfg)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	docs := postgres.NewDocumentRepository(db)
	if err := docs.EnsureSchema(ctx, cfg.EmbeddingDimensions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	chunks := postgres.NewChunkRepository(db)

	store, err := miniostore.New(miniostore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, executor)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		// The bucket is only needed to give inline payloads a durable URL for
		// OCR, so a missing object store degrades extraction instead of
		// failing boot.
		logger.Warn("object_store_unavailable", slog.Any("error", err))
	}

	queue, err := redisq.New(cfg.RedisURL, redisq.Config{
		Concurrency:  cfg.QueueConcurrency,
		MaxAttempts:  cfg.QueueMaxAttempts,
		RetryDelay:   cfg.QueueRetryDelay,
		PollInterval: cfg.QueuePollInterval,
	}, logging.Component(logger, "queue"))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job queue: %w", err)
	}

	temporalCfg := temporalx.Config{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
		TaskQueue: cfg.TemporalTaskQueue,
	}
	dispatcher, err := temporalx.NewDispatcher(temporalCfg, logging.Component(logger, "temporal"))
	if err != nil {
		_ = queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init task dispatcher: %w", err)
	}

	events, err := eventsnats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, eventsnats.Options{
		ResilienceExecutor: executor,
		Logger:             logging.Component(logger, "events"),
	})
	if err != nil {
		dispatcher.Close()
		_ = queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init event publisher: %w", err)
	}

	workerMetrics := metrics.NewWorkerMetrics(service)
	serverMetrics := metrics.NewHTTPServerMetrics(service)

	extractor := extract.NewChain(
		mistral.New(cfg.MistralOCRURL, cfg.MistralAPIKey, cfg.MistralOCRModel, cfg.OCRTimeout, executor),
		docling.New(cfg.DoclingURL, cfg.OCRTimeout, executor),
		fileparse.New(),
		extract.NewFetcher(cfg.DownloadTimeout, cfg.MaxFileSize),
		store,
		logging.Component(logger, "extract"),
	)

	embedder := openaiembed.New(openaiembed.Config{
		BaseURL:           cfg.EmbeddingAPIURL,
		APIKey:            cfg.EmbeddingAPIKey,
		Model:             cfg.EmbeddingModel,
		Dimensions:        cfg.EmbeddingDimensions,
		BatchSize:         cfg.EmbeddingBatchSize,
		RequestsPerSecond: cfg.EmbeddingRPS,
	}, executor)

	publisher := &meteredPublisher{next: events, metrics: workerMetrics, service: service}
	processor := &meteredProcessor{
		next: usecase.NewProcessDocumentUseCase(
			docs, chunks, extractor, chunking.NewSplitter(), embedder, publisher, logger, cfg.ProcessTimeout,
		),
		metrics: workerMetrics,
		service: service,
	}

	orchestrator := usecase.NewOrchestratorUseCase(processor, docs, dispatcher, queue, logger, usecase.OrchestratorConfig{
		QueueMaxAttempts: cfg.QueueMaxAttempts,
		Concurrency:      cfg.SchedulerConcurrency,
		BatchSize:        cfg.SchedulerBatchSize,
		BatchDelay:       cfg.SchedulerBatchDelay,
		DocumentDelay:    cfg.SchedulerDocDelay,
	})

	return &App{
		Config: cfg,
		Logger: logger,

		Documents:    usecase.NewDocumentUseCase(docs, logger),
		Orchestrator: orchestrator,
		Lifecycle:    usecase.NewLifecycleUseCase(docs, chunks, orchestrator, logger, cfg.DeadProcessThreshold),
		Processor:    processor,
		Queue:        queue,

		TemporalConfig: temporalCfg,
		ServerMetrics:  serverMetrics,
		WorkerMetrics:  workerMetrics,

		closeFn: func() {
			dispatcher.Close()
			events.Close()
			_ = queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// meteredProcessor wraps the pipeline with in-flight, outcome, and duration
// metrics. Chunk counts are observed from completion events instead, because
// the processor's return carries no count.
type meteredProcessor struct {
	next    ports.DocumentProcessor
	metrics *metrics.WorkerMetrics
	service string
}

func (p *meteredProcessor) ProcessDocument(ctx context.Context, knowledgeBaseID, documentID string, opts domain.ProcessingOptions) error {
	p.metrics.StartDocument()
	start := time.Now()
	err := p.next.ProcessDocument(ctx, knowledgeBaseID, documentID, opts)
	p.metrics.FinishDocument(p.service, time.Since(start), err)
	return err
}

type meteredPublisher struct {
	next    ports.EventPublisher
	metrics *metrics.WorkerMetrics
	service string
}

func (p *meteredPublisher) PublishProcessingEvent(ctx context.Context, event domain.ProcessingEvent) error {
	if event.Type == domain.EventProcessingCompleted {
		p.metrics.ObserveDocumentChunks(p.service, event.ChunkCount)
	}
	return p.next.PublishProcessingEvent(ctx, event)
}
