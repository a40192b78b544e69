package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
)

const (
	defaultQueueJobAttempts    = 3
	defaultSchedulerWorkers    = 5
	defaultSchedulerBatchSize  = 10
	defaultSchedulerBatchDelay = 2 * time.Second
	defaultSchedulerDocDelay   = 200 * time.Millisecond
)

// OrchestratorConfig bounds the in-process scheduler tier and the retry
// budget attached to queued jobs.
type OrchestratorConfig struct {
	QueueMaxAttempts int
	Concurrency      int
	BatchSize        int
	BatchDelay       time.Duration
	DocumentDelay    time.Duration
}

func (c OrchestratorConfig) normalize() OrchestratorConfig {
	if c.QueueMaxAttempts <= 0 {
		c.QueueMaxAttempts = defaultQueueJobAttempts
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultSchedulerWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultSchedulerBatchSize
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = defaultSchedulerBatchDelay
	}
	if c.DocumentDelay <= 0 {
		c.DocumentDelay = defaultSchedulerDocDelay
	}
	return c
}

// OrchestratorUseCase fans document batches out across execution tiers:
// workflow dispatch, then the job queue, then an in-process scheduler.
// Dispatcher and queue are both optional; a nil tier is skipped.
type OrchestratorUseCase struct {
	processor  ports.DocumentProcessor
	docs       ports.DocumentRepository
	dispatcher ports.TaskDispatcher
	queue      ports.JobQueue
	logger     *slog.Logger
	cfg        OrchestratorConfig

	consumeOnce sync.Once
}

func NewOrchestratorUseCase(
	processor ports.DocumentProcessor,
	docs ports.DocumentRepository,
	dispatcher ports.TaskDispatcher,
	queue ports.JobQueue,
	logger *slog.Logger,
	cfg OrchestratorConfig,
) *OrchestratorUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrchestratorUseCase{
		processor:  processor,
		docs:       docs,
		dispatcher: dispatcher,
		queue:      queue,
		logger:     logger,
		cfg:        cfg.normalize(),
	}
}

// ProcessBatch hands the batch to the highest tier that will take it and
// returns immediately. The caller's context only scopes tier selection;
// processing itself runs on a detached context so an HTTP response does not
// cancel work already accepted.
func (uc *OrchestratorUseCase) ProcessBatch(ctx context.Context, knowledgeBaseID string, documentIDs []string, opts domain.ProcessingOptions) {
	if len(documentIDs) == 0 {
		return
	}
	ids := make([]string, len(documentIDs))
	copy(ids, documentIDs)

	detached := context.WithoutCancel(ctx)
	go uc.dispatch(detached, knowledgeBaseID, ids, opts)
}

func (uc *OrchestratorUseCase) dispatch(ctx context.Context, knowledgeBaseID string, ids []string, opts domain.ProcessingOptions) {
	if uc.dispatchWorkflows(ctx, knowledgeBaseID, ids, opts) {
		return
	}
	if uc.enqueueJobs(ctx, knowledgeBaseID, ids, opts) {
		return
	}
	uc.runScheduler(ctx, knowledgeBaseID, ids, opts)
}

// dispatchWorkflows is the first tier. An error before any confirmed
// submission means the backend is down despite the health probe, so the whole
// batch falls through. Once one workflow is in, re-routing the rest would risk
// double processing; later failures mark just that document failed.
func (uc *OrchestratorUseCase) dispatchWorkflows(ctx context.Context, knowledgeBaseID string, ids []string, opts domain.ProcessingOptions) bool {
	if uc.dispatcher == nil || !uc.dispatcher.Available(ctx) {
		return false
	}
	submitted := 0
	for _, id := range ids {
		err := uc.dispatcher.DispatchProcessing(ctx, knowledgeBaseID, id, opts)
		if err == nil {
			submitted++
			continue
		}
		if submitted == 0 {
			uc.logger.Warn("workflow_tier_unavailable",
				slog.String("knowledge_base_id", knowledgeBaseID),
				slog.Any("error", err),
			)
			return false
		}
		uc.logger.Error("workflow_dispatch_failed",
			slog.String("document_id", id),
			slog.Any("error", err),
		)
		uc.markDispatchFailed(ctx, id, err)
	}
	uc.logger.Info("batch_dispatched",
		slog.String("tier", "temporal"),
		slog.String("knowledge_base_id", knowledgeBaseID),
		slog.Int("submitted", submitted),
		slog.Int("total", len(ids)),
	)
	return true
}

// enqueueJobs is the second tier. Jobs that land on the in-memory fallback
// can only drain inside this process, so a consumer is ensured before the
// first enqueue.
func (uc *OrchestratorUseCase) enqueueJobs(ctx context.Context, knowledgeBaseID string, ids []string, opts domain.ProcessingOptions) bool {
	if uc.queue == nil {
		return false
	}
	uc.ensureConsumer(ctx)

	enqueued := 0
	for _, id := range ids {
		payload, err := json.Marshal(domain.ProcessJobPayload{
			KnowledgeBaseID: knowledgeBaseID,
			DocumentID:      id,
			Options:         opts,
		})
		if err == nil {
			job := domain.NewJob(domain.JobTypeProcessDocument, payload, uc.cfg.QueueMaxAttempts)
			err = uc.queue.AddJob(ctx, job)
		}
		if err == nil {
			enqueued++
			continue
		}
		if enqueued == 0 {
			uc.logger.Warn("queue_tier_unavailable",
				slog.String("knowledge_base_id", knowledgeBaseID),
				slog.Any("error", err),
			)
			return false
		}
		uc.logger.Error("queue_enqueue_failed",
			slog.String("document_id", id),
			slog.Any("error", err),
		)
		uc.markDispatchFailed(ctx, id, err)
	}
	uc.logger.Info("batch_dispatched",
		slog.String("tier", "queue"),
		slog.String("knowledge_base_id", knowledgeBaseID),
		slog.Int("submitted", enqueued),
		slog.Int("total", len(ids)),
	)
	return true
}

// runScheduler is the last tier: fixed-size batches, each document admitted
// by a bounded blocking pool and staggered by a short delay. Without a
// distributed backend the API process is also doing the pipeline work, so
// concurrency and batch size are halved.
func (uc *OrchestratorUseCase) runScheduler(ctx context.Context, knowledgeBaseID string, ids []string, opts domain.ProcessingOptions) {
	concurrency := uc.cfg.Concurrency
	batchSize := uc.cfg.BatchSize
	if !uc.distributedAvailable(ctx) {
		concurrency = max(1, concurrency/2)
		batchSize = max(1, batchSize/2)
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		uc.logger.Error("scheduler_pool_unavailable", slog.Any("error", err))
		pool = nil
	} else {
		defer pool.Release()
	}

	for start := 0; start < len(ids); start += batchSize {
		if start > 0 {
			time.Sleep(uc.cfg.BatchDelay)
		}
		end := min(start+batchSize, len(ids))
		uc.runBatch(ctx, pool, knowledgeBaseID, ids[start:end], opts)
	}
	uc.logger.Info("batch_dispatched",
		slog.String("tier", "scheduler"),
		slog.String("knowledge_base_id", knowledgeBaseID),
		slog.Int("submitted", len(ids)),
		slog.Int("total", len(ids)),
	)
}

func (uc *OrchestratorUseCase) runBatch(ctx context.Context, pool *ants.Pool, knowledgeBaseID string, batch []string, opts domain.ProcessingOptions) {
	var wg sync.WaitGroup
	for i, id := range batch {
		if i > 0 {
			time.Sleep(uc.cfg.DocumentDelay)
		}
		documentID := id
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := uc.processor.ProcessDocument(ctx, knowledgeBaseID, documentID, opts); err != nil {
				// Failure is already on the document row; log for the operator.
				uc.logger.Error("document_processing_failed",
					slog.String("document_id", documentID),
					slog.Any("error", err),
				)
			}
		}
		if pool == nil {
			task()
			continue
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

// HandleJob consumes one queued processing job. Exposed so worker binaries
// can bind the same handler to their own queue consumers.
func (uc *OrchestratorUseCase) HandleJob(ctx context.Context, job domain.Job) error {
	if job.Type != domain.JobTypeProcessDocument {
		uc.logger.Warn("queue_job_unknown_type",
			slog.String("job_id", job.ID),
			slog.String("type", string(job.Type)),
		)
		return nil
	}
	var payload domain.ProcessJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	return uc.processor.ProcessDocument(ctx, payload.KnowledgeBaseID, payload.DocumentID, payload.Options)
}

func (uc *OrchestratorUseCase) ensureConsumer(ctx context.Context) {
	uc.consumeOnce.Do(func() {
		go func() {
			if err := uc.queue.ProcessJobs(ctx, uc.HandleJob); err != nil {
				uc.logger.Error("queue_consumer_stopped", slog.Any("error", err))
			}
		}()
	})
}

func (uc *OrchestratorUseCase) distributedAvailable(ctx context.Context) bool {
	if uc.queue == nil {
		return false
	}
	return uc.queue.Stats(ctx).Available
}

func (uc *OrchestratorUseCase) markDispatchFailed(ctx context.Context, documentID string, dispatchErr error) {
	message := fmt.Sprintf("dispatch processing: %v", dispatchErr)
	if err := uc.docs.MarkFailed(ctx, documentID, message); err != nil {
		uc.logger.Error("mark_failed_after_dispatch",
			slog.String("document_id", documentID),
			slog.Any("error", err),
		)
	}
}
