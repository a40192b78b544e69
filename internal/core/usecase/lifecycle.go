package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
)

const defaultDeadThreshold = 5 * time.Minute

// LifecycleUseCase covers the operations that unstick documents: declaring a
// hung run dead and requeueing a document from scratch.
type LifecycleUseCase struct {
	docs          ports.DocumentRepository
	chunks        ports.ChunkRepository
	orchestrator  ports.BatchOrchestrator
	logger        *slog.Logger
	deadThreshold time.Duration
}

func NewLifecycleUseCase(
	docs ports.DocumentRepository,
	chunks ports.ChunkRepository,
	orchestrator ports.BatchOrchestrator,
	logger *slog.Logger,
	deadThreshold time.Duration,
) *LifecycleUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if deadThreshold <= 0 {
		deadThreshold = defaultDeadThreshold
	}
	return &LifecycleUseCase{
		docs:          docs,
		chunks:        chunks,
		orchestrator:  orchestrator,
		logger:        logger,
		deadThreshold: deadThreshold,
	}
}

// MarkDeadAfterTimeout fails a run that has been processing longer than the
// dead threshold. Runs still inside the threshold are left alone: the worker
// may legitimately be grinding through a large document.
func (uc *LifecycleUseCase) MarkDeadAfterTimeout(ctx context.Context, documentID string, startedAt time.Time) error {
	elapsed := time.Since(startedAt)
	if elapsed < uc.deadThreshold {
		return domain.WrapError(
			domain.ErrInvalidState,
			"mark dead",
			fmt.Errorf("processing for %s, threshold is %s", elapsed.Round(time.Second), uc.deadThreshold),
		)
	}
	message := fmt.Sprintf("processing timed out after %s", elapsed.Round(time.Second))
	if err := uc.docs.MarkFailed(ctx, documentID, message); err != nil {
		return fmt.Errorf("set status=failed: %w", err)
	}
	uc.logger.Warn("document_marked_dead",
		slog.String("document_id", documentID),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// RetryDocument wipes a document's chunks, resets its row to pending, and
// schedules a fresh run with default options. Only a document currently
// processing is refused; completed documents may be retried to re-embed.
func (uc *LifecycleUseCase) RetryDocument(ctx context.Context, knowledgeBaseID, documentID string) error {
	doc, err := uc.docs.GetByID(ctx, knowledgeBaseID, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.ProcessingStatus == domain.StatusProcessing {
		return domain.WrapError(domain.ErrInvalidState, "retry document", errors.New("document is currently processing"))
	}
	if err := uc.chunks.ResetForRetry(ctx, knowledgeBaseID, documentID); err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	uc.orchestrator.ProcessBatch(ctx, knowledgeBaseID, []string{documentID}, domain.DefaultOptions())
	uc.logger.Info("document_retry_scheduled",
		slog.String("knowledge_base_id", knowledgeBaseID),
		slog.String("document_id", documentID),
	)
	return nil
}
