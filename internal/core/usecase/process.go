package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
)

// ProcessDocumentUseCase runs one document through the full pipeline:
// extract, chunk, embed, persist. Every run replaces the previous chunk
// generation; failures land on the document row, never in the queue.
type ProcessDocumentUseCase struct {
	docs      ports.DocumentRepository
	chunks    ports.ChunkRepository
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	events    ports.EventPublisher
	logger    *slog.Logger
	timeout   time.Duration
}

func NewProcessDocumentUseCase(
	docs ports.DocumentRepository,
	chunks ports.ChunkRepository,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	events ports.EventPublisher,
	logger *slog.Logger,
	timeout time.Duration,
) *ProcessDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		docs:      docs,
		chunks:    chunks,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		events:    events,
		logger:    logger,
		timeout:   timeout,
	}
}

func (uc *ProcessDocumentUseCase) ProcessDocument(ctx context.Context, knowledgeBaseID, documentID string, opts domain.ProcessingOptions) error {
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	doc, err := uc.loadDocument(ctx, knowledgeBaseID, documentID)
	if err != nil {
		return err
	}

	if err := uc.docs.MarkProcessing(ctx, doc.ID); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}
	uc.publishEvent(ctx, domain.ProcessingEvent{
		Type:            domain.EventProcessingStarted,
		KnowledgeBaseID: knowledgeBaseID,
		DocumentID:      documentID,
		OccurredAt:      time.Now().UTC(),
	})

	chunkCount, err := uc.runPipeline(ctx, doc, opts)
	if err != nil {
		uc.publishEvent(context.WithoutCancel(ctx), domain.ProcessingEvent{
			Type:            domain.EventProcessingFailed,
			KnowledgeBaseID: knowledgeBaseID,
			DocumentID:      documentID,
			Error:           err.Error(),
			OccurredAt:      time.Now().UTC(),
		})
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	uc.publishEvent(ctx, domain.ProcessingEvent{
		Type:            domain.EventProcessingCompleted,
		KnowledgeBaseID: knowledgeBaseID,
		DocumentID:      documentID,
		ChunkCount:      chunkCount,
		OccurredAt:      time.Now().UTC(),
	})
	return nil
}

func (uc *ProcessDocumentUseCase) runPipeline(ctx context.Context, doc *domain.Document, opts domain.ProcessingOptions) (int, error) {
	result, err := uc.extractText(ctx, doc)
	if err != nil {
		return 0, err
	}

	chunks := uc.chunker.Split(result.Text, opts)

	vectors, err := uc.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	// Tags are re-read just before persisting so edits made while the
	// pipeline was running are not overwritten with a stale snapshot.
	fresh, err := uc.loadDocument(ctx, doc.KnowledgeBaseID, doc.ID)
	if err != nil {
		return 0, err
	}

	rows := uc.buildChunks(fresh, chunks, vectors)
	if err := uc.chunks.ReplaceChunks(ctx, doc.ID, rows); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}
	return len(rows), nil
}

func (uc *ProcessDocumentUseCase) loadDocument(ctx context.Context, knowledgeBaseID, documentID string) (*domain.Document, error) {
	doc, err := uc.docs.GetByID(ctx, knowledgeBaseID, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document) (*domain.ExtractionResult, error) {
	result, err := uc.extractor.Extract(ctx, domain.TextSource{
		URL:      doc.FileURL,
		Filename: doc.Filename,
		MimeType: doc.MimeType,
		FileSize: doc.FileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	if result.Text == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return result, nil
}

func (uc *ProcessDocumentUseCase) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}

func (uc *ProcessDocumentUseCase) buildChunks(doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) []domain.Chunk {
	now := time.Now().UTC()
	model := uc.embedder.ModelID()
	rows := make([]domain.Chunk, len(chunks))
	for i, chunk := range chunks {
		chunk.ID = uuid.NewString()
		chunk.KnowledgeBaseID = doc.KnowledgeBaseID
		chunk.DocumentID = doc.ID
		if i < len(vectors) {
			chunk.Embedding = vectors[i]
			chunk.EmbeddingModel = model
		}
		chunk.Tags = doc.Tags
		chunk.CreatedAt = now
		rows[i] = chunk
	}
	return rows
}

// markFailed records the failure on the row. It runs on a non-cancelable
// context: when the pipeline deadline is what killed the run, the status
// write still has to land.
func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.docs.MarkFailed(context.WithoutCancel(ctx), documentID, processErr.Error())
}

func (uc *ProcessDocumentUseCase) publishEvent(ctx context.Context, event domain.ProcessingEvent) {
	if uc.events == nil {
		return
	}
	if err := uc.events.PublishProcessingEvent(ctx, event); err != nil {
		uc.logger.Warn("event_publish_failed",
			slog.String("document_id", event.DocumentID),
			slog.String("event", string(event.Type)),
			slog.Any("error", err),
		)
	}
}
