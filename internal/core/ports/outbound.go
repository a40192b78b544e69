package ports

import (
	"context"
	"io"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	CreateBatch(ctx context.Context, docs []domain.Document) error
	GetByID(ctx context.Context, knowledgeBaseID, id string) (*domain.Document, error)
	List(ctx context.Context, knowledgeBaseID string, filter domain.DocumentFilter) (*domain.DocumentPage, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, message string) error
	Update(ctx context.Context, knowledgeBaseID, id string, update domain.DocumentUpdate) error
	BulkSetEnabled(ctx context.Context, knowledgeBaseID string, ids []string, enabled bool) error
	BulkSoftDelete(ctx context.Context, knowledgeBaseID string, ids []string) error
}

// ChunkRepository owns chunk rows plus the cross-table transactions that keep
// them consistent with their document's counters.
type ChunkRepository interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ResetForRetry(ctx context.Context, knowledgeBaseID, documentID string) error
}

// ObjectStore stores source files and hands out short-lived download URLs.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, data io.Reader, size int64) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// OCRService extracts text from a document reachable at a durable URL.
// Configured reports whether the tier is worth attempting at all; an
// unconfigured tier is skipped, not treated as an error.
type OCRService interface {
	Name() string
	Configured() bool
	ExtractText(ctx context.Context, fileURL, filename string) (string, error)
}

// FileParser extracts text from raw bytes by file extension.
type FileParser interface {
	Parse(ctx context.Context, filename string, data []byte) (string, error)
}

// FileFetcher downloads a source file with a size cap.
type FileFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TextExtractor runs the tiered extraction chain for one source.
type TextExtractor interface {
	Extract(ctx context.Context, source domain.TextSource) (*domain.ExtractionResult, error)
}

// Chunker splits extracted text into offset-tracked chunks.
type Chunker interface {
	Split(text string, opts domain.ProcessingOptions) []domain.Chunk
}

// Embedder builds vectors for chunk texts, preserving input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// JobHandler consumes one queued job; a non-nil error triggers the retry policy.
type JobHandler func(ctx context.Context, job domain.Job) error

// JobQueue enqueues and consumes processing jobs with uniform stats.
type JobQueue interface {
	AddJob(ctx context.Context, job domain.Job) error
	ProcessJobs(ctx context.Context, handler JobHandler) error
	Stats(ctx context.Context) domain.QueueStats
	Clear(ctx context.Context) error
}

// TaskDispatcher hands processing off to an external task service.
type TaskDispatcher interface {
	Available(ctx context.Context) bool
	DispatchProcessing(ctx context.Context, knowledgeBaseID, documentID string, opts domain.ProcessingOptions) error
}

// EventPublisher broadcasts document lifecycle transitions.
type EventPublisher interface {
	PublishProcessingEvent(ctx context.Context, event domain.ProcessingEvent) error
}
