package ports

import (
	"context"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

// DocumentService is the inbound contract for the app-facing document surface.
type DocumentService interface {
	CreateDocuments(ctx context.Context, knowledgeBaseID string, inputs []domain.DocumentInput) ([]domain.Document, error)
	GetDocument(ctx context.Context, knowledgeBaseID, documentID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, knowledgeBaseID string, filter domain.DocumentFilter) (*domain.DocumentPage, error)
	UpdateDocument(ctx context.Context, knowledgeBaseID, documentID string, update domain.DocumentUpdate) (*domain.Document, error)
	DeleteDocument(ctx context.Context, knowledgeBaseID, documentID string) error
	BulkOperation(ctx context.Context, knowledgeBaseID string, action domain.BulkAction, documentIDs []string) error
}

// DocumentProcessor runs one document's pipeline end to end.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, knowledgeBaseID, documentID string, opts domain.ProcessingOptions) error
}

// BatchOrchestrator fans a batch out across the available execution tiers and
// returns without waiting for outcomes.
type BatchOrchestrator interface {
	ProcessBatch(ctx context.Context, knowledgeBaseID string, documentIDs []string, opts domain.ProcessingOptions)
}

// LifecycleService covers liveness and retry operations on stuck or failed
// documents.
type LifecycleService interface {
	MarkDeadAfterTimeout(ctx context.Context, documentID string, startedAt time.Time) error
	RetryDocument(ctx context.Context, knowledgeBaseID, documentID string) error
}
