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

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// DocumentUseCase is the app-facing CRUD surface over document rows.
// Processing is not triggered here; callers hand created documents to the
// orchestrator themselves.
type DocumentUseCase struct {
	docs   ports.DocumentRepository
	logger *slog.Logger
}

func NewDocumentUseCase(docs ports.DocumentRepository, logger *slog.Logger) *DocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentUseCase{docs: docs, logger: logger}
}

// CreateDocuments bulk-inserts pending rows for already-uploaded files.
// Malformed tag payloads degrade to empty slots rather than failing the
// request; a missing filename or URL fails the whole batch before any insert.
func (uc *DocumentUseCase) CreateDocuments(ctx context.Context, knowledgeBaseID string, inputs []domain.DocumentInput) ([]domain.Document, error) {
	if knowledgeBaseID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create documents", errors.New("knowledge base id is required"))
	}
	if len(inputs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create documents", errors.New("no documents in request"))
	}

	now := time.Now().UTC()
	docs := make([]domain.Document, 0, len(inputs))
	for i, input := range inputs {
		if input.Filename == "" || input.FileURL == "" {
			return nil, domain.WrapError(
				domain.ErrInvalidInput,
				"create documents",
				fmt.Errorf("document %d: filename and file_url are required", i),
			)
		}
		tags, err := domain.ParseTagSet(input.Tags)
		if err != nil {
			uc.logger.Warn("tags_malformed",
				slog.String("knowledge_base_id", knowledgeBaseID),
				slog.String("filename", input.Filename),
				slog.Any("error", err),
			)
			tags = domain.TagSet{}
		}
		docs = append(docs, domain.Document{
			ID:               uuid.NewString(),
			KnowledgeBaseID:  knowledgeBaseID,
			Filename:         input.Filename,
			FileURL:          input.FileURL,
			FileSize:         input.FileSize,
			MimeType:         input.MimeType,
			ProcessingStatus: domain.StatusPending,
			Enabled:          true,
			Tags:             tags,
			UploadedAt:       now,
		})
	}

	if err := uc.docs.CreateBatch(ctx, docs); err != nil {
		return nil, fmt.Errorf("create documents: %w", err)
	}
	return docs, nil
}

func (uc *DocumentUseCase) GetDocument(ctx context.Context, knowledgeBaseID, documentID string) (*domain.Document, error) {
	doc, err := uc.docs.GetByID(ctx, knowledgeBaseID, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *DocumentUseCase) ListDocuments(ctx context.Context, knowledgeBaseID string, filter domain.DocumentFilter) (*domain.DocumentPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	page, err := uc.docs.List(ctx, knowledgeBaseID, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return page, nil
}

func (uc *DocumentUseCase) UpdateDocument(ctx context.Context, knowledgeBaseID, documentID string, update domain.DocumentUpdate) (*domain.Document, error) {
	if update.Filename == nil && update.Enabled == nil && update.Tags == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update document", errors.New("no fields to update"))
	}
	if update.Filename != nil && *update.Filename == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update document", errors.New("filename cannot be empty"))
	}
	if err := uc.docs.Update(ctx, knowledgeBaseID, documentID, update); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	doc, err := uc.docs.GetByID(ctx, knowledgeBaseID, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *DocumentUseCase) DeleteDocument(ctx context.Context, knowledgeBaseID, documentID string) error {
	if _, err := uc.docs.GetByID(ctx, knowledgeBaseID, documentID); err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if err := uc.docs.BulkSoftDelete(ctx, knowledgeBaseID, []string{documentID}); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (uc *DocumentUseCase) BulkOperation(ctx context.Context, knowledgeBaseID string, action domain.BulkAction, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "bulk operation", errors.New("no document ids"))
	}
	var err error
	switch action {
	case domain.BulkEnable:
		err = uc.docs.BulkSetEnabled(ctx, knowledgeBaseID, documentIDs, true)
	case domain.BulkDisable:
		err = uc.docs.BulkSetEnabled(ctx, knowledgeBaseID, documentIDs, false)
	case domain.BulkDelete:
		err = uc.docs.BulkSoftDelete(ctx, knowledgeBaseID, documentIDs)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "bulk operation", fmt.Errorf("unknown action %q", action))
	}
	if err != nil {
		return fmt.Errorf("bulk %s: %w", action, err)
	}
	return nil
}
