package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

const documentColumns = `id, knowledge_base_id, filename, file_url, file_size, mime_type,
	chunk_count, token_count, character_count, processing_status,
	processing_started_at, processing_completed_at, processing_error, enabled,
	tag_1, tag_2, tag_3, tag_4, tag_5, tag_6, tag_7, uploaded_at, deleted_at`

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context, embeddingDims int) error {
	if embeddingDims <= 0 {
		embeddingDims = 1536
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026031501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	knowledge_base_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	file_url TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	token_count INTEGER NOT NULL DEFAULT 0,
	character_count INTEGER NOT NULL DEFAULT 0,
	processing_status TEXT NOT NULL,
	processing_started_at TIMESTAMPTZ,
	processing_completed_at TIMESTAMPTZ,
	processing_error TEXT,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	tag_1 TEXT,
	tag_2 TEXT,
	tag_3 TEXT,
	tag_4 TEXT,
	tag_5 TEXT,
	tag_6 TEXT,
	tag_7 TEXT,
	uploaded_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents(knowledge_base_id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status);
CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at DESC);

CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	knowledge_base_id TEXT NOT NULL,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	chunk_hash TEXT NOT NULL,
	content TEXT NOT NULL,
	content_length INTEGER NOT NULL,
	token_count INTEGER NOT NULL,
	embedding vector(%d),
	embedding_model TEXT,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	tag_1 TEXT,
	tag_2 TEXT,
	tag_3 TEXT,
	tag_4 TEXT,
	tag_5 TEXT,
	tag_6 TEXT,
	tag_7 TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_kb ON document_chunks(knowledge_base_id);
`, embeddingDims)

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) CreateBatch(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
INSERT INTO documents (` + documentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
`
	for i := range docs {
		doc := &docs[i]
		_, err := tx.ExecContext(ctx, query,
			doc.ID, doc.KnowledgeBaseID, doc.Filename, doc.FileURL, doc.FileSize, doc.MimeType,
			doc.ChunkCount, doc.TokenCount, doc.CharacterCount, string(doc.ProcessingStatus),
			doc.ProcessingStartedAt, doc.ProcessingCompletedAt, doc.ProcessingError, doc.Enabled,
			doc.Tags.Tag1, doc.Tags.Tag2, doc.Tags.Tag3, doc.Tags.Tag4, doc.Tags.Tag5, doc.Tags.Tag6, doc.Tags.Tag7,
			doc.UploadedAt, doc.DeletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, knowledgeBaseID, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE knowledge_base_id = $1 AND id = $2 AND deleted_at IS NULL
`, knowledgeBaseID, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document by id", err)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) List(ctx context.Context, knowledgeBaseID string, filter domain.DocumentFilter) (*domain.DocumentPage, error) {
	where := "WHERE knowledge_base_id = $1 AND deleted_at IS NULL"
	args := []any{knowledgeBaseID}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(" AND filename ILIKE $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where += " AND processing_status IN (" + strings.Join(placeholders, ",") + ")"
	}
	if filter.EnabledOnly {
		where += " AND enabled = TRUE"
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM documents " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	limitClause := fmt.Sprintf(" ORDER BY uploaded_at DESC, id LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		limitClause += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents "+where+limitClause, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return &domain.DocumentPage{Documents: out, Total: total}, nil
}

func (r *DocumentRepository) MarkProcessing(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET processing_status = $2, processing_started_at = $3, processing_completed_at = NULL, processing_error = NULL
WHERE id = $1 AND deleted_at IS NULL
`, id, string(domain.StatusProcessing), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document processing: %w", err)
	}
	return requireRow(result, "mark document processing", id)
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, message string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET processing_status = $2, processing_error = $3, processing_completed_at = $4
WHERE id = $1 AND deleted_at IS NULL
`, id, string(domain.StatusFailed), message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return requireRow(result, "mark document failed", id)
}

func (r *DocumentRepository) Update(ctx context.Context, knowledgeBaseID, id string, update domain.DocumentUpdate) error {
	set := make([]string, 0, 4)
	args := []any{knowledgeBaseID, id}

	if update.Filename != nil {
		args = append(args, *update.Filename)
		set = append(set, fmt.Sprintf("filename = $%d", len(args)))
	}
	if update.Enabled != nil {
		args = append(args, *update.Enabled)
		set = append(set, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if update.Tags != nil {
		tags := update.Tags
		args = append(args, tags.Tag1, tags.Tag2, tags.Tag3, tags.Tag4, tags.Tag5, tags.Tag6, tags.Tag7)
		set = append(set, fmt.Sprintf(
			"tag_1 = $%d, tag_2 = $%d, tag_3 = $%d, tag_4 = $%d, tag_5 = $%d, tag_6 = $%d, tag_7 = $%d",
			len(args)-6, len(args)-5, len(args)-4, len(args)-3, len(args)-2, len(args)-1, len(args),
		))
	}
	if len(set) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "update document", errors.New("no fields to update"))
	}

	query := "UPDATE documents SET " + strings.Join(set, ", ") +
		" WHERE knowledge_base_id = $1 AND id = $2 AND deleted_at IS NULL"
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireRow(result, "update document", id)
}

func (r *DocumentRepository) BulkSetEnabled(ctx context.Context, knowledgeBaseID string, ids []string, enabled bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := idPlaceholders(ids, []any{knowledgeBaseID, enabled})
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET enabled = $2
WHERE knowledge_base_id = $1 AND deleted_at IS NULL AND id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return fmt.Errorf("bulk set enabled: %w", err)
	}
	return nil
}

func (r *DocumentRepository) BulkSoftDelete(ctx context.Context, knowledgeBaseID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := idPlaceholders(ids, []any{knowledgeBaseID, time.Now().UTC()})
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET deleted_at = $2
WHERE knowledge_base_id = $1 AND deleted_at IS NULL AND id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return fmt.Errorf("bulk soft delete: %w", err)
	}
	return nil
}

func requireRow(result sql.Result, operation, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}

func idPlaceholders(ids []string, args []any) (string, []any) {
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	return strings.Join(placeholders, ","), args
}

type docScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row docScanner) (domain.Document, error) {
	var doc domain.Document
	var status string
	err := row.Scan(
		&doc.ID,
		&doc.KnowledgeBaseID,
		&doc.Filename,
		&doc.FileURL,
		&doc.FileSize,
		&doc.MimeType,
		&doc.ChunkCount,
		&doc.TokenCount,
		&doc.CharacterCount,
		&status,
		&doc.ProcessingStartedAt,
		&doc.ProcessingCompletedAt,
		&doc.ProcessingError,
		&doc.Enabled,
		&doc.Tags.Tag1,
		&doc.Tags.Tag2,
		&doc.Tags.Tag3,
		&doc.Tags.Tag4,
		&doc.Tags.Tag5,
		&doc.Tags.Tag6,
		&doc.Tags.Tag7,
		&doc.UploadedAt,
		&doc.DeletedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	doc.ProcessingStatus = domain.ProcessingStatus(status)
	return doc, nil
}
