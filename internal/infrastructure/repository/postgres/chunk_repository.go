package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ReplaceChunks swaps a document's chunk set in one transaction: prior rows
// are deleted, the new generation is inserted, and the document's summary
// counters move to completed. No partial chunk state is ever visible.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete prior chunks: %w", err)
	}

	const insertQuery = `
INSERT INTO document_chunks (
	id, knowledge_base_id, document_id, chunk_index, chunk_hash, content, content_length,
	token_count, embedding, embedding_model, start_offset, end_offset,
	tag_1, tag_2, tag_3, tag_4, tag_5, tag_6, tag_7, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`
	tokenTotal := 0
	characterTotal := 0
	for i := range chunks {
		c := &chunks[i]
		tokenTotal += c.TokenCount
		characterTotal += c.ContentLength

		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}
		_, err := tx.ExecContext(ctx, insertQuery,
			c.ID, c.KnowledgeBaseID, c.DocumentID, c.ChunkIndex, c.ChunkHash, c.Content, c.ContentLength,
			c.TokenCount, embedding, c.EmbeddingModel, c.StartOffset, c.EndOffset,
			c.Tags.Tag1, c.Tags.Tag2, c.Tags.Tag3, c.Tags.Tag4, c.Tags.Tag5, c.Tags.Tag6, c.Tags.Tag7,
			c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	result, err := tx.ExecContext(ctx, `
UPDATE documents
SET chunk_count = $2, token_count = $3, character_count = $4,
	processing_status = $5, processing_completed_at = $6, processing_error = NULL
WHERE id = $1 AND deleted_at IS NULL
`, documentID, len(chunks), tokenTotal, characterTotal, string(domain.StatusCompleted), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	if err := requireRow(result, "complete document", documentID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

// ResetForRetry deletes a document's chunks and rewinds the row to pending in
// one transaction, so a re-run starts from the same state as a fresh upload.
func (r *ChunkRepository) ResetForRetry(ctx context.Context, knowledgeBaseID, documentID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retry tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunks for retry: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
UPDATE documents
SET processing_status = $3, chunk_count = 0, token_count = 0, character_count = 0,
	processing_started_at = NULL, processing_completed_at = NULL, processing_error = NULL
WHERE knowledge_base_id = $1 AND id = $2 AND deleted_at IS NULL
`, knowledgeBaseID, documentID, string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("reset document for retry: %w", err)
	}
	if err := requireRow(result, "reset document for retry", documentID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit retry tx: %w", err)
	}
	return nil
}
