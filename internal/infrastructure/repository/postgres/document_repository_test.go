package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &DocumentRepository{db: db}, mock, func() { _ = db.Close() }
}

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "knowledge_base_id", "filename", "file_url", "file_size", "mime_type",
		"chunk_count", "token_count", "character_count", "processing_status",
		"processing_started_at", "processing_completed_at", "processing_error", "enabled",
		"tag_1", "tag_2", "tag_3", "tag_4", "tag_5", "tag_6", "tag_7",
		"uploaded_at", "deleted_at",
	})
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, knowledge_base_id, filename").
		WithArgs("kb-1", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "kb-1", "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDScansTagSlots(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	uploaded := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, knowledge_base_id, filename").
		WithArgs("kb-1", "doc-1").
		WillReturnRows(documentRows().AddRow(
			"doc-1", "kb-1", "report.pdf", "https://files.example.com/report.pdf", int64(2048), "application/pdf",
			3, 120, 480, "completed",
			nil, nil, nil, true,
			"finance", "q1", nil, nil, nil, nil, nil,
			uploaded, nil,
		))

	doc, err := repo.GetByID(context.Background(), "kb-1", "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.ProcessingStatus != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %q", doc.ProcessingStatus)
	}
	if doc.Tags.Tag1 == nil || *doc.Tags.Tag1 != "finance" {
		t.Fatalf("expected tag_1 finance, got %v", doc.Tags.Tag1)
	}
	if doc.Tags.Tag2 == nil || *doc.Tags.Tag2 != "q1" {
		t.Fatalf("expected tag_2 q1, got %v", doc.Tags.Tag2)
	}
	if doc.Tags.Tag3 != nil {
		t.Fatalf("expected empty tag_3, got %v", *doc.Tags.Tag3)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkProcessingReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", string(domain.StatusProcessing), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkProcessing(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkFailedStampsMessageAndCompletedAt(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("doc-1", string(domain.StatusFailed), "extraction failed: empty content", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailed(context.Background(), "doc-1", "extraction failed: empty content"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateBatchInsertsEveryRowInOneTransaction(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	docs := []domain.Document{
		{ID: "doc-1", KnowledgeBaseID: "kb-1", Filename: "a.pdf", ProcessingStatus: domain.StatusPending, Enabled: true, UploadedAt: now},
		{ID: "doc-2", KnowledgeBaseID: "kb-1", Filename: "b.txt", ProcessingStatus: domain.StatusPending, Enabled: true, UploadedAt: now},
	}
	if err := repo.CreateBatch(context.Background(), docs); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListAppliesSearchFilterAndPagination(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents`).
		WithArgs("kb-1", "%report%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT id, knowledge_base_id, filename").
		WithArgs("kb-1", "%report%", 5, 10).
		WillReturnRows(documentRows().AddRow(
			"doc-9", "kb-1", "report-q3.pdf", "https://files.example.com/q3.pdf", int64(4096), "application/pdf",
			0, 0, 0, "pending",
			nil, nil, nil, true,
			nil, nil, nil, nil, nil, nil, nil,
			time.Now().UTC(), nil,
		))

	page, err := repo.List(context.Background(), "kb-1", domain.DocumentFilter{
		Search: "report",
		Limit:  5,
		Offset: 10,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 7 {
		t.Fatalf("expected total 7, got %d", page.Total)
	}
	if len(page.Documents) != 1 || page.Documents[0].ID != "doc-9" {
		t.Fatalf("unexpected page contents: %+v", page.Documents)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBulkSoftDeleteTargetsOnlyGivenIDs(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("kb-1", sqlmock.AnyArg(), "doc-1", "doc-2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.BulkSoftDelete(context.Background(), "kb-1", []string{"doc-1", "doc-2"}); err != nil {
		t.Fatalf("BulkSoftDelete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
