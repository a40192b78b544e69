package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
)

type documentServiceFake struct {
	docs []domain.Document
	doc  *domain.Document
	page *domain.DocumentPage
	err  error

	createdInputs []domain.DocumentInput
	gotFilter     domain.DocumentFilter
	gotUpdate     domain.DocumentUpdate
	gotAction     domain.BulkAction
	gotBulkIDs    []string
	deletedID     string
}

func (f *documentServiceFake) CreateDocuments(ctx context.Context, knowledgeBaseID string, inputs []domain.DocumentInput) ([]domain.Document, error) {
	f.createdInputs = inputs
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func (f *documentServiceFake) GetDocument(ctx context.Context, knowledgeBaseID, documentID string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func (f *documentServiceFake) ListDocuments(ctx context.Context, knowledgeBaseID string, filter domain.DocumentFilter) (*domain.DocumentPage, error) {
	f.gotFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	if f.page != nil {
		return f.page, nil
	}
	return &domain.DocumentPage{Documents: []domain.Document{}}, nil
}

func (f *documentServiceFake) UpdateDocument(ctx context.Context, knowledgeBaseID, documentID string, update domain.DocumentUpdate) (*domain.Document, error) {
	f.gotUpdate = update
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func (f *documentServiceFake) DeleteDocument(ctx context.Context, knowledgeBaseID, documentID string) error {
	f.deletedID = documentID
	return f.err
}

func (f *documentServiceFake) BulkOperation(ctx context.Context, knowledgeBaseID string, action domain.BulkAction, documentIDs []string) error {
	f.gotAction = action
	f.gotBulkIDs = documentIDs
	return f.err
}

type routerOrchestratorFake struct {
	calls   int
	gotKB   string
	gotIDs  []string
	gotOpts domain.ProcessingOptions
}

func (f *routerOrchestratorFake) ProcessBatch(ctx context.Context, knowledgeBaseID string, documentIDs []string, opts domain.ProcessingOptions) {
	f.calls++
	f.gotKB = knowledgeBaseID
	f.gotIDs = documentIDs
	f.gotOpts = opts
}

type lifecycleFake struct {
	retryErr error
	markErr  error

	gotRetryKB   string
	gotRetryDoc  string
	gotMarkDoc   string
	gotStartedAt time.Time
}

func (f *lifecycleFake) MarkDeadAfterTimeout(ctx context.Context, documentID string, startedAt time.Time) error {
	f.gotMarkDoc = documentID
	f.gotStartedAt = startedAt
	return f.markErr
}

func (f *lifecycleFake) RetryDocument(ctx context.Context, knowledgeBaseID, documentID string) error {
	f.gotRetryKB = knowledgeBaseID
	f.gotRetryDoc = documentID
	return f.retryErr
}

type routerQueueFake struct {
	stats domain.QueueStats
}

func (f *routerQueueFake) AddJob(ctx context.Context, job domain.Job) error { return nil }

func (f *routerQueueFake) ProcessJobs(ctx context.Context, handler ports.JobHandler) error {
	return nil
}

func (f *routerQueueFake) Stats(ctx context.Context) domain.QueueStats { return f.stats }

func (f *routerQueueFake) Clear(ctx context.Context) error { return nil }

func newDocumentsHandler(svc *documentServiceFake, orch *routerOrchestratorFake, lc *lifecycleFake, queue ports.JobQueue) http.Handler {
	return NewRouter(Config{}, svc, orch, lc, queue, nil, slog.New(slog.DiscardHandler)).Handler()
}

func TestCreateDocumentsReturns202AndSchedulesBatch(t *testing.T) {
	svc := &documentServiceFake{docs: []domain.Document{
		{ID: "doc-1", KnowledgeBaseID: "kb-1", Filename: "a.pdf"},
		{ID: "doc-2", KnowledgeBaseID: "kb-1", Filename: "b.txt"},
	}}
	orch := &routerOrchestratorFake{}
	handler := newDocumentsHandler(svc, orch, &lifecycleFake{}, &routerQueueFake{})

	payload, _ := json.Marshal(map[string]any{
		"documents": []map[string]any{
			{"filename": "a.pdf", "file_url": "https://files.local/a.pdf"},
			{"filename": "b.txt", "file_url": "https://files.local/b.txt"},
		},
		"options": map[string]any{"chunk_size": 500, "min_chunk_size": 50, "chunk_overlap": 60},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var resp createDocumentsResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Documents) != 2 || resp.Documents[0].ID != "doc-1" {
		t.Fatalf("response documents = %+v", resp.Documents)
	}
	if len(svc.createdInputs) != 2 {
		t.Fatalf("service received %d inputs", len(svc.createdInputs))
	}
	if orch.calls != 1 {
		t.Fatalf("orchestrator calls = %d", orch.calls)
	}
	if orch.gotKB != "kb-1" || len(orch.gotIDs) != 2 || orch.gotIDs[1] != "doc-2" {
		t.Fatalf("batch = kb=%s ids=%v", orch.gotKB, orch.gotIDs)
	}
	if orch.gotOpts.ChunkSize != 500 || orch.gotOpts.ChunkOverlap != 60 {
		t.Fatalf("options = %+v", orch.gotOpts)
	}
}

func TestCreateDocumentsDefaultsOptions(t *testing.T) {
	svc := &documentServiceFake{docs: []domain.Document{{ID: "doc-1"}}}
	orch := &routerOrchestratorFake{}
	handler := newDocumentsHandler(svc, orch, &lifecycleFake{}, &routerQueueFake{})

	payload, _ := json.Marshal(map[string]any{
		"documents": []map[string]any{{"filename": "a.pdf", "file_url": "https://files.local/a.pdf"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if orch.gotOpts != domain.DefaultOptions() {
		t.Fatalf("options = %+v, want defaults", orch.gotOpts)
	}
}

func TestCreateDocumentsRejectsInvalidJSON(t *testing.T) {
	orch := &routerOrchestratorFake{}
	handler := newDocumentsHandler(&documentServiceFake{}, orch, &lifecycleFake{}, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents", strings.NewReader("{broken"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if orch.calls != 0 {
		t.Fatalf("batch scheduled for invalid request")
	}
}

func TestCreateDocumentsServiceErrorSkipsScheduling(t *testing.T) {
	svc := &documentServiceFake{err: domain.WrapError(domain.ErrInvalidInput, "create documents", errors.New("no documents in request"))}
	orch := &routerOrchestratorFake{}
	handler := newDocumentsHandler(svc, orch, &lifecycleFake{}, &routerQueueFake{})

	payload, _ := json.Marshal(map[string]any{"documents": []map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if orch.calls != 0 {
		t.Fatalf("batch scheduled despite service error")
	}
}

func TestListDocumentsParsesFilters(t *testing.T) {
	svc := &documentServiceFake{}
	handler := newDocumentsHandler(svc, &routerOrchestratorFake{}, &lifecycleFake{}, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodGet, "/v1/knowledge-bases/kb-1/documents?search=report&status=pending,failed&enabled_only=true&limit=5&offset=10", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	got := svc.gotFilter
	if got.Search != "report" || !got.EnabledOnly || got.Limit != 5 || got.Offset != 10 {
		t.Fatalf("filter = %+v", got)
	}
	if len(got.Statuses) != 2 || got.Statuses[0] != domain.StatusPending || got.Statuses[1] != domain.StatusFailed {
		t.Fatalf("statuses = %v", got.Statuses)
	}
}

func TestListDocumentsRejectsUnknownStatus(t *testing.T) {
	handler := newDocumentsHandler(&documentServiceFake{}, &routerOrchestratorFake{}, &lifecycleFake{}, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodGet, "/v1/knowledge-bases/kb-1/documents?status=exploded", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetDocumentMapsNotFoundTo404(t *testing.T) {
	svc := &documentServiceFake{err: domain.WrapError(domain.ErrDocumentNotFound, "fetch document by id", errors.New("id=missing"))}
	handler := newDocumentsHandler(svc, &routerOrchestratorFake{}, &lifecycleFake{}, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodGet, "/v1/knowledge-bases/kb-1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected error message in response")
	}
}

func TestUpdateDocumentReturnsRow(t *testing.T) {
	svc := &documentServiceFake{doc: &domain.Document{ID: "doc-1", Filename: "renamed.pdf"}}
	handler := newDocumentsHandler(svc, &routerOrchestratorFake{}, &lifecycleFake{}, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodPatch, "/v1/knowledge-bases/kb-1/documents/doc-1", strings.NewReader(`{"filename":"renamed.pdf"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if svc.gotUpdate.Filename == nil || *svc.gotUpdate.Filename != "renamed.pdf" {
		t.Fatalf("captured update = %+v", svc.gotUpdate)
	}
}

func TestDeleteDocumentReturns204(t *testing.T) {
	svc := &documentServiceFake{}
	handler := newDocumentsHandler(svc, &routerOrchestratorFake{}, &lifecycleFake{}, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/knowledge-bases/kb-1/documents/doc-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if svc.deletedID != "doc-1" {
		t.Fatalf("deleted id = %q", svc.deletedID)
	}
}

func TestRetryDocumentMapsConflictTo409(t *testing.T) {
	lc := &lifecycleFake{retryErr: domain.WrapError(domain.ErrInvalidState, "retry document", errors.New("document is currently processing"))}
	handler := newDocumentsHandler(&documentServiceFake{}, &routerOrchestratorFake{}, lc, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents/doc-1/retry", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestRetryDocumentReturns202(t *testing.T) {
	lc := &lifecycleFake{}
	handler := newDocumentsHandler(&documentServiceFake{}, &routerOrchestratorFake{}, lc, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents/doc-1/retry", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if lc.gotRetryKB != "kb-1" || lc.gotRetryDoc != "doc-1" {
		t.Fatalf("retry = %s/%s", lc.gotRetryKB, lc.gotRetryDoc)
	}
}

func TestMarkDeadRejectsNonProcessingDocument(t *testing.T) {
	svc := &documentServiceFake{doc: &domain.Document{ID: "doc-1", ProcessingStatus: domain.StatusCompleted}}
	lc := &lifecycleFake{}
	handler := newDocumentsHandler(svc, &routerOrchestratorFake{}, lc, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents/doc-1/mark-dead", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	if lc.gotMarkDoc != "" {
		t.Fatalf("lifecycle invoked for non-processing document")
	}
}

func TestMarkDeadPassesStoredStartedAt(t *testing.T) {
	startedAt := time.Now().Add(-10 * time.Minute).UTC()
	svc := &documentServiceFake{doc: &domain.Document{
		ID:                  "doc-1",
		ProcessingStatus:    domain.StatusProcessing,
		ProcessingStartedAt: &startedAt,
	}}
	lc := &lifecycleFake{}
	handler := newDocumentsHandler(svc, &routerOrchestratorFake{}, lc, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents/doc-1/mark-dead", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if lc.gotMarkDoc != "doc-1" || !lc.gotStartedAt.Equal(startedAt) {
		t.Fatalf("mark dead = %s at %s", lc.gotMarkDoc, lc.gotStartedAt)
	}
}

func TestBulkOperationRoutesPayload(t *testing.T) {
	svc := &documentServiceFake{}
	handler := newDocumentsHandler(svc, &routerOrchestratorFake{}, &lifecycleFake{}, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/documents/bulk",
		strings.NewReader(`{"action":"disable","document_ids":["doc-1","doc-2"]}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if svc.gotAction != domain.BulkDisable || len(svc.gotBulkIDs) != 2 {
		t.Fatalf("bulk = %s %v", svc.gotAction, svc.gotBulkIDs)
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	queue := &routerQueueFake{stats: domain.QueueStats{Backend: "redis", Available: true, Pending: 7, Processing: 2}}
	handler := newDocumentsHandler(&documentServiceFake{}, &routerOrchestratorFake{}, &lifecycleFake{}, queue)

	req := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var stats domain.QueueStats
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Backend != "redis" || !stats.Available || stats.Pending != 7 || stats.Processing != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHealthz(t *testing.T) {
	handler := newDocumentsHandler(&documentServiceFake{}, &routerOrchestratorFake{}, &lifecycleFake{}, &routerQueueFake{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}
