package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
	"github.com/zakeri-dev/kbpipe/internal/observability/metrics"
)

const (
	defaultRateLimitRPS     = 50
	defaultRateLimitBurst   = 100
	defaultMaxConcurrent    = 256
	defaultBackpressureWait = 100 * time.Millisecond
)

// Config tunes the traffic-control middleware in front of the API.
type Config struct {
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxConcurrent    int
	BackpressureWait time.Duration
}

func (c Config) normalize() Config {
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = defaultRateLimitRPS
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaultRateLimitBurst
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.BackpressureWait <= 0 {
		c.BackpressureWait = defaultBackpressureWait
	}
	return c
}

type Router struct {
	cfg           Config
	documents     ports.DocumentService
	orchestrator  ports.BatchOrchestrator
	lifecycle     ports.LifecycleService
	queue         ports.JobQueue
	serverMetrics *metrics.HTTPServerMetrics
	logger        *slog.Logger
}

func NewRouter(
	cfg Config,
	documents ports.DocumentService,
	orchestrator ports.BatchOrchestrator,
	lifecycle ports.LifecycleService,
	queue ports.JobQueue,
	serverMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:           cfg.normalize(),
		documents:     documents,
		orchestrator:  orchestrator,
		lifecycle:     lifecycle,
		queue:         queue,
		serverMetrics: serverMetrics,
		logger:        logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.serverMetrics != nil {
		mux.Handle("GET /metrics", rt.serverMetrics.Handler())
	}
	mux.HandleFunc("POST /v1/knowledge-bases/{kbID}/documents", rt.createDocuments)
	mux.HandleFunc("GET /v1/knowledge-bases/{kbID}/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/knowledge-bases/{kbID}/documents/{docID}", rt.getDocument)
	mux.HandleFunc("PATCH /v1/knowledge-bases/{kbID}/documents/{docID}", rt.updateDocument)
	mux.HandleFunc("DELETE /v1/knowledge-bases/{kbID}/documents/{docID}", rt.deleteDocument)
	mux.HandleFunc("POST /v1/knowledge-bases/{kbID}/documents/{docID}/retry", rt.retryDocument)
	mux.HandleFunc("POST /v1/knowledge-bases/{kbID}/documents/{docID}/mark-dead", rt.markDocumentDead)
	mux.HandleFunc("POST /v1/knowledge-bases/{kbID}/documents/bulk", rt.bulkOperation)
	mux.HandleFunc("GET /v1/queue/stats", rt.queueStats)

	var handler http.Handler = mux
	handler = recoverMiddleware(rt.logger, handler)
	handler = backpressureMiddleware(handler, rt.cfg.MaxConcurrent, rt.cfg.BackpressureWait, rt.serverMetrics)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, rt.serverMetrics)
	if rt.serverMetrics != nil {
		handler = rt.serverMetrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createDocumentsRequest struct {
	Documents []domain.DocumentInput    `json:"documents"`
	Options   *domain.ProcessingOptions `json:"options,omitempty"`
}

type createDocumentsResponse struct {
	Documents []domain.Document `json:"documents"`
}

// createDocuments registers already-uploaded files and kicks off processing.
// The 202 means rows exist and work is scheduled; outcomes are observed by
// polling document status.
func (rt *Router) createDocuments(w http.ResponseWriter, r *http.Request) {
	knowledgeBaseID := r.PathValue("kbID")

	var req createDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	docs, err := rt.documents.CreateDocuments(r.Context(), knowledgeBaseID, req.Documents)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := domain.DefaultOptions()
	if req.Options != nil {
		opts = req.Options.Normalize()
	}
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	rt.orchestrator.ProcessBatch(r.Context(), knowledgeBaseID, ids, opts)

	writeJSON(w, http.StatusAccepted, createDocumentsResponse{Documents: docs})
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	knowledgeBaseID := r.PathValue("kbID")
	query := r.URL.Query()

	filter := domain.DocumentFilter{
		Search:      strings.TrimSpace(query.Get("search")),
		EnabledOnly: query.Get("enabled_only") == "true",
	}
	statuses, err := parseStatuses(query.Get("status"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	filter.Statuses = statuses

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "offset must be an integer"})
			return
		}
		filter.Offset = offset
	}

	page, err := rt.documents.ListDocuments(r.Context(), knowledgeBaseID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.documents.GetDocument(r.Context(), r.PathValue("kbID"), r.PathValue("docID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) updateDocument(w http.ResponseWriter, r *http.Request) {
	var update domain.DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	doc, err := rt.documents.UpdateDocument(r.Context(), r.PathValue("kbID"), r.PathValue("docID"), update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.documents.DeleteDocument(r.Context(), r.PathValue("kbID"), r.PathValue("docID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) retryDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.lifecycle.RetryDocument(r.Context(), r.PathValue("kbID"), r.PathValue("docID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry scheduled"})
}

// markDocumentDead validates the document is actually mid-run before the
// threshold check: the lifecycle operation works from the stored started-at
// and cannot see status on its own.
func (rt *Router) markDocumentDead(w http.ResponseWriter, r *http.Request) {
	knowledgeBaseID := r.PathValue("kbID")
	documentID := r.PathValue("docID")

	doc, err := rt.documents.GetDocument(r.Context(), knowledgeBaseID, documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if doc.ProcessingStatus != domain.StatusProcessing || doc.ProcessingStartedAt == nil {
		writeError(w, domain.WrapError(domain.ErrInvalidState, "mark dead", errors.New("document is not processing")))
		return
	}
	if err := rt.lifecycle.MarkDeadAfterTimeout(r.Context(), documentID, *doc.ProcessingStartedAt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "marked dead"})
}

type bulkOperationRequest struct {
	Action      domain.BulkAction `json:"action"`
	DocumentIDs []string          `json:"document_ids"`
}

func (rt *Router) bulkOperation(w http.ResponseWriter, r *http.Request) {
	var req bulkOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := rt.documents.BulkOperation(r.Context(), r.PathValue("kbID"), req.Action, req.DocumentIDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) queueStats(w http.ResponseWriter, r *http.Request) {
	if rt.queue == nil {
		writeJSON(w, http.StatusOK, domain.QueueStats{Backend: "none"})
		return
	}
	writeJSON(w, http.StatusOK, rt.queue.Stats(r.Context()))
}

func parseStatuses(raw string) ([]domain.ProcessingStatus, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]domain.ProcessingStatus, 0, len(parts))
	for _, part := range parts {
		status := domain.ProcessingStatus(strings.TrimSpace(part))
		switch status {
		case domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed:
			out = append(out, status)
		default:
			return nil, fmt.Errorf("unknown status %q", part)
		}
	}
	return out, nil
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
