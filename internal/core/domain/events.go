package domain

import "time"

type EventType string

const (
	EventProcessingStarted   EventType = "processing.started"
	EventProcessingCompleted EventType = "processing.completed"
	EventProcessingFailed    EventType = "processing.failed"
)

// ProcessingEvent announces a document lifecycle transition. Events are
// best-effort notifications; row state remains the source of truth.
type ProcessingEvent struct {
	Type            EventType `json:"type"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	DocumentID      string    `json:"document_id"`
	ChunkCount      int       `json:"chunk_count,omitempty"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
