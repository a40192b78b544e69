package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

type JobType string

const JobTypeProcessDocument JobType = "process_document"

// Job is the unit handed to the queue. Jobs are ephemeral: outcome
// durability lives on the Document row, never in the queue.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
}

// NewJob builds a job with a collision-resistant ID of the form
// {type}:{unix-millis}:{hex}.
func NewJob(jobType JobType, payload json.RawMessage, maxAttempts int) Job {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return Job{
		ID:          fmt.Sprintf("%s:%d:%s", jobType, time.Now().UnixMilli(), hex.EncodeToString(suffix)),
		Type:        jobType,
		Payload:     payload,
		EnqueuedAt:  time.Now().UTC(),
		Attempts:    0,
		MaxAttempts: maxAttempts,
	}
}

// QueueStats is the uniform shape reported by every queue implementation.
// RetriedTotal and DroppedTotal are lifetime counters; Clear does not reset them.
type QueueStats struct {
	Backend      string `json:"backend"`
	Available    bool   `json:"backend_available"`
	Pending      int    `json:"pending"`
	Processing   int    `json:"processing"`
	RetriedTotal uint64 `json:"retried_total"`
	DroppedTotal uint64 `json:"dropped_total"`
}

// ProcessJobPayload is the payload carried by JobTypeProcessDocument.
type ProcessJobPayload struct {
	KnowledgeBaseID string            `json:"knowledge_base_id"`
	DocumentID      string            `json:"document_id"`
	Options         ProcessingOptions `json:"options"`
}
