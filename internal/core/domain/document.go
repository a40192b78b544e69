package domain

import (
	"encoding/json"
	"time"
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

type Document struct {
	ID                    string           `json:"id"`
	KnowledgeBaseID       string           `json:"knowledge_base_id"`
	Filename              string           `json:"filename"`
	FileURL               string           `json:"file_url"`
	FileSize              int64            `json:"file_size"`
	MimeType              string           `json:"mime_type"`
	ChunkCount            int              `json:"chunk_count"`
	TokenCount            int              `json:"token_count"`
	CharacterCount        int              `json:"character_count"`
	ProcessingStatus      ProcessingStatus `json:"processing_status"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time       `json:"processing_completed_at,omitempty"`
	ProcessingError       *string          `json:"processing_error,omitempty"`
	Enabled               bool             `json:"enabled"`
	Tags                  TagSet           `json:"tags"`
	UploadedAt            time.Time        `json:"uploaded_at"`
	DeletedAt             *time.Time       `json:"deleted_at,omitempty"`
}

// TagSet carries the seven fixed tag-value slots a knowledge base may attach
// to a document. Slots are schema columns, addressed only by these named
// fields.
type TagSet struct {
	Tag1 *string `json:"tag_1,omitempty"`
	Tag2 *string `json:"tag_2,omitempty"`
	Tag3 *string `json:"tag_3,omitempty"`
	Tag4 *string `json:"tag_4,omitempty"`
	Tag5 *string `json:"tag_5,omitempty"`
	Tag6 *string `json:"tag_6,omitempty"`
	Tag7 *string `json:"tag_7,omitempty"`
}

// ParseTagSet decodes a raw tag payload of the form {"tag_1": "...", ...}.
// Malformed payloads return an error alongside an empty set so callers can
// log and continue; tags never abort document creation.
func ParseTagSet(raw []byte) (TagSet, error) {
	var out TagSet
	if len(raw) == 0 {
		return out, nil
	}
	var values map[string]string
	if err := json.Unmarshal(raw, &values); err != nil {
		return TagSet{}, WrapError(ErrInvalidInput, "parse tags", err)
	}
	assign := func(key string, dst **string) {
		if v, ok := values[key]; ok && v != "" {
			*dst = &v
		}
	}
	assign("tag_1", &out.Tag1)
	assign("tag_2", &out.Tag2)
	assign("tag_3", &out.Tag3)
	assign("tag_4", &out.Tag4)
	assign("tag_5", &out.Tag5)
	assign("tag_6", &out.Tag6)
	assign("tag_7", &out.Tag7)
	return out, nil
}

// DocumentInput is one document in a bulk create request. Tags arrive as the
// raw payload supplied by the caller and are resolved slot by slot.
type DocumentInput struct {
	Filename string          `json:"filename"`
	FileURL  string          `json:"file_url"`
	FileSize int64           `json:"file_size"`
	MimeType string          `json:"mime_type"`
	Tags     json.RawMessage `json:"tags,omitempty"`
}

// DocumentFilter narrows list queries. Zero value selects everything
// non-deleted in the knowledge base.
type DocumentFilter struct {
	Search      string
	Statuses    []ProcessingStatus
	EnabledOnly bool
	Limit       int
	Offset      int
}

type DocumentPage struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
}

type BulkAction string

const (
	BulkEnable  BulkAction = "enable"
	BulkDisable BulkAction = "disable"
	BulkDelete  BulkAction = "delete"
)

// DocumentUpdate carries partial mutations for a single document; nil fields
// are left untouched.
type DocumentUpdate struct {
	Filename *string `json:"filename,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
	Tags     *TagSet `json:"tags,omitempty"`
}
