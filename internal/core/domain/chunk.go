package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
	"unicode/utf8"
)

type Chunk struct {
	ID              string    `json:"id"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	DocumentID      string    `json:"document_id"`
	ChunkIndex      int       `json:"chunk_index"`
	ChunkHash       string    `json:"chunk_hash"`
	Content         string    `json:"content"`
	ContentLength   int       `json:"content_length"`
	TokenCount      int       `json:"token_count"`
	Embedding       []float32 `json:"embedding,omitempty"`
	EmbeddingModel  string    `json:"embedding_model,omitempty"`
	StartOffset     int       `json:"start_offset"`
	EndOffset       int       `json:"end_offset"`
	Tags            TagSet    `json:"tags"`
	CreatedAt       time.Time `json:"created_at"`
}

// EstimateTokens approximates token usage as ceil(runes/4). The ratio is a
// deliberate stand-in for a real tokenizer; persisted counters depend on it
// staying stable across re-runs.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// HashContent fingerprints chunk content for stable identity across retries.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
