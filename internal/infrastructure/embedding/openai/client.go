package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/zakeri-dev/kbpipe/internal/infrastructure/resilience"
)

const (
	defaultBatchSize = 64
	defaultRPS       = 5
)

type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int
	BatchSize         int
	RequestsPerSecond int
	Timeout           time.Duration
}

// Client calls an OpenAI-compatible embeddings endpoint. Inputs larger than
// the batch size are split into sequential requests, and a shared limiter
// keeps the request rate under the provider quota across goroutines.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	limiter    *rate.Limiter
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRPS
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  batchSize,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) ModelID() string {
	return c.model
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}

	request := embeddingRequest{
		Model: c.model,
		Input: texts,
	}

	var response embeddingResponse
	err := c.executor.Execute(ctx, "embedding.embed", func(ctx context.Context) error {
		return c.postJSON(ctx, "/embeddings", request, &response, "embeddings")
	}, classifyEmbeddingError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed texts", err)
	}

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(response.Data))
	}

	// Providers may return items out of order; the index field is the contract.
	vectors := make([][]float32, len(texts))
	for i, item := range response.Data {
		idx := item.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		if c.dimensions > 0 && len(item.Embedding) != c.dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(item.Embedding), c.dimensions)
		}
		vectors[idx] = item.Embedding
	}
	for i, vector := range vectors {
		if vector == nil {
			return nil, fmt.Errorf("embedding missing for input %d", i)
		}
	}
	return vectors, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []embeddingItem `json:"data"`
}

type embeddingItem struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}
