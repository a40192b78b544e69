package docling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/resilience"
)

// Client calls a docling-serve instance, the secondary OCR tier. It is
// usually self-hosted and unauthenticated.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) Name() string {
	return string(domain.ExtractionDoclingOCR)
}

func (c *Client) Configured() bool {
	return c.baseURL != ""
}

func (c *Client) ExtractText(ctx context.Context, fileURL, filename string) (string, error) {
	if !c.Configured() {
		return "", domain.WrapError(domain.ErrUnavailable, "docling ocr", fmt.Errorf("endpoint not configured"))
	}

	request := convertRequest{
		Options:     convertOptions{ToFormats: []string{"md"}},
		HTTPSources: []httpSource{{URL: fileURL}},
	}

	var response convertResponse
	err := c.executor.Execute(ctx, "docling.convert", func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1alpha/convert/source", request, &response)
	}, classifyConvertError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("docling ocr", err)
	}

	text := strings.TrimSpace(response.Document.MarkdownContent)
	if text == "" {
		return "", fmt.Errorf("docling returned empty content for %s", filename)
	}
	return text, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal convert request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create convert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("docling convert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		captured, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "convert",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(captured)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode convert response: %w", err)
	}
	return nil
}

type convertRequest struct {
	Options     convertOptions `json:"options"`
	HTTPSources []httpSource   `json:"http_sources"`
}

type convertOptions struct {
	ToFormats []string `json:"to_formats"`
}

type httpSource struct {
	URL string `json:"url"`
}

type convertResponse struct {
	Status   string          `json:"status"`
	Document convertDocument `json:"document"`
}

type convertDocument struct {
	MarkdownContent string `json:"md_content"`
}
