package mistral

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/resilience"
)

// Client calls the Mistral OCR API. It is the primary extraction tier for
// PDF sources reachable at a durable URL.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, apiKey, model string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) Name() string {
	return string(domain.ExtractionMistralOCR)
}

// Configured reports whether the client has enough configuration to be worth
// calling. An unconfigured tier is skipped, never attempted.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *Client) ExtractText(ctx context.Context, fileURL, filename string) (string, error) {
	if !c.Configured() {
		return "", domain.WrapError(domain.ErrUnavailable, "mistral ocr", fmt.Errorf("api key not configured"))
	}

	request := ocrRequest{
		Model: c.model,
		Document: ocrDocument{
			Type:        "document_url",
			DocumentURL: fileURL,
		},
	}

	var response ocrResponse
	err := c.executor.Execute(ctx, "mistral.ocr", func(ctx context.Context) error {
		return c.postJSON(ctx, "/ocr", request, &response, "ocr")
	}, classifyOCRError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("mistral ocr", err)
	}

	var pages []string
	for _, page := range response.Pages {
		if text := strings.TrimSpace(page.Markdown); text != "" {
			pages = append(pages, text)
		}
	}
	text := strings.TrimSpace(strings.Join(pages, "\n\n"))
	if text == "" {
		return "", fmt.Errorf("mistral ocr returned empty content for %s", filename)
	}
	return text, nil
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}
