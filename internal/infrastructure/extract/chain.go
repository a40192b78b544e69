package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
)

// Signed URLs only need to outlive one OCR call.
const presignTTL = 15 * time.Minute

// Chain runs the tiered extraction policy: OCR services for PDFs first, the
// local per-extension parser last. A tier failure feeds the next tier; only
// the final tier's failure is the document's hard error.
type Chain struct {
	primary   ports.OCRService
	secondary ports.OCRService
	parser    ports.FileParser
	fetcher   ports.FileFetcher
	store     ports.ObjectStore
	logger    *slog.Logger
}

func NewChain(
	primary ports.OCRService,
	secondary ports.OCRService,
	parser ports.FileParser,
	fetcher ports.FileFetcher,
	store ports.ObjectStore,
	logger *slog.Logger,
) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		primary:   primary,
		secondary: secondary,
		parser:    parser,
		fetcher:   fetcher,
		store:     store,
		logger:    logger,
	}
}

func (c *Chain) Extract(ctx context.Context, source domain.TextSource) (*domain.ExtractionResult, error) {
	var failures []string

	if isPDF(source) {
		fileURL, err := c.durableURL(ctx, source)
		if err != nil {
			failures = append(failures, fmt.Sprintf("durable url: %v", err))
			c.logger.Warn("extraction_ocr_skipped", "filename", source.Filename, "error", err)
		} else {
			for _, svc := range []ports.OCRService{c.primary, c.secondary} {
				if svc == nil || !svc.Configured() {
					continue
				}
				text, err := svc.ExtractText(ctx, fileURL, source.Filename)
				if err == nil {
					if trimmed := strings.TrimSpace(text); trimmed != "" {
						return &domain.ExtractionResult{
							Text:   trimmed,
							Method: domain.ExtractionMethod(svc.Name()),
						}, nil
					}
					err = fmt.Errorf("empty extraction result")
				}
				failures = append(failures, fmt.Sprintf("%s: %v", svc.Name(), err))
				c.logger.Warn("extraction_tier_failed",
					"tier", svc.Name(),
					"filename", source.Filename,
					"error", err,
				)
			}
		}
	}

	data, err := c.sourceBytes(ctx, source)
	if err != nil {
		failures = append(failures, fmt.Sprintf("fetch source: %v", err))
		return nil, fmt.Errorf("extraction failed: %s", strings.Join(failures, "; "))
	}

	text, err := c.parser.Parse(ctx, source.Filename, data)
	if err == nil {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return &domain.ExtractionResult{
				Text:   trimmed,
				Method: domain.ExtractionFileParser,
			}, nil
		}
		err = fmt.Errorf("empty extraction result")
	}
	failures = append(failures, fmt.Sprintf("%s: %v", domain.ExtractionFileParser, err))
	return nil, fmt.Errorf("extraction failed: %s", strings.Join(failures, "; "))
}

// durableURL makes the source reachable for remote OCR: http(s) URLs pass
// through, data: URIs are uploaded and presigned, anything else is treated
// as an object key already in the bucket.
func (c *Chain) durableURL(ctx context.Context, source domain.TextSource) (string, error) {
	switch {
	case strings.HasPrefix(source.URL, "http://"), strings.HasPrefix(source.URL, "https://"):
		return source.URL, nil

	case strings.HasPrefix(source.URL, "data:"):
		if c.store == nil {
			return "", fmt.Errorf("object storage not configured")
		}
		mediaType, data, err := parseDataURI(source.URL)
		if err != nil {
			return "", err
		}
		key := objectKey(source.Filename)
		if err := c.store.Upload(ctx, key, mediaType, bytes.NewReader(data), int64(len(data))); err != nil {
			return "", fmt.Errorf("upload inline source: %w", err)
		}
		return c.store.PresignGet(ctx, key, presignTTL)

	case source.URL != "":
		if c.store == nil {
			return "", fmt.Errorf("object storage not configured")
		}
		return c.store.PresignGet(ctx, source.URL, presignTTL)

	default:
		return "", fmt.Errorf("source has no url")
	}
}

func (c *Chain) sourceBytes(ctx context.Context, source domain.TextSource) ([]byte, error) {
	switch {
	case strings.HasPrefix(source.URL, "data:"):
		_, data, err := parseDataURI(source.URL)
		return data, err

	case strings.HasPrefix(source.URL, "http://"), strings.HasPrefix(source.URL, "https://"):
		return c.fetcher.Fetch(ctx, source.URL)

	case source.URL != "":
		if c.store == nil {
			return nil, fmt.Errorf("object storage not configured")
		}
		signed, err := c.store.PresignGet(ctx, source.URL, presignTTL)
		if err != nil {
			return nil, err
		}
		return c.fetcher.Fetch(ctx, signed)

	default:
		return nil, fmt.Errorf("source has no url")
	}
}

func isPDF(source domain.TextSource) bool {
	if strings.EqualFold(source.MimeType, "application/pdf") {
		return true
	}
	if strings.HasPrefix(source.URL, "data:application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(source.Filename), ".pdf")
}

func objectKey(filename string) string {
	return "sources/" + uuid.NewString() + strings.ToLower(filepath.Ext(filename))
}
