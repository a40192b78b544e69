package extract

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

type ocrFake struct {
	name       string
	configured bool
	text       string
	err        error
	calls      int
	gotURL     string
}

func (f *ocrFake) Name() string     { return f.name }
func (f *ocrFake) Configured() bool { return f.configured }

func (f *ocrFake) ExtractText(_ context.Context, fileURL, _ string) (string, error) {
	f.calls++
	f.gotURL = fileURL
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type parserFake struct {
	text  string
	err   error
	calls int
}

func (f *parserFake) Parse(context.Context, string, []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fetcherFake struct {
	data []byte
	err  error
}

func (f *fetcherFake) Fetch(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type storeFake struct {
	uploadedKey  string
	uploadedType string
	uploadedSize int64
	presigned    string
}

func (f *storeFake) Upload(_ context.Context, key, contentType string, _ io.Reader, size int64) error {
	f.uploadedKey = key
	f.uploadedType = contentType
	f.uploadedSize = size
	return nil
}

func (f *storeFake) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	f.presigned = "https://storage.local/" + key + "?signed=1"
	return f.presigned, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestExtractUsesPrimaryOCRForPDF(t *testing.T) {
	primary := &ocrFake{name: "mistral-ocr", configured: true, text: "  ocr text  "}
	secondary := &ocrFake{name: "docling-ocr", configured: true, text: "secondary"}
	parser := &parserFake{text: "parsed"}
	chain := NewChain(primary, secondary, parser, &fetcherFake{}, &storeFake{}, discardLogger())

	result, err := chain.Extract(context.Background(), domain.TextSource{
		URL:      "https://files.example.com/report.pdf",
		Filename: "report.pdf",
		MimeType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Method != domain.ExtractionMistralOCR {
		t.Fatalf("expected mistral-ocr method, got %s", result.Method)
	}
	if result.Text != "ocr text" {
		t.Fatalf("expected trimmed ocr text, got %q", result.Text)
	}
	if secondary.calls != 0 || parser.calls != 0 {
		t.Fatalf("later tiers must not run after primary success")
	}
}

func TestExtractFallsBackThroughAllTiers(t *testing.T) {
	primary := &ocrFake{name: "mistral-ocr", configured: true, err: io.ErrUnexpectedEOF}
	secondary := &ocrFake{name: "docling-ocr", configured: true, text: "   "}
	parser := &parserFake{text: "parsed text"}
	fetcher := &fetcherFake{data: []byte("%PDF-1.4")}
	chain := NewChain(primary, secondary, parser, fetcher, &storeFake{}, discardLogger())

	result, err := chain.Extract(context.Background(), domain.TextSource{
		URL:      "https://files.example.com/report.pdf",
		Filename: "report.pdf",
		MimeType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Method != domain.ExtractionFileParser {
		t.Fatalf("expected file-parser method, got %s", result.Method)
	}
	if primary.calls != 1 || secondary.calls != 1 || parser.calls != 1 {
		t.Fatalf("expected every tier attempted once, got %d/%d/%d", primary.calls, secondary.calls, parser.calls)
	}
}

func TestExtractSkipsOCRForNonPDF(t *testing.T) {
	primary := &ocrFake{name: "mistral-ocr", configured: true, text: "ocr"}
	parser := &parserFake{text: "plain text"}
	chain := NewChain(primary, nil, parser, &fetcherFake{data: []byte("plain text")}, &storeFake{}, discardLogger())

	result, err := chain.Extract(context.Background(), domain.TextSource{
		URL:      "https://files.example.com/notes.txt",
		Filename: "notes.txt",
		MimeType: "text/plain",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if primary.calls != 0 {
		t.Fatalf("ocr must not run for non-pdf sources")
	}
	if result.Method != domain.ExtractionFileParser {
		t.Fatalf("expected file-parser method, got %s", result.Method)
	}
}

func TestExtractUploadsInlineDataBeforeOCR(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 inline"))
	primary := &ocrFake{name: "mistral-ocr", configured: true, text: "ocr text"}
	store := &storeFake{}
	chain := NewChain(primary, nil, &parserFake{}, &fetcherFake{}, store, discardLogger())

	result, err := chain.Extract(context.Background(), domain.TextSource{
		URL:      "data:application/pdf;base64," + payload,
		Filename: "inline.pdf",
		MimeType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Method != domain.ExtractionMistralOCR {
		t.Fatalf("expected mistral-ocr method, got %s", result.Method)
	}
	if store.uploadedKey == "" || !strings.HasSuffix(store.uploadedKey, ".pdf") {
		t.Fatalf("expected inline payload uploaded under a .pdf key, got %q", store.uploadedKey)
	}
	if store.uploadedType != "application/pdf" {
		t.Fatalf("expected decoded media type, got %q", store.uploadedType)
	}
	if primary.gotURL != store.presigned {
		t.Fatalf("ocr should receive the presigned url, got %q", primary.gotURL)
	}
}

func TestExtractPresignsBareObjectKeys(t *testing.T) {
	primary := &ocrFake{name: "mistral-ocr", configured: true, text: "ocr text"}
	store := &storeFake{}
	chain := NewChain(primary, nil, &parserFake{}, &fetcherFake{}, store, discardLogger())

	_, err := chain.Extract(context.Background(), domain.TextSource{
		URL:      "kb-1/report.pdf",
		Filename: "report.pdf",
		MimeType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if store.uploadedKey != "" {
		t.Fatalf("bare keys must not be re-uploaded")
	}
	if !strings.Contains(primary.gotURL, "kb-1/report.pdf") {
		t.Fatalf("expected presigned key url, got %q", primary.gotURL)
	}
}

func TestExtractHardFailsWhenEveryTierFails(t *testing.T) {
	primary := &ocrFake{name: "mistral-ocr", configured: true, err: io.ErrUnexpectedEOF}
	parser := &parserFake{err: io.ErrUnexpectedEOF}
	chain := NewChain(primary, nil, parser, &fetcherFake{data: []byte("x")}, &storeFake{}, discardLogger())

	_, err := chain.Extract(context.Background(), domain.TextSource{
		URL:      "https://files.example.com/report.pdf",
		Filename: "report.pdf",
		MimeType: "application/pdf",
	})
	if err == nil {
		t.Fatalf("expected hard failure")
	}
	if !strings.Contains(err.Error(), "mistral-ocr") || !strings.Contains(err.Error(), "file-parser") {
		t.Fatalf("expected failure to name the attempted tiers, got %v", err)
	}
}

func TestExtractTreatsWhitespaceParserOutputAsFailure(t *testing.T) {
	parser := &parserFake{text: "   \n\t  "}
	chain := NewChain(nil, nil, parser, &fetcherFake{data: []byte("x")}, &storeFake{}, discardLogger())

	_, err := chain.Extract(context.Background(), domain.TextSource{
		URL:      "https://files.example.com/notes.txt",
		Filename: "notes.txt",
		MimeType: "text/plain",
	})
	if err == nil {
		t.Fatalf("expected empty output to fail extraction")
	}
}
