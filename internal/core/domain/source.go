package domain

type ExtractionMethod string

const (
	ExtractionMistralOCR ExtractionMethod = "mistral-ocr"
	ExtractionDoclingOCR ExtractionMethod = "docling-ocr"
	ExtractionFileParser ExtractionMethod = "file-parser"
)

// TextSource describes where a document's bytes live and what they claim to be.
type TextSource struct {
	URL      string
	Filename string
	MimeType string
	FileSize int64
}

// ExtractionResult is the extractor's output: the trimmed text plus which
// tier produced it.
type ExtractionResult struct {
	Text   string
	Method ExtractionMethod
}
