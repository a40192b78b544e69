package fileparse

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

// Parser is the final extraction tier: a local, per-extension text decoder
// that needs no external service.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() string {
	return string(domain.ExtractionFileParser)
}

func (p *Parser) Parse(_ context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty file: %s", filename)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return parsePDF(data)
	case ".xlsx", ".xlsm":
		return parseWorkbook(data)
	case ".html", ".htm":
		return parseHTML(data)
	case ".csv":
		return parseCSV(data)
	default:
		return parseText(filename, data)
	}
}

func parseCSV(data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read csv: %w", err)
	}

	var sb strings.Builder
	for _, record := range records {
		sb.WriteString(strings.Join(record, "\t"))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func parseText(filename string, data []byte) (string, error) {
	if !utf8.Valid(data) || bytes.ContainsRune(data, 0) {
		return "", fmt.Errorf("binary content not supported: %s", filename)
	}
	return string(data), nil
}
