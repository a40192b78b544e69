package fileparse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Unreadable pages (scans, broken encodings) are skipped; the
			// OCR tiers exist for those.
			continue
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return sb.String(), nil
}
