package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

const (
	maxPDFBytes   = 100 * 1024 * 1024
	pdfExtractTimeout = 2 * time.Minute
)

// ErrInvalidPDFHeader is returned when the first kilobyte of a file does not
// contain the `%PDF-` signature.
var ErrInvalidPDFHeader = fmt.Errorf("extract: missing %%PDF- signature in file header")

// validatePDFHeader scans up to the first 1KB for "%PDF-", tolerating
// leading null bytes some scanners/exports prepend.
func validatePDFHeader(data []byte) error {
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	probe = bytes.TrimLeft(probe, "\x00")
	if !bytes.Contains(probe, []byte("%PDF-")) {
		return ErrInvalidPDFHeader
	}
	return nil
}

// ExtractPDFText runs native PDF text extraction on data via pool, bounded
// by pdfExtractTimeout and protected against panics in the underlying
// reader (malformed font encodings are a known crash source).
func ExtractPDFText(ctx context.Context, pool *CPUPool, data []byte) (string, error) {
	if len(data) > maxPDFBytes {
		return "", fmt.Errorf("extract: pdf exceeds %d byte cap", maxPDFBytes)
	}
	if err := validatePDFHeader(data); err != nil {
		return "", err
	}

	v, err := pool.Run(ctx, pdfExtractTimeout, func(ctx context.Context) (any, error) {
		return extractPDFPages(ctx, data)
	})
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return v.(string), nil
}

func extractPDFPages(ctx context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var parts []string
	total := reader.NumPage()
	for pageNum := 1; pageNum <= total; pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}
