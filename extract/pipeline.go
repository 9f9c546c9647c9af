package extract

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/readur/readur/extract/officexml"
	"github.com/readur/readur/model"
)

// Settings controls OCR behaviour for one extraction call.
type Settings struct {
	Language            string
	ConfidenceThreshold float64 // 0.0-1.0; below this but above the hard floor is a warning, not a rejection
}

func (s Settings) withDefaults() Settings {
	if s.Language == "" {
		s.Language = "eng"
	}
	if s.ConfidenceThreshold == 0 {
		s.ConfidenceThreshold = 0.5
	}
	return s
}

const officeAggregateCap = officexml.MaxAggregateDecompress

// ExtractText dispatches on mimeType to the appropriate extractor: plain
// text is read directly, PDFs attempt native extraction and fall back to
// ocrmypdf when the quality gate fails, images go through preprocessing
// then Tesseract, and DOCX/XLSX go through the office XML extractor. PDF
// parsing, ocrmypdf and Tesseract run on pool; image preprocessing and
// office XML extraction run on the calling goroutine. When OCRValidate
// accepts OCR-derived text with a warning, the result's MethodName carries
// a "_warn" suffix.
func ExtractText(ctx context.Context, pool *CPUPool, data []byte, mimeType string, settings Settings) (*model.ExtractionResult, error) {
	settings = settings.withDefaults()
	started := time.Now()

	switch {
	case strings.HasPrefix(mimeType, "text/") || mimeType == "application/json" || mimeType == "application/xml":
		text, err := ExtractPlainText(data)
		if err != nil {
			return nil, err
		}
		return finish(text, 1.0, started, "plain_text", nil), nil

	case mimeType == "application/pdf":
		return extractPDF(ctx, pool, data, settings, started)

	case strings.HasPrefix(mimeType, "image/"):
		return extractImage(ctx, pool, data, settings, started)

	case strings.Contains(mimeType, "wordprocessingml") || strings.HasSuffix(mimeType, ".document"):
		return extractOffice(ctx, data, mimeType, started, "office_docx")

	case strings.Contains(mimeType, "spreadsheetml") || strings.HasSuffix(mimeType, ".sheet"):
		return extractOffice(ctx, data, mimeType, started, "office_xlsx")

	default:
		return nil, fmt.Errorf("extract: unsupported mime type %q", mimeType)
	}
}

func finish(text string, confidence float64, started time.Time, method string, steps []string) *model.ExtractionResult {
	return &model.ExtractionResult{
		Text:               text,
		Confidence:         confidence,
		ProcessingDuration: time.Since(started),
		WordCount:          CountWords(text),
		MethodName:         method,
		PreprocessingSteps: steps,
	}
}

func extractPDF(ctx context.Context, pool *CPUPool, data []byte, settings Settings, started time.Time) (*model.ExtractionResult, error) {
	text, err := ExtractPDFText(ctx, pool, data)
	if err == nil && IsTextBearing(text, int64(len(data)), CountWords(text)) {
		return finish(text, 1.0, started, "native_pdf", nil), nil
	}

	rewritten, ocrErr := RunOCRMyPDF(ctx, pool, data)
	if ocrErr != nil {
		if err != nil {
			return nil, fmt.Errorf("native extraction failed (%v) and ocrmypdf fallback failed: %w", err, ocrErr)
		}
		return nil, fmt.Errorf("native extraction produced low-quality text and ocrmypdf fallback failed: %w", ocrErr)
	}

	ocrText, reErr := ExtractPDFText(ctx, pool, rewritten)
	if reErr != nil {
		return nil, fmt.Errorf("extracting text from ocrmypdf output: %w", reErr)
	}

	reason, warn := OCRValidate(ocrText, settings.ConfidenceThreshold, settings.ConfidenceThreshold)
	if reason != RejectNone {
		return nil, fmt.Errorf("extract: ocr quality rejected: %s", reason)
	}

	result := finish(ocrText, settings.ConfidenceThreshold, started, "ocrmypdf", []string{"deskew", "clean"})
	if warn {
		result.MethodName = "ocrmypdf_warn"
	}
	return result, nil
}

func extractImage(ctx context.Context, pool *CPUPool, data []byte, settings Settings, started time.Time) (*model.ExtractionResult, error) {
	preprocessed, err := PreprocessImage(data)
	if err != nil {
		return nil, fmt.Errorf("preprocessing image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, preprocessed.Image); err != nil {
		return nil, fmt.Errorf("encoding preprocessed image: %w", err)
	}

	ocrResult, err := RunTesseract(ctx, pool, buf.Bytes(), settings.Language)
	if err != nil {
		return nil, err
	}

	reason, warn := OCRValidate(ocrResult.Text, ocrResult.Confidence, settings.ConfidenceThreshold)
	if reason != RejectNone {
		return nil, fmt.Errorf("extract: ocr quality rejected: %s", reason)
	}

	result := finish(ocrResult.Text, ocrResult.Confidence, started, "tesseract", preprocessed.PreprocessingSteps)
	if warn {
		result.MethodName = "tesseract_warn"
	}
	return result, nil
}

func extractOffice(ctx context.Context, data []byte, mimeType string, started time.Time, method string) (*model.ExtractionResult, error) {
	ectx := officexml.NewExtractionContext(officeAggregateCap)
	text, err := officexml.ExtractText(ctx, ectx, data, mimeType)
	if err != nil {
		return nil, err
	}
	return finish(text, 1.0, started, method, nil), nil
}
