package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

const (
	tesseractTimeout = 2 * time.Minute
	ocrmypdfTimeout  = 5 * time.Minute
)

// OCRResult carries Tesseract's recognized text and reported confidence
// (0.0-1.0), ready for OCRValidate.
type OCRResult struct {
	Text       string
	Confidence float64
}

// RunTesseract invokes the tesseract binary on a grayscale PNG, submitted to
// pool so the subprocess wait doesn't occupy an I/O goroutine. Confidence is
// parsed from --tsv output when available; absent any parseable value it
// defaults to 1.0 so OCRValidate's floor checks still run against the text
// itself.
func RunTesseract(ctx context.Context, pool *CPUPool, png []byte, language string) (*OCRResult, error) {
	if language == "" {
		language = "eng"
	}

	v, err := pool.Run(ctx, tesseractTimeout, func(ctx context.Context) (any, error) {
		return runTesseractProcess(ctx, png, language)
	})
	if err != nil {
		return nil, fmt.Errorf("running tesseract: %w", err)
	}
	return v.(*OCRResult), nil
}

func runTesseractProcess(ctx context.Context, png []byte, language string) (*OCRResult, error) {
	inputFile, err := os.CreateTemp("", "readur-ocr-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating ocr input file: %w", err)
	}
	defer os.Remove(inputFile.Name())
	if _, err := inputFile.Write(png); err != nil {
		inputFile.Close()
		return nil, fmt.Errorf("writing ocr input file: %w", err)
	}
	inputFile.Close()

	cmd := exec.CommandContext(ctx, "tesseract", inputFile.Name(), "stdout", "-l", language, "tsv")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract failed: %w: %s", err, stderr.String())
	}

	return parseTesseractTSV(stdout.String()), nil
}

// parseTesseractTSV extracts recognized words and their average confidence
// from tesseract's --tsv table output (12 tab-separated columns: confidence
// in the 11th, the word text in the 12th; a confidence of -1 marks non-text
// rows such as page/block headers).
func parseTesseractTSV(tsv string) *OCRResult {
	lines := splitLines(tsv)
	var words []string
	var confSum float64
	var confCount int

	for i, line := range lines {
		if i == 0 {
			continue // header row
		}
		cols := splitTabs(line)
		if len(cols) < 12 {
			continue
		}
		text := cols[11]
		confStr := cols[10]
		conf, err := strconv.ParseFloat(confStr, 64)
		if err != nil || conf < 0 {
			continue
		}
		if text == "" {
			continue
		}
		words = append(words, text)
		confSum += conf
		confCount++
	}

	text := joinWords(words)
	confidence := 1.0
	if confCount > 0 {
		confidence = (confSum / float64(confCount)) / 100.0
	}

	return &OCRResult{Text: text, Confidence: confidence}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, trimCR(s[start:i]))
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, trimCR(s[start:]))
	}
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

func splitTabs(s string) []string {
	var cols []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\t' {
			cols = append(cols, s[start:i])
			start = i + 1
		}
	}
	cols = append(cols, s[start:])
	return cols
}

func joinWords(words []string) string {
	var b []byte
	for i, w := range words {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, w...)
	}
	return string(b)
}

// RunOCRMyPDF invokes ocrmypdf with deskew and clean enabled, the fallback
// path for PDFs whose native extraction failed the quality gate. The
// rewritten, text-layered PDF bytes are returned for native re-extraction.
func RunOCRMyPDF(ctx context.Context, pool *CPUPool, pdfBytes []byte) ([]byte, error) {
	v, err := pool.Run(ctx, ocrmypdfTimeout, func(ctx context.Context) (any, error) {
		return runOCRMyPDFProcess(ctx, pdfBytes)
	})
	if err != nil {
		return nil, fmt.Errorf("running ocrmypdf: %w", err)
	}
	return v.([]byte), nil
}

func runOCRMyPDFProcess(ctx context.Context, pdfBytes []byte) ([]byte, error) {
	inputFile, err := os.CreateTemp("", "readur-ocrmypdf-in-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("creating ocrmypdf input file: %w", err)
	}
	defer os.Remove(inputFile.Name())
	if _, err := inputFile.Write(pdfBytes); err != nil {
		inputFile.Close()
		return nil, fmt.Errorf("writing ocrmypdf input file: %w", err)
	}
	inputFile.Close()

	outputFile, err := os.CreateTemp("", "readur-ocrmypdf-out-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("creating ocrmypdf output file: %w", err)
	}
	outputFile.Close()
	defer os.Remove(outputFile.Name())

	cmd := exec.CommandContext(ctx, "ocrmypdf", "--deskew", "--clean", "--force-ocr",
		inputFile.Name(), outputFile.Name())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ocrmypdf failed: %w: %s", err, stderr.String())
	}

	return os.ReadFile(outputFile.Name())
}
