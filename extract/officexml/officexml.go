// Package officexml extracts text from DOCX and XLSX documents by treating
// them as ZIP archives of XML parts, without depending on a full office
// document library. Every security invariant is enforced before any output
// is produced: per-part and aggregate decompression caps, a compression
// ratio cap, an entry-count cap, and entry-name validation, so a malicious
// archive cannot exhaust memory or escape the archive root.
package officexml

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	MaxOfficeFileSize      = 50 * 1024 * 1024  // whole-file cap
	MaxXMLPartSize         = 10 * 1024 * 1024  // per-part decompressed cap
	MaxAggregateDecompress = 100 * 1024 * 1024 // aggregate decompressed cap
	MaxCompressionRatio    = 1000              // decompressed / compressed
	MaxZipEntries          = 1000
	MaxEntryNameLength     = 255
)

// ErrZipBomb is raised when any decompression cap or the compression ratio
// cap is exceeded.
type ErrZipBomb struct{ Reason string }

func (e ErrZipBomb) Error() string { return "officexml: zip bomb protection: " + e.Reason }

// ErrInvalidEntryName is raised by an entry whose name fails validation.
type ErrInvalidEntryName struct{ Name string }

func (e ErrInvalidEntryName) Error() string {
	return fmt.Sprintf("officexml: invalid zip entry name %q", e.Name)
}

// ExtractionContext carries a cancellation flag checked at zip-entry
// boundaries (the XML decode loops observe ctx cancellation, not this
// flag), plus the running aggregate
// decompressed-byte count shared across every part read in one document.
type ExtractionContext struct {
	cancelled  bool
	decompressed uint64
	maxTotal   uint64
}

// NewExtractionContext bounds the aggregate decompressed size at maxTotal
// (typically MaxAggregateDecompress).
func NewExtractionContext(maxTotal uint64) *ExtractionContext {
	if maxTotal == 0 {
		maxTotal = MaxAggregateDecompress
	}
	return &ExtractionContext{maxTotal: maxTotal}
}

func (c *ExtractionContext) Cancel()          { c.cancelled = true }
func (c *ExtractionContext) IsCancelled() bool { return c.cancelled }

func (c *ExtractionContext) addDecompressed(n uint64) error {
	c.decompressed += n
	if c.decompressed > c.maxTotal {
		return ErrZipBomb{Reason: fmt.Sprintf("aggregate decompressed size %d exceeds cap %d", c.decompressed, c.maxTotal)}
	}
	return nil
}

// validateEntryName rejects path traversal (".."), absolute paths, drive
// letters, and the character class <>|*?, and enforces the length cap.
func validateEntryName(name string) error {
	if len(name) > MaxEntryNameLength {
		return ErrInvalidEntryName{Name: name}
	}
	if strings.Contains(name, "..") {
		return ErrInvalidEntryName{Name: name}
	}
	if path.IsAbs(name) || strings.HasPrefix(name, "/") {
		return ErrInvalidEntryName{Name: name}
	}
	if len(name) >= 2 && name[1] == ':' {
		return ErrInvalidEntryName{Name: name} // drive letter, e.g. "C:"
	}
	if strings.ContainsAny(name, "<>|*?") {
		return ErrInvalidEntryName{Name: name}
	}
	return nil
}

// readZipEntrySafely reads one zip.File's decompressed content, enforcing
// the per-part cap, the compression-ratio cap, and the aggregate cap via
// ectx. It reads at most MaxXMLPartSize+1 bytes so an oversized part is
// detected without fully decompressing an attacker-controlled stream.
func readZipEntrySafely(f *zip.File, ectx *ExtractionContext) ([]byte, error) {
	if err := validateEntryName(f.Name); err != nil {
		return nil, err
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	limited := io.LimitReader(rc, MaxXMLPartSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading entry %q: %w", f.Name, err)
	}
	if len(data) > MaxXMLPartSize {
		return nil, ErrZipBomb{Reason: fmt.Sprintf("entry %q exceeds per-part cap %d", f.Name, MaxXMLPartSize)}
	}

	if f.CompressedSize64 > 0 {
		ratio := float64(len(data)) / float64(f.CompressedSize64)
		if ratio > MaxCompressionRatio {
			return nil, ErrZipBomb{Reason: fmt.Sprintf("entry %q compression ratio %.1f exceeds cap %d", f.Name, ratio, MaxCompressionRatio)}
		}
	}

	if err := ectx.addDecompressed(uint64(len(data))); err != nil {
		return nil, err
	}

	return data, nil
}

// removeNullBytes strips NUL characters some generators leave in text runs.
func removeNullBytes(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// newXMLDecoder builds a decoder with entity expansion disabled and
// whitespace preserved, so external entities are never resolved and
// structurally significant spacing survives.
func newXMLDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.Strict = true
	d.Entity = map[string]string{} // no custom/external entity resolution
	return d
}

// ExtractText dispatches on mimeType to the DOCX or XLSX extractor.
func ExtractText(ctx context.Context, ectx *ExtractionContext, data []byte, mimeType string) (string, error) {
	if len(data) > MaxOfficeFileSize {
		return "", fmt.Errorf("officexml: document exceeds %d byte cap", MaxOfficeFileSize)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening office document as zip: %w", err)
	}
	if len(zr.File) > MaxZipEntries {
		return "", ErrZipBomb{Reason: fmt.Sprintf("entry count %d exceeds cap %d", len(zr.File), MaxZipEntries)}
	}

	switch {
	case strings.Contains(mimeType, "wordprocessingml") || strings.HasSuffix(mimeType, ".document"):
		return extractDOCX(ctx, zr, ectx)
	case strings.Contains(mimeType, "spreadsheetml") || strings.HasSuffix(mimeType, ".sheet"):
		return extractXLSX(ctx, zr, ectx)
	default:
		return "", fmt.Errorf("officexml: unsupported mime type %q", mimeType)
	}
}
