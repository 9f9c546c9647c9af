// Package storage implements the Storage Backend (C1): byte-level
// persistence of documents, thumbnails, and processed images, polymorphic
// over a local filesystem backend and an S3-compatible object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the layered path prefix a piece of content is stored
// under.
type Kind string

const (
	KindDocument       Kind = "documents"
	KindThumbnail      Kind = "thumbnails"
	KindProcessedImage Kind = "processed_images"
)

// Storage is the capability set every backend (local filesystem,
// S3-compatible object store) must implement.
type Storage interface {
	// StoreDocument persists bytes under the document path layering and
	// returns an opaque, backend-stable handle the backend can later
	// resolve via Retrieve.
	StoreDocument(ctx context.Context, owner uuid.UUID, documentID uuid.UUID, filename string, r io.Reader, size int64) (handle string, err error)

	// StoreThumbnail persists a thumbnail keyed by document id.
	StoreThumbnail(ctx context.Context, owner uuid.UUID, documentID uuid.UUID, r io.Reader, size int64) (handle string, err error)

	// StoreProcessedImage persists a processed (e.g. auto-rotated, denoised)
	// image keyed by document id.
	StoreProcessedImage(ctx context.Context, owner uuid.UUID, documentID uuid.UUID, r io.Reader, size int64) (handle string, err error)

	// Retrieve opens a reader over the bytes at handle. Callers must Close it.
	Retrieve(ctx context.Context, handle string) (io.ReadCloser, error)

	// DeleteAllForDocument removes the document, thumbnail, and processed
	// image (whichever exist) for the given document id. documentHandle is
	// the exact handle StoreDocument returned for this document (e.g.
	// model.Document.StoragePath); the document's storage key embeds a
	// year/month partition and the original file extension, neither of
	// which is derivable from owner/documentID alone, so the caller must
	// supply it. An empty documentHandle skips deleting the document itself
	// and only clears the thumbnail/processed image.
	DeleteAllForDocument(ctx context.Context, owner uuid.UUID, documentID uuid.UUID, documentHandle string) error

	// FileExists reports whether handle currently resolves to content.
	FileExists(ctx context.Context, handle string) (bool, error)

	// Initialize prepares the backend (creates the root directory / verifies
	// bucket access) before first use.
	Initialize(ctx context.Context) error
}

// LayeredPath builds the `{kind}/{owner}/{YYYY}/{MM}/{document_id}.{ext}`
// handle the spec mandates for document storage. Thumbnails and processed
// images use a flatter, fixed-prefix scheme keyed only by document id (see
// ThumbnailPath / ProcessedImagePath).
func LayeredPath(kind Kind, owner uuid.UUID, documentID uuid.UUID, ext string, at time.Time) string {
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	return fmt.Sprintf("%s/%s/%04d/%02d/%s%s", kind, owner, at.Year(), int(at.Month()), documentID, ext)
}

// ThumbnailPath builds `thumbnails/{owner}/{document_id}_thumb.jpg`.
func ThumbnailPath(owner uuid.UUID, documentID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s_thumb.jpg", KindThumbnail, owner, documentID)
}

// ProcessedImagePath builds `processed_images/{owner}/{document_id}_processed.png`.
func ProcessedImagePath(owner uuid.UUID, documentID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s_processed.png", KindProcessedImage, owner, documentID)
}

// MultipartThreshold is the body size above which a backend must use
// chunked/multipart transfer.
const MultipartThreshold = 100 * 1024 * 1024 // 100 MiB

// MinChunkSize is the minimum chunk size for multipart transfer.
const MinChunkSize = 16 * 1024 * 1024 // 16 MiB

// ErrNotFound is returned by Retrieve/FileExists-adjacent calls when a
// handle does not resolve to any content.
type ErrNotFound struct{ Handle string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("storage: not found: %s", e.Handle) }
