// Package repository implements the Document Repository (C2): the single
// persistence boundary for Document, FailedDocument, SourceErrorRecord,
// DirectoryTrackingRecord, and SyncState rows. The concrete schema is an
// implementation detail behind this package; callers interact only with the
// operations declared here.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/readur/readur/model"
)

// ErrDuplicateContent is returned by Create when (owner, hash) already has a
// row; callers should treat this as the concurrent-upload race outcome
// described in C9's algorithm, not as a generic failure.
type ErrDuplicateContent struct {
	OwnerID     uuid.UUID
	ContentHash string
}

func (e ErrDuplicateContent) Error() string {
	return "document repository: duplicate content for owner " + e.OwnerID.String()
}

// DocumentRepository is the Document Repository's external contract (§4.2).
type DocumentRepository interface {
	// GetByOwnerAndHash returns the document matching the (owner, hash) key,
	// or nil if none exists.
	GetByOwnerAndHash(ctx context.Context, owner uuid.UUID, hash string) (*model.Document, error)

	// Create inserts a document row. Returns ErrDuplicateContent if (owner,
	// hash) is already present.
	Create(ctx context.Context, doc *model.Document) error

	// CreateFailed inserts a failure record; this call never conflicts.
	CreateFailed(ctx context.Context, failed *model.FailedDocument) error

	// UpdateOCR mutates a document's extracted-text fields. Applied at most
	// once per document id under a compare-on-status update.
	UpdateOCR(ctx context.Context, documentID uuid.UUID, text string, confidence float64, wordCount int, duration time.Duration, status model.OCRStatus) error

	// Delete removes a document row. Storage cleanup is the caller's
	// responsibility: call Storage.DeleteAllForDocument with the deleted
	// document's StoragePath before or after this, since that handle is
	// only available while the row still exists.
	Delete(ctx context.Context, owner, documentID uuid.UUID) error

	// UpsertDirectoriesAndDeleteMissing runs, in one transaction: an upsert of
	// every record in records, then a delete of every tracked directory for
	// owner whose path is not present in records. Atomic with respect to
	// concurrent readers.
	UpsertDirectoriesAndDeleteMissing(ctx context.Context, owner uuid.UUID, records []model.DirectoryTrackingRecord) error

	GetDirectoryTracking(ctx context.Context, owner uuid.UUID, path string) (*model.DirectoryTrackingRecord, error)

	GetSyncState(ctx context.Context, owner uuid.UUID) (*model.SyncState, error)
	SaveSyncState(ctx context.Context, state *model.SyncState) error

	// ResetInterruptedState marks every running=true sync state and every
	// in-progress scan back to idle with an "interrupted by restart" note.
	// Intended to run once at process start.
	ResetInterruptedState(ctx context.Context) error

	// GetActiveError returns the non-resolved SourceErrorRecord for the given
	// resource key, or nil if the resource has no open error.
	GetActiveError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) (*model.SourceErrorRecord, error)

	// UpsertError inserts or replaces the active error record for rec's
	// resource key.
	UpsertError(ctx context.Context, rec *model.SourceErrorRecord) error

	// ResolveError marks the resource key's active error record resolved, if
	// one exists.
	ResolveError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) error
}
