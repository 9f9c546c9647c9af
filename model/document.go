// Package model holds the semantic types shared across the ingestion,
// extraction, and sync components: documents, failure records, and the
// in-memory values that flow between them.
package model

import (
	"time"

	"github.com/google/uuid"
)

// OCRStatus is the lifecycle state of a Document's extracted text.
type OCRStatus string

const (
	OCRStatusAbsent     OCRStatus = "absent"
	OCRStatusPending    OCRStatus = "pending"
	OCRStatusProcessing OCRStatus = "processing"
	OCRStatusCompleted  OCRStatus = "completed"
	OCRStatusFailed     OCRStatus = "failed"
)

// Document is a persisted, content-addressed file owned by a single principal.
// Invariant: (OwnerID, ContentHash) is unique across all documents.
type Document struct {
	ID               uuid.UUID
	OwnerID          uuid.UUID
	Filename         string
	OriginalFilename string
	StoragePath      string
	SizeBytes        int64
	MimeType         string
	ContentHash      string
	ExtractedText    *string
	OCRConfidence    *float64
	OCRStatus        OCRStatus
	SourceMetadata   map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FailureStage names which step of ingestion or extraction failed.
type FailureStage string

const (
	StageStorage    FailureStage = "storage"
	StageIngestion  FailureStage = "ingestion"
	StageExtraction FailureStage = "extraction"
	StageValidation FailureStage = "validation"
)

// FailureReason is the coarse cause recorded against a FailedDocument.
type FailureReason string

const (
	ReasonStorageError    FailureReason = "storage_error"
	ReasonDatabaseError   FailureReason = "database_error"
	ReasonExtractionError FailureReason = "extraction_error"
	ReasonValidationError FailureReason = "validation_error"
)

// FailedDocument mirrors Document's identifying fields for a file that never
// became a Document because some step of ingestion or extraction failed.
// It is never promoted into a Document.
type FailedDocument struct {
	ID               uuid.UUID
	OwnerID          uuid.UUID
	Filename         string
	OriginalFilename string
	MimeType         string
	SizeBytes        int64
	FailureReason     FailureReason
	FailureStage      FailureStage
	ErrorMessage      string
	SourceMetadata    map[string]any
	CreatedAt         time.Time
}

// DeduplicationPolicy controls how Ingest resolves a hash collision with an
// existing document owned by the same principal.
type DeduplicationPolicy string

const (
	// PolicySkip returns Skipped without creating anything.
	PolicySkip DeduplicationPolicy = "skip"
	// PolicyReturnExisting returns the existing document as-is.
	PolicyReturnExisting DeduplicationPolicy = "return_existing"
	// PolicyAllowDuplicateContent creates a new document row sharing the hash.
	PolicyAllowDuplicateContent DeduplicationPolicy = "allow_duplicate_content"
	// PolicyTrackAsDuplicate records that a duplicate was seen without creating one.
	PolicyTrackAsDuplicate DeduplicationPolicy = "track_as_duplicate"
)
