package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceErrorRecord is the persisted failure ledger for a single remote
// resource, keyed by (OwnerID, SourceKind, SourceID, ResourcePath).
// Invariant: at most one active (non-resolved, non-excluded) record per key.
type SourceErrorRecord struct {
	ID                uuid.UUID
	OwnerID           uuid.UUID
	SourceKind        SourceKind
	SourceID          *uuid.UUID
	ResourcePath      string
	FailureCount      int
	ConsecutiveFailures int
	FirstFailureAt    time.Time
	LastFailureAt     time.Time
	NextRetryAt       *time.Time
	Severity          Severity
	FailureType       FailureType
	UserExcluded      bool
	Resolved          bool
	Diagnostics       map[string]any
}

// DirectoryTrackingRecord short-circuits unchanged WebDAV directories via ETag.
// Invariant: ScanInProgress implies ScanStartedAt is set.
type DirectoryTrackingRecord struct {
	OwnerID         uuid.UUID
	DirectoryPath   string
	ETag            string
	LastScannedAt   time.Time
	FileCount       int
	TotalSize       int64
	ScanInProgress  bool
	ScanStartedAt   *time.Time
	ScanError       *string
}

// SyncState is the per-owner WebDAV sync cursor and progress record. On
// process start, rows with Running=true are reset with an interruption note.
type SyncState struct {
	OwnerID        uuid.UUID
	LastSyncAt     *time.Time
	Cursor         string
	Running        bool
	FilesProcessed int
	FilesRemaining int
	CurrentFolder  string
	ErrorList      []string
}

// FileIngestionInfo is an in-memory description of one remote file or
// directory discovered during traversal, prior to download.
type FileIngestionInfo struct {
	RelativePath   string
	Href           string
	Size           int64
	ServerMimeType string
	ETag           string
	LastModified   time.Time
	IsDirectory    bool
	Permissions    *string
	Owner          *string
	Group          *string
	SourceMetadata map[string]any
}

// ExtractionResult is the in-memory outcome of running the extraction
// pipeline (C7) against one document's bytes.
type ExtractionResult struct {
	Text                string
	Confidence          float64
	ProcessingDuration  time.Duration
	WordCount           int
	MethodName          string
	ProcessedImagePath  *string
	PreprocessingSteps  []string
}
