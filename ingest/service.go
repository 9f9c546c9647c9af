// Package ingest implements the Document Ingestion Service (C9): the single
// funnel every source (direct upload, WebDAV sync, source sync, batch
// ingest) commits documents through, enforcing deduplication policy,
// content hashing, optional image auto-rotation, and the storage-before-DB
// write ordering that makes concurrent-upload races resolvable.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/readur/readur/model"
	"github.com/readur/readur/repository"
	"github.com/readur/readur/storage"
)

// Outcome classifies how Ingest resolved a request.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeExistingDocument Outcome = "existing_document"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeTrackedDuplicate Outcome = "tracked_as_duplicate"
)

// Result is the outcome of one Ingest call. Only the fields relevant to
// Outcome are populated.
type Result struct {
	Outcome            Outcome
	Document           *model.Document
	ExistingDocumentID uuid.UUID
	Reason             string
}

// Request is one document's ingestion request. FileData is consumed
// in-memory; callers with very large files should still read them fully
// before calling Ingest, since content hashing requires the whole body.
type Request struct {
	Filename         string
	OriginalFilename string
	FileData         []byte
	MimeType         string
	OwnerID          uuid.UUID

	DeduplicationPolicy model.DeduplicationPolicy

	// AutoRotateImages enables EXIF-based rotation for image/* MIME types.
	// The original service reads this from per-owner settings; this port
	// takes it as an explicit request field since no settings store is in
	// scope here (see DESIGN.md).
	AutoRotateImages bool

	SourceType *string
	SourceID   *uuid.UUID
	SourcePath *string

	OriginalCreatedAt  *time.Time
	OriginalModifiedAt *time.Time

	FilePermissions *int32
	FileOwner       *string
	FileGroup       *string

	SourceMetadata map[string]any
}

// rotator abstracts extract.AutoRotateImage so tests can substitute a
// failing or no-op rotator without depending on real image codecs.
type rotator func(data []byte) ([]byte, error)

// Service runs the ingestion algorithm against a repository and storage
// backend.
type Service struct {
	repo   repository.DocumentRepository
	store  storage.Storage
	rotate rotator
	log    *logrus.Logger
	newID  func() uuid.UUID
}

// New constructs a Service. log defaults to logrus.StandardLogger() when nil.
func New(repo repository.DocumentRepository, store storage.Storage, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		repo:   repo,
		store:  store,
		rotate: defaultRotator,
		log:    log,
		newID:  uuid.New,
	}
}

// Ingest runs the six-step ingestion algorithm: hash, dedup-policy
// resolution, optional auto-rotate, storage write, document-row creation
// with race handling, failure-record persistence on any terminal error.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	hash := ContentHash(req.FileData)
	size := int64(len(req.FileData))

	entry := s.log.WithFields(logrus.Fields{
		"owner":    req.OwnerID,
		"filename": req.Filename,
		"hash":     hash[:8],
		"size":     humanize.Bytes(uint64(size)),
		"policy":   req.DeduplicationPolicy,
	})
	entry.Debug("ingesting document")

	existing, err := s.repo.GetByOwnerAndHash(ctx, req.OwnerID, hash)
	if err != nil {
		entry.WithError(err).Warn("duplicate-content lookup failed, proceeding with ingestion")
	} else if existing != nil {
		entry.WithField("existing_document_id", existing.ID).Debug("found existing document with same content")
		switch req.DeduplicationPolicy {
		case model.PolicySkip:
			return Result{
				Outcome:            OutcomeSkipped,
				ExistingDocumentID: existing.ID,
				Reason:             fmt.Sprintf("Content already exists as '%s'", existing.OriginalFilename),
			}, nil
		case model.PolicyReturnExisting:
			return Result{Outcome: OutcomeExistingDocument, Document: existing}, nil
		case model.PolicyTrackAsDuplicate:
			return Result{Outcome: OutcomeTrackedDuplicate, ExistingDocumentID: existing.ID}, nil
		case model.PolicyAllowDuplicateContent:
			entry.Debug("creating new document record despite duplicate content (AllowDuplicateContent)")
		}
	}

	documentID := s.newID()

	fileData := req.FileData
	if strings.HasPrefix(req.MimeType, "image/") && req.AutoRotateImages {
		rotated, rotateErr := s.rotate(req.FileData)
		if rotateErr != nil {
			entry.WithError(rotateErr).Warn("failed to auto-rotate image, proceeding with original data")
		} else {
			fileData = rotated
		}
	}

	handle, err := s.store.StoreDocument(ctx, req.OwnerID, documentID, req.Filename, bytes.NewReader(fileData), int64(len(fileData)))
	if err != nil {
		entry.WithError(err).Warn("failed to save file")
		s.recordFailure(ctx, req, hash, size, nil, model.StageStorage, model.ReasonStorageError, err)
		return Result{}, fmt.Errorf("ingest: save document: %w", err)
	}

	doc := &model.Document{
		ID:               documentID,
		OwnerID:          req.OwnerID,
		Filename:         req.Filename,
		OriginalFilename: req.OriginalFilename,
		StoragePath:      handle,
		SizeBytes:        size,
		MimeType:         req.MimeType,
		ContentHash:      hash,
		OCRStatus:        model.OCRStatusPending,
		SourceMetadata:   buildSourceMetadata(req),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		var dup repository.ErrDuplicateContent
		if errors.As(err, &dup) {
			entry.Warn("hash collision detected during concurrent upload, fetching existing document")
			raced, fetchErr := s.repo.GetByOwnerAndHash(ctx, req.OwnerID, hash)
			if fetchErr != nil {
				return Result{}, fmt.Errorf("ingest: fetch after duplicate-content race: %w", fetchErr)
			}
			if raced == nil {
				return Result{}, fmt.Errorf("ingest: unique-constraint violation but no document found for hash %s", hash[:8])
			}
			return Result{Outcome: OutcomeExistingDocument, Document: raced}, nil
		}

		entry.WithError(err).Warn("failed to create document record")
		s.recordFailure(ctx, req, hash, size, &handle, model.StageIngestion, model.ReasonDatabaseError, err)
		return Result{}, fmt.Errorf("ingest: create document: %w", err)
	}

	entry.WithField("document_id", doc.ID).Debug("successfully ingested document")
	return Result{Outcome: OutcomeCreated, Document: doc}, nil
}

func (s *Service) recordFailure(ctx context.Context, req Request, hash string, size int64, storagePath *string, stage model.FailureStage, reason model.FailureReason, cause error) {
	meta := buildSourceMetadata(req)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["content_hash"] = hash
	if storagePath != nil {
		meta["storage_path"] = *storagePath
	}

	failed := &model.FailedDocument{
		ID:               s.newID(),
		OwnerID:          req.OwnerID,
		Filename:         req.Filename,
		OriginalFilename: req.OriginalFilename,
		MimeType:         req.MimeType,
		SizeBytes:        size,
		FailureReason:    reason,
		FailureStage:     stage,
		ErrorMessage:     cause.Error(),
		SourceMetadata:   meta,
		CreatedAt:        time.Now(),
	}
	if err := s.repo.CreateFailed(ctx, failed); err != nil {
		s.log.WithError(err).Warn("failed to create failed-document record")
	}
}

func buildSourceMetadata(req Request) map[string]any {
	meta := map[string]any{}
	for k, v := range req.SourceMetadata {
		meta[k] = v
	}
	if req.SourcePath != nil {
		meta["source_path"] = *req.SourcePath
	}
	if req.FilePermissions != nil {
		meta["permissions"] = *req.FilePermissions
	}
	if req.FileOwner != nil {
		meta["owner"] = *req.FileOwner
	}
	if req.FileGroup != nil {
		meta["group"] = *req.FileGroup
	}
	if req.SourceType != nil {
		meta["source_type"] = *req.SourceType
	}
	if req.SourceID != nil {
		meta["source_id"] = req.SourceID.String()
	}
	if req.OriginalCreatedAt != nil {
		meta["original_created_at"] = req.OriginalCreatedAt.Format(time.RFC3339)
	}
	if req.OriginalModifiedAt != nil {
		meta["original_modified_at"] = req.OriginalModifiedAt.Format(time.RFC3339)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// ContentHash returns the lowercase hex SHA-256 digest of data, the content
// key C9 hashes every incoming document on.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
