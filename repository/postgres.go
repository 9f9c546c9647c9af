package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/readur/readur/model"
	"github.com/readur/readur/sourceerrors"
)

// postgresUniqueViolation is the SQLSTATE code for a unique-constraint
// violation; C9 relies on this to recover the concurrent-upload race as
// ExistingDocument rather than a hard failure.
const postgresUniqueViolation = "23505"

// PostgresRepository implements DocumentRepository directly over pgx,
// bypassing an ORM so that JSONB metadata handling, bulk upserts, and
// unique-violation detection stay explicit and cheap.
type PostgresRepository struct {
	db *PostgresDB
}

// NewPostgresRepository wraps an already-connected PostgresDB.
func NewPostgresRepository(db *PostgresDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ DocumentRepository = (*PostgresRepository)(nil)
var _ sourceerrors.Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) GetByOwnerAndHash(ctx context.Context, owner uuid.UUID, hash string) (*model.Document, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, filename, original_filename, storage_path, size_bytes,
		       mime_type, content_hash, extracted_text, ocr_confidence, ocr_status,
		       source_metadata, created_at, updated_at
		FROM documents WHERE owner_id = $1 AND content_hash = $2`, owner, hash)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading document by owner/hash: %w", err)
	}
	return doc, nil
}

func (r *PostgresRepository) Create(ctx context.Context, doc *model.Document) error {
	meta, err := json.Marshal(doc.SourceMetadata)
	if err != nil {
		return fmt.Errorf("marshaling source metadata: %w", err)
	}

	err = r.db.Exec(ctx, `
		INSERT INTO documents (id, owner_id, filename, original_filename, storage_path,
		                        size_bytes, mime_type, content_hash, ocr_status, source_metadata,
		                        created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		doc.ID, doc.OwnerID, doc.Filename, doc.OriginalFilename, doc.StoragePath,
		doc.SizeBytes, doc.MimeType, doc.ContentHash, doc.OCRStatus, meta,
		doc.CreatedAt, doc.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
			return ErrDuplicateContent{OwnerID: doc.OwnerID, ContentHash: doc.ContentHash}
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateFailed(ctx context.Context, failed *model.FailedDocument) error {
	meta, err := json.Marshal(failed.SourceMetadata)
	if err != nil {
		return fmt.Errorf("marshaling source metadata: %w", err)
	}

	err = r.db.Exec(ctx, `
		INSERT INTO failed_documents (id, owner_id, filename, original_filename, mime_type,
		                               size_bytes, failure_reason, failure_stage, error_message,
		                               source_metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		failed.ID, failed.OwnerID, failed.Filename, failed.OriginalFilename, failed.MimeType,
		failed.SizeBytes, failed.FailureReason, failed.FailureStage, failed.ErrorMessage,
		meta, failed.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting failed document: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateOCR(ctx context.Context, documentID uuid.UUID, text string, confidence float64, wordCount int, duration time.Duration, status model.OCRStatus) error {
	// The WHERE clause excludes documents already marked completed by a
	// previous write for the same id, so OCR is applied at most once per
	// document even under a duplicate-dispatch race.
	err := r.db.Exec(ctx, `
		UPDATE documents
		SET extracted_text = $2, ocr_confidence = $3, ocr_status = $4, updated_at = now()
		WHERE id = $1 AND ocr_status <> 'completed'`,
		documentID, text, confidence, status)
	if err != nil {
		return fmt.Errorf("updating ocr fields for %s: %w", documentID, err)
	}
	_ = wordCount
	_ = duration
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, owner, documentID uuid.UUID) error {
	if err := r.db.Exec(ctx, `DELETE FROM documents WHERE owner_id = $1 AND id = $2`, owner, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

// UpsertDirectoriesAndDeleteMissing runs the bulk directory sync inside a
// single transaction: upsert every record, then delete any tracked
// directory for owner whose path was not present in this batch.
func (r *PostgresRepository) UpsertDirectoriesAndDeleteMissing(ctx context.Context, owner uuid.UUID, records []model.DirectoryTrackingRecord) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning directory sync transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	paths := make([]string, 0, len(records))
	for _, rec := range records {
		paths = append(paths, rec.DirectoryPath)
		_, err := tx.Exec(ctx, `
			INSERT INTO directory_tracking (owner_id, directory_path, etag, last_scanned_at,
			                                 file_count, total_size, scan_in_progress, scan_started_at, scan_error)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (owner_id, directory_path) DO UPDATE SET
				etag = EXCLUDED.etag,
				last_scanned_at = EXCLUDED.last_scanned_at,
				file_count = EXCLUDED.file_count,
				total_size = EXCLUDED.total_size,
				scan_in_progress = EXCLUDED.scan_in_progress,
				scan_started_at = EXCLUDED.scan_started_at,
				scan_error = EXCLUDED.scan_error`,
			owner, rec.DirectoryPath, rec.ETag, rec.LastScannedAt, rec.FileCount,
			rec.TotalSize, rec.ScanInProgress, rec.ScanStartedAt, rec.ScanError)
		if err != nil {
			return fmt.Errorf("upserting directory %q: %w", rec.DirectoryPath, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM directory_tracking WHERE owner_id = $1 AND directory_path <> ALL($2)`,
		owner, paths); err != nil {
		return fmt.Errorf("deleting missing directories: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing directory sync: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetDirectoryTracking(ctx context.Context, owner uuid.UUID, path string) (*model.DirectoryTrackingRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT owner_id, directory_path, etag, last_scanned_at, file_count, total_size,
		       scan_in_progress, scan_started_at, scan_error
		FROM directory_tracking WHERE owner_id = $1 AND directory_path = $2`, owner, path)

	var rec model.DirectoryTrackingRecord
	err := row.Scan(&rec.OwnerID, &rec.DirectoryPath, &rec.ETag, &rec.LastScannedAt,
		&rec.FileCount, &rec.TotalSize, &rec.ScanInProgress, &rec.ScanStartedAt, &rec.ScanError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading directory tracking for %q: %w", path, err)
	}
	return &rec, nil
}

func (r *PostgresRepository) GetSyncState(ctx context.Context, owner uuid.UUID) (*model.SyncState, error) {
	row := r.db.QueryRow(ctx, `
		SELECT owner_id, last_sync_at, cursor, running, files_processed, files_remaining,
		       current_folder, error_list
		FROM sync_state WHERE owner_id = $1`, owner)

	var s model.SyncState
	err := row.Scan(&s.OwnerID, &s.LastSyncAt, &s.Cursor, &s.Running, &s.FilesProcessed,
		&s.FilesRemaining, &s.CurrentFolder, &s.ErrorList)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading sync state for owner %s: %w", owner, err)
	}
	return &s, nil
}

func (r *PostgresRepository) SaveSyncState(ctx context.Context, state *model.SyncState) error {
	err := r.db.Exec(ctx, `
		INSERT INTO sync_state (owner_id, last_sync_at, cursor, running, files_processed,
		                         files_remaining, current_folder, error_list)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (owner_id) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			cursor = EXCLUDED.cursor,
			running = EXCLUDED.running,
			files_processed = EXCLUDED.files_processed,
			files_remaining = EXCLUDED.files_remaining,
			current_folder = EXCLUDED.current_folder,
			error_list = EXCLUDED.error_list`,
		state.OwnerID, state.LastSyncAt, state.Cursor, state.Running, state.FilesProcessed,
		state.FilesRemaining, state.CurrentFolder, state.ErrorList)
	if err != nil {
		return fmt.Errorf("saving sync state for owner %s: %w", state.OwnerID, err)
	}
	return nil
}

// ResetInterruptedState runs once at process start: any sync left
// running=true, and any source mid-scan, was interrupted by the previous
// process's death and must not be trusted to resume on its own.
func (r *PostgresRepository) ResetInterruptedState(ctx context.Context) error {
	if err := r.db.Exec(ctx, `
		UPDATE sync_state
		SET running = false,
		    error_list = array_append(error_list, 'interrupted by restart')
		WHERE running = true`); err != nil {
		return fmt.Errorf("resetting interrupted sync states: %w", err)
	}

	if err := r.db.Exec(ctx, `
		UPDATE directory_tracking
		SET scan_in_progress = false,
		    scan_error = 'interrupted by restart'
		WHERE scan_in_progress = true`); err != nil {
		return fmt.Errorf("resetting interrupted directory scans: %w", err)
	}

	return nil
}

// GetActiveError returns the non-resolved error record for the resource key,
// using IS NOT DISTINCT FROM since source_id is NULL for local sources.
func (r *PostgresRepository) GetActiveError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) (*model.SourceErrorRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, source_kind, source_id, resource_path, failure_count,
		       consecutive_failures, first_failure_at, last_failure_at, next_retry_at,
		       severity, failure_type, user_excluded, resolved, diagnostics
		FROM source_error_records
		WHERE owner_id = $1 AND source_kind = $2 AND source_id IS NOT DISTINCT FROM $3
		  AND resource_path = $4 AND resolved = false`,
		owner, kind, sourceID, path)

	rec, err := scanSourceErrorRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading source error record for %q: %w", path, err)
	}
	return rec, nil
}

// UpsertError replaces the record identified by rec.ID. Callers (the
// sourceerrors.Tracker) are responsible for reusing an existing record's ID
// on update so this stays a primary-key conflict rather than needing a
// NULL-safe unique index on the resource key.
func (r *PostgresRepository) UpsertError(ctx context.Context, rec *model.SourceErrorRecord) error {
	diag, err := json.Marshal(rec.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshaling diagnostics: %w", err)
	}

	err = r.db.Exec(ctx, `
		INSERT INTO source_error_records (id, owner_id, source_kind, source_id, resource_path,
		                                   failure_count, consecutive_failures, first_failure_at,
		                                   last_failure_at, next_retry_at, severity, failure_type,
		                                   user_excluded, resolved, diagnostics)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			failure_count = EXCLUDED.failure_count,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_failure_at = EXCLUDED.last_failure_at,
			next_retry_at = EXCLUDED.next_retry_at,
			severity = EXCLUDED.severity,
			failure_type = EXCLUDED.failure_type,
			user_excluded = EXCLUDED.user_excluded,
			resolved = EXCLUDED.resolved,
			diagnostics = EXCLUDED.diagnostics`,
		rec.ID, rec.OwnerID, rec.SourceKind, rec.SourceID, rec.ResourcePath,
		rec.FailureCount, rec.ConsecutiveFailures, rec.FirstFailureAt,
		rec.LastFailureAt, rec.NextRetryAt, rec.Severity, rec.FailureType,
		rec.UserExcluded, rec.Resolved, diag)
	if err != nil {
		return fmt.Errorf("upserting source error record %q: %w", rec.ResourcePath, err)
	}
	return nil
}

// ResolveError marks the resource key's active record resolved, if any.
func (r *PostgresRepository) ResolveError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) error {
	if err := r.db.Exec(ctx, `
		UPDATE source_error_records
		SET resolved = true, consecutive_failures = 0
		WHERE owner_id = $1 AND source_kind = $2 AND source_id IS NOT DISTINCT FROM $3
		  AND resource_path = $4 AND resolved = false`,
		owner, kind, sourceID, path); err != nil {
		return fmt.Errorf("resolving source error record for %q: %w", path, err)
	}
	return nil
}

func scanSourceErrorRecord(row pgx.Row) (*model.SourceErrorRecord, error) {
	var rec model.SourceErrorRecord
	var diag []byte
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.SourceKind, &rec.SourceID, &rec.ResourcePath,
		&rec.FailureCount, &rec.ConsecutiveFailures, &rec.FirstFailureAt, &rec.LastFailureAt,
		&rec.NextRetryAt, &rec.Severity, &rec.FailureType, &rec.UserExcluded, &rec.Resolved, &diag)
	if err != nil {
		return nil, err
	}
	if len(diag) > 0 {
		if err := json.Unmarshal(diag, &rec.Diagnostics); err != nil {
			return nil, fmt.Errorf("unmarshaling diagnostics: %w", err)
		}
	}
	return &rec, nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	var meta []byte
	err := row.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.OriginalFilename, &d.StoragePath,
		&d.SizeBytes, &d.MimeType, &d.ContentHash, &d.ExtractedText, &d.OCRConfidence,
		&d.OCRStatus, &meta, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.SourceMetadata); err != nil {
			return nil, fmt.Errorf("unmarshaling source metadata: %w", err)
		}
	}
	return &d, nil
}
