package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readur/readur/model"
	"github.com/readur/readur/repository"
	"github.com/readur/readur/storage"
)

// fakeRepository is a minimal in-memory repository.DocumentRepository
// covering only what Ingest exercises: hash lookup, create (with a
// duplicate-content race trigger), and failed-document recording.
type fakeRepository struct {
	repository.DocumentRepository

	mu       sync.Mutex
	byHash   map[string]*model.Document
	failed   []*model.FailedDocument
	created  []*model.Document

	// raceOnce, when true, makes the next Create return ErrDuplicateContent
	// once (simulating a concurrent writer that won the race) and installs
	// winner as the row a following GetByOwnerAndHash resolves to.
	raceOnce bool
	winner   *model.Document

	failCreate  error
	failStorage bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byHash: make(map[string]*model.Document)}
}

func (f *fakeRepository) GetByOwnerAndHash(ctx context.Context, owner uuid.UUID, hash string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.byHash[owner.String()+"/"+hash]
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func (f *fakeRepository) Create(ctx context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate != nil {
		return f.failCreate
	}

	if f.raceOnce {
		f.raceOnce = false
		f.byHash[doc.OwnerID.String()+"/"+doc.ContentHash] = f.winner
		return repository.ErrDuplicateContent{OwnerID: doc.OwnerID, ContentHash: doc.ContentHash}
	}

	f.byHash[doc.OwnerID.String()+"/"+doc.ContentHash] = doc
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeRepository) CreateFailed(ctx context.Context, failed *model.FailedDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failed)
	return nil
}

// failingStorage always fails StoreDocument, exercising the stage=storage
// failed-document path; all other Storage methods are unused by Ingest.
type failingStorage struct {
	storage.Storage
}

func (failingStorage) StoreDocument(ctx context.Context, owner, documentID uuid.UUID, filename string, r io.Reader, size int64) (string, error) {
	return "", errors.New("disk full")
}

func newOwner() uuid.UUID { return uuid.New() }

func TestIngestStorageErrorRecordsFailedDocument(t *testing.T) {
	repo := newFakeRepository()
	svc := New(repo, failingStorage{}, nil)

	_, err := svc.Ingest(context.Background(), Request{
		Filename:            "x.pdf",
		OriginalFilename:    "x.pdf",
		FileData:            []byte("data"),
		MimeType:            "application/pdf",
		OwnerID:             newOwner(),
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
	})

	require.Error(t, err)
	require.Len(t, repo.failed, 1)
	assert.Equal(t, model.StageStorage, repo.failed[0].FailureStage)
	assert.Equal(t, model.ReasonStorageError, repo.failed[0].FailureReason)
	assert.Empty(t, repo.created)
}

func TestIngestCreatesNewDocument(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	owner := newOwner()

	result, err := svc.Ingest(context.Background(), Request{
		Filename:            "invoice.pdf",
		OriginalFilename:    "invoice.pdf",
		FileData:            []byte("%PDF-1.4 ..."),
		MimeType:            "application/pdf",
		OwnerID:             owner,
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, result.Outcome)
	require.NotNil(t, result.Document)
	assert.Equal(t, ContentHash([]byte("%PDF-1.4 ...")), result.Document.ContentHash)
	assert.Len(t, repo.created, 1)
}

func TestIngestSkipPolicyReturnsSkippedWithoutStoring(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	owner := newOwner()

	existing := &model.Document{ID: uuid.New(), OwnerID: owner, OriginalFilename: "report.pdf", ContentHash: ContentHash([]byte("data"))}
	repo.byHash[owner.String()+"/"+existing.ContentHash] = existing

	result, err := svc.Ingest(context.Background(), Request{
		Filename:            "report-copy.pdf",
		OriginalFilename:    "report-copy.pdf",
		FileData:            []byte("data"),
		MimeType:            "application/pdf",
		OwnerID:             owner,
		DeduplicationPolicy: model.PolicySkip,
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, existing.ID, result.ExistingDocumentID)
	assert.Contains(t, result.Reason, "report.pdf")
	assert.Empty(t, repo.created)
}

func TestIngestReturnExistingPolicyReturnsExistingDocument(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	owner := newOwner()

	existing := &model.Document{ID: uuid.New(), OwnerID: owner, ContentHash: ContentHash([]byte("data"))}
	repo.byHash[owner.String()+"/"+existing.ContentHash] = existing

	result, err := svc.Ingest(context.Background(), Request{
		FileData:            []byte("data"),
		MimeType:            "application/pdf",
		OwnerID:             owner,
		DeduplicationPolicy: model.PolicyReturnExisting,
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeExistingDocument, result.Outcome)
	assert.Same(t, existing, result.Document)
}

func TestIngestTrackAsDuplicatePolicy(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	owner := newOwner()

	existing := &model.Document{ID: uuid.New(), OwnerID: owner, ContentHash: ContentHash([]byte("data"))}
	repo.byHash[owner.String()+"/"+existing.ContentHash] = existing

	result, err := svc.Ingest(context.Background(), Request{
		FileData:            []byte("data"),
		MimeType:            "application/pdf",
		OwnerID:             owner,
		DeduplicationPolicy: model.PolicyTrackAsDuplicate,
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeTrackedDuplicate, result.Outcome)
	assert.Equal(t, existing.ID, result.ExistingDocumentID)
}

func TestIngestAllowDuplicateContentCreatesAnother(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	owner := newOwner()

	existing := &model.Document{ID: uuid.New(), OwnerID: owner, ContentHash: ContentHash([]byte("data"))}
	repo.byHash[owner.String()+"/"+existing.ContentHash] = existing

	result, err := svc.Ingest(context.Background(), Request{
		Filename:            "second-copy.pdf",
		OriginalFilename:    "second-copy.pdf",
		FileData:            []byte("data"),
		MimeType:            "application/pdf",
		OwnerID:             owner,
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.NotEqual(t, existing.ID, result.Document.ID)
}

func TestIngestConcurrentRaceReturnsExistingDocument(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	owner := newOwner()

	winner := &model.Document{ID: uuid.New(), OwnerID: owner, OriginalFilename: "raced.pdf", ContentHash: ContentHash([]byte("data"))}
	repo.raceOnce = true
	repo.winner = winner

	result, err := svc.Ingest(context.Background(), Request{
		Filename:            "raced.pdf",
		OriginalFilename:    "raced.pdf",
		FileData:            []byte("data"),
		MimeType:            "application/pdf",
		OwnerID:             owner,
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeExistingDocument, result.Outcome)
	assert.Same(t, winner, result.Document)
}

func TestIngestDatabaseErrorRecordsFailedDocument(t *testing.T) {
	repo := newFakeRepository()
	repo.failCreate = errors.New("connection reset")
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)

	_, err := svc.Ingest(context.Background(), Request{
		Filename:            "x.pdf",
		OriginalFilename:    "x.pdf",
		FileData:            []byte("data"),
		MimeType:            "application/pdf",
		OwnerID:             newOwner(),
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
	})

	require.Error(t, err)
	require.Len(t, repo.failed, 1)
	assert.Equal(t, model.StageIngestion, repo.failed[0].FailureStage)
	assert.Equal(t, model.ReasonDatabaseError, repo.failed[0].FailureReason)
}

func TestIngestAutoRotateFailureFallsBackToOriginalBytes(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	svc.rotate = func(data []byte) ([]byte, error) { return nil, errors.New("corrupt exif") }

	original := []byte("not a real image, but mime says so")
	result, err := svc.Ingest(context.Background(), Request{
		Filename:            "photo.jpg",
		OriginalFilename:    "photo.jpg",
		FileData:            original,
		MimeType:            "image/jpeg",
		OwnerID:             newOwner(),
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
		AutoRotateImages:    true,
	})

	require.NoError(t, err)
	assert.Equal(t, ContentHash(original), result.Document.ContentHash)
}

func TestIngestAutoRotateAppliedWhenEnabled(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	rotatedBytes := []byte("rotated-bytes")
	svc.rotate = func(data []byte) ([]byte, error) { return rotatedBytes, nil }

	result, err := svc.Ingest(context.Background(), Request{
		Filename:            "photo.jpg",
		OriginalFilename:    "photo.jpg",
		FileData:            []byte("original-bytes"),
		MimeType:            "image/jpeg",
		OwnerID:             newOwner(),
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
		AutoRotateImages:    true,
	})

	require.NoError(t, err)
	assert.Equal(t, ContentHash(rotatedBytes), result.Document.ContentHash)
}

func TestIngestAutoRotateSkippedWhenDisabled(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	called := false
	svc.rotate = func(data []byte) ([]byte, error) { called = true; return data, nil }

	_, err := svc.Ingest(context.Background(), Request{
		Filename:            "photo.jpg",
		OriginalFilename:    "photo.jpg",
		FileData:            []byte("original-bytes"),
		MimeType:            "image/jpeg",
		OwnerID:             newOwner(),
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
		AutoRotateImages:    false,
	})

	require.NoError(t, err)
	assert.False(t, called)
}

func TestIngestSourceMetadataMerged(t *testing.T) {
	repo := newFakeRepository()
	store := storage.NewMockBackend()
	svc := New(repo, store, nil)
	path := "/remote/docs/a.pdf"
	srcType := "webdav"

	result, err := svc.Ingest(context.Background(), Request{
		Filename:            "a.pdf",
		OriginalFilename:    "a.pdf",
		FileData:            []byte("data"),
		MimeType:            "application/pdf",
		OwnerID:             newOwner(),
		DeduplicationPolicy: model.PolicyAllowDuplicateContent,
		SourcePath:          &path,
		SourceType:          &srcType,
		SourceMetadata:      map[string]any{"custom": "value"},
	})

	require.NoError(t, err)
	require.NotNil(t, result.Document.SourceMetadata)
	assert.Equal(t, path, result.Document.SourceMetadata["source_path"])
	assert.Equal(t, srcType, result.Document.SourceMetadata["source_type"])
	assert.Equal(t, "value", result.Document.SourceMetadata["custom"])
}
