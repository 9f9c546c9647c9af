package sourceerrors

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readur/readur/model"
)

type memRepo struct {
	mu      sync.Mutex
	records map[string]*model.SourceErrorRecord
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*model.SourceErrorRecord)}
}

func key(owner uuid.UUID, kind model.SourceKind, path string) string {
	return owner.String() + "|" + string(kind) + "|" + path
}

func (m *memRepo) GetActiveError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) (*model.SourceErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key(owner, kind, path)]
	if !ok || rec.Resolved {
		return nil, nil
	}
	return rec, nil
}

func (m *memRepo) UpsertError(ctx context.Context, rec *model.SourceErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[key(rec.OwnerID, rec.SourceKind, rec.ResourcePath)] = &cp
	return nil
}

func (m *memRepo) ResolveError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key(owner, kind, path)]; ok {
		rec.Resolved = true
		rec.ConsecutiveFailures = 0
	}
	return nil
}

func TestClassifyPathTooLong(t *testing.T) {
	ft, sev := Classify(errors.New("path too long for filesystem"), 0)
	assert.Equal(t, model.FailurePathTooLong, ft)
	assert.Equal(t, model.SeverityCritical, sev)
}

func TestClassify404IsCritical(t *testing.T) {
	ft, sev := Classify(errors.New("server error"), 404)
	assert.Equal(t, model.FailureServerError, ft)
	assert.Equal(t, model.SeverityCritical, sev)
}

func TestClassifyUnknownInfersFromMessage(t *testing.T) {
	ft, sev := Classify(errors.New("request forbidden by policy"), 0)
	assert.Equal(t, model.FailureUnknown, ft)
	assert.Equal(t, model.SeverityHigh, sev)
}

func TestTrackErrorThenShouldSkipAfterThreeFailures(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, 10)
	owner := uuid.New()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, tr.TrackError(ctx, owner, model.SourceKindWebDAV, nil, "/bad", errors.New("permission denied"), 403))
	}

	skip, err := tr.ShouldSkip(ctx, owner, model.SourceKindWebDAV, nil, "/bad")
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestMarkSuccessResolvesRecord(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, 10)
	owner := uuid.New()
	ctx := context.Background()

	require.NoError(t, tr.TrackError(ctx, owner, model.SourceKindWebDAV, nil, "/flaky", errors.New("timeout"), 0))
	require.NoError(t, tr.MarkSuccess(ctx, owner, model.SourceKindWebDAV, nil, "/flaky"))

	skip, err := tr.ShouldSkip(ctx, owner, model.SourceKindWebDAV, nil, "/flaky")
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestFailureCountMonotonicAndOrdered(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, 10)
	owner := uuid.New()
	ctx := context.Background()

	require.NoError(t, tr.TrackError(ctx, owner, model.SourceKindWebDAV, nil, "/x", errors.New("timeout"), 0))
	require.NoError(t, tr.TrackError(ctx, owner, model.SourceKindWebDAV, nil, "/x", errors.New("timeout"), 0))

	rec, err := repo.GetActiveError(ctx, owner, model.SourceKindWebDAV, nil, "/x")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.GreaterOrEqual(t, rec.FailureCount, rec.ConsecutiveFailures)
	assert.True(t, rec.FirstFailureAt.Before(rec.LastFailureAt) || rec.FirstFailureAt.Equal(rec.LastFailureAt))
	assert.Equal(t, 2, rec.FailureCount)
}

func TestExcludedAfterMaxRetries(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, 2)
	owner := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.TrackError(ctx, owner, model.SourceKindWebDAV, nil, "/excluded", errors.New("network unreachable"), 0))
	}
	rec, err := repo.GetActiveError(ctx, owner, model.SourceKindWebDAV, nil, "/excluded")
	require.NoError(t, err)
	assert.True(t, rec.UserExcluded)

	skip, err := tr.ShouldSkip(ctx, owner, model.SourceKindWebDAV, nil, "/excluded")
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestNextRetryAtInFuture(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, 10)
	owner := uuid.New()
	ctx := context.Background()

	require.NoError(t, tr.TrackError(ctx, owner, model.SourceKindWebDAV, nil, "/y", errors.New("timeout"), 0))
	rec, err := repo.GetActiveError(ctx, owner, model.SourceKindWebDAV, nil, "/y")
	require.NoError(t, err)
	require.NotNil(t, rec.NextRetryAt)
	assert.True(t, rec.NextRetryAt.After(time.Now()))
}
