package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayeredPath(t *testing.T) {
	owner := uuid.New()
	doc := uuid.New()
	at := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	path := LayeredPath(KindDocument, owner, doc, ".pdf", at)
	assert.Equal(t, "documents/"+owner.String()+"/2026/03/"+doc.String()+".pdf", path)
}

func TestThumbnailAndProcessedImagePaths(t *testing.T) {
	owner := uuid.New()
	doc := uuid.New()

	assert.Equal(t, "thumbnails/"+owner.String()+"/"+doc.String()+"_thumb.jpg", ThumbnailPath(owner, doc))
	assert.Equal(t, "processed_images/"+owner.String()+"/"+doc.String()+"_processed.png", ProcessedImagePath(owner, doc))
}

func TestMockBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMockBackend()
	owner := uuid.New()
	doc := uuid.New()

	handle, err := m.StoreDocument(ctx, owner, doc, "report.pdf", strings.NewReader("hello world"), 11)
	require.NoError(t, err)

	exists, err := m.FileExists(ctx, handle)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := m.Retrieve(ctx, handle)
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, 11)
	_, err = rc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))
}

func TestMockBackendRetrieveMissingReturnsNotFound(t *testing.T) {
	m := NewMockBackend()
	_, err := m.Retrieve(context.Background(), "documents/missing")
	require.Error(t, err)
	var nf ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestMockBackendDeleteAllForDocumentRemovesDocumentThumbnailAndProcessed(t *testing.T) {
	ctx := context.Background()
	m := NewMockBackend()
	owner := uuid.New()
	doc := uuid.New()

	handle, err := m.StoreDocument(ctx, owner, doc, "report.pdf", strings.NewReader("hello world"), 11)
	require.NoError(t, err)
	_, err = m.StoreThumbnail(ctx, owner, doc, strings.NewReader("thumb"), 5)
	require.NoError(t, err)
	_, err = m.StoreProcessedImage(ctx, owner, doc, strings.NewReader("processed"), 9)
	require.NoError(t, err)

	require.NoError(t, m.DeleteAllForDocument(ctx, owner, doc, handle))

	exists, _ := m.FileExists(ctx, handle)
	assert.False(t, exists)
	exists, _ = m.FileExists(ctx, ThumbnailPath(owner, doc))
	assert.False(t, exists)
	exists, _ = m.FileExists(ctx, ProcessedImagePath(owner, doc))
	assert.False(t, exists)
}

func TestLocalBackendDeleteAllForDocumentRemovesDocumentThumbnailAndProcessed(t *testing.T) {
	ctx := context.Background()
	l := NewLocalBackend(t.TempDir(), nil)
	require.NoError(t, l.Initialize(ctx))
	owner := uuid.New()
	doc := uuid.New()

	handle, err := l.StoreDocument(ctx, owner, doc, "report.pdf", strings.NewReader("hello world"), 11)
	require.NoError(t, err)
	_, err = l.StoreThumbnail(ctx, owner, doc, strings.NewReader("thumb"), 5)
	require.NoError(t, err)
	_, err = l.StoreProcessedImage(ctx, owner, doc, strings.NewReader("processed"), 9)
	require.NoError(t, err)

	require.NoError(t, l.DeleteAllForDocument(ctx, owner, doc, handle))

	exists, _ := l.FileExists(ctx, handle)
	assert.False(t, exists)
	exists, _ = l.FileExists(ctx, ThumbnailPath(owner, doc))
	assert.False(t, exists)
	exists, _ = l.FileExists(ctx, ProcessedImagePath(owner, doc))
	assert.False(t, exists)
}

func TestLocalBackendDeleteAllForDocumentWithoutHandleLeavesDocumentButClearsDerived(t *testing.T) {
	ctx := context.Background()
	l := NewLocalBackend(t.TempDir(), nil)
	require.NoError(t, l.Initialize(ctx))
	owner := uuid.New()
	doc := uuid.New()

	handle, err := l.StoreDocument(ctx, owner, doc, "report.pdf", strings.NewReader("hello world"), 11)
	require.NoError(t, err)

	require.NoError(t, l.DeleteAllForDocument(ctx, owner, doc, ""))

	exists, _ := l.FileExists(ctx, handle)
	assert.True(t, exists, "document bytes should survive when no handle is supplied")
}
