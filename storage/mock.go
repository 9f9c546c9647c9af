package storage

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockBackend is an in-memory Storage implementation for tests, in place of
// standing up a real filesystem or S3-compatible endpoint.
type MockBackend struct {
	mu    sync.Mutex
	files map[string][]byte
	clock func() time.Time
}

// NewMockBackend constructs an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{files: make(map[string][]byte), clock: time.Now}
}

var _ Storage = (*MockBackend)(nil)

func (m *MockBackend) Initialize(ctx context.Context) error { return nil }

func (m *MockBackend) store(handle string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[handle] = data
	return handle, nil
}

func (m *MockBackend) StoreDocument(ctx context.Context, owner, documentID uuid.UUID, filename string, r io.Reader, size int64) (string, error) {
	handle := LayeredPath(KindDocument, owner, documentID, filepath.Ext(filename), m.clock())
	return m.store(handle, r)
}

func (m *MockBackend) StoreThumbnail(ctx context.Context, owner, documentID uuid.UUID, r io.Reader, size int64) (string, error) {
	return m.store(ThumbnailPath(owner, documentID), r)
}

func (m *MockBackend) StoreProcessedImage(ctx context.Context, owner, documentID uuid.UUID, r io.Reader, size int64) (string, error) {
	return m.store(ProcessedImagePath(owner, documentID), r)
}

func (m *MockBackend) Retrieve(ctx context.Context, handle string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[handle]
	if !ok {
		return nil, ErrNotFound{Handle: handle}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockBackend) FileExists(ctx context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[handle]
	return ok, nil
}

func (m *MockBackend) DeleteAllForDocument(ctx context.Context, owner, documentID uuid.UUID, documentHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, ThumbnailPath(owner, documentID))
	delete(m.files, ProcessedImagePath(owner, documentID))
	if documentHandle != "" {
		delete(m.files, documentHandle)
	}
	return nil
}
