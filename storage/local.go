package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/readur/readur/breaker"
)

// LocalBackend persists content under a root directory on the local
// filesystem, using the same layered path scheme as the S3 backend.
type LocalBackend struct {
	root       string
	retryCfg   breaker.RetryConfig
	log        *logrus.Logger
	clock      func() time.Time
}

// NewLocalBackend constructs a LocalBackend rooted at root.
func NewLocalBackend(root string, log *logrus.Logger) *LocalBackend {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocalBackend{root: root, retryCfg: breaker.DefaultRetryConfig(), log: log, clock: time.Now}
}

var _ Storage = (*LocalBackend)(nil)

// Initialize creates the root directory if it does not already exist.
func (l *LocalBackend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return fmt.Errorf("initializing local storage root %q: %w", l.root, err)
	}
	return nil
}

func (l *LocalBackend) StoreDocument(ctx context.Context, owner, documentID uuid.UUID, filename string, r io.Reader, size int64) (string, error) {
	handle := LayeredPath(KindDocument, owner, documentID, filepath.Ext(filename), l.clock())
	return handle, l.writeRetrying(ctx, handle, r)
}

func (l *LocalBackend) StoreThumbnail(ctx context.Context, owner, documentID uuid.UUID, r io.Reader, size int64) (string, error) {
	handle := ThumbnailPath(owner, documentID)
	return handle, l.writeRetrying(ctx, handle, r)
}

func (l *LocalBackend) StoreProcessedImage(ctx context.Context, owner, documentID uuid.UUID, r io.Reader, size int64) (string, error) {
	handle := ProcessedImagePath(owner, documentID)
	return handle, l.writeRetrying(ctx, handle, r)
}

// writeRetrying writes r to handle, retrying transient filesystem errors
// (e.g. a momentarily unavailable NFS mount) up to the configured retry
// budget; permission and format errors are not retried.
func (l *LocalBackend) writeRetrying(ctx context.Context, handle string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading content for %q: %w", handle, err)
	}

	full := filepath.Join(l.root, filepath.FromSlash(handle))
	return breaker.Execute(ctx, l.retryCfg, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("creating directories for %q: %w", handle, err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return fmt.Errorf("writing %q: %w", handle, err)
		}
		return nil
	})
}

func (l *LocalBackend) Retrieve(ctx context.Context, handle string) (io.ReadCloser, error) {
	full := filepath.Join(l.root, filepath.FromSlash(handle))
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound{Handle: handle}
		}
		return nil, fmt.Errorf("opening %q: %w", handle, err)
	}
	return f, nil
}

func (l *LocalBackend) FileExists(ctx context.Context, handle string) (bool, error) {
	full := filepath.Join(l.root, filepath.FromSlash(handle))
	_, err := os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %q: %w", handle, err)
}

func (l *LocalBackend) DeleteAllForDocument(ctx context.Context, owner, documentID uuid.UUID, documentHandle string) error {
	candidates := []string{
		ThumbnailPath(owner, documentID),
		ProcessedImagePath(owner, documentID),
	}
	if documentHandle != "" {
		candidates = append(candidates, documentHandle)
	}
	for _, c := range candidates {
		full := filepath.Join(l.root, filepath.FromSlash(c))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting %q: %w", c, err)
		}
	}
	return nil
}
