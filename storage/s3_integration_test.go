//go:build integration

package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	s3TestAccessKey = "minioadmin"
	s3TestSecretKey = "minioadmin"
	s3TestRegion    = "us-east-1"
	s3TestBucket    = "readur-test"
)

// setupMinIOContainer starts a MinIO container and returns a ready-to-use
// S3Backend pointed at it, with the test bucket already created.
func setupMinIOContainer(t *testing.T) *S3Backend {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     s3TestAccessKey,
			"MINIO_ROOT_PASSWORD": s3TestSecretKey,
		},
		Cmd: []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort("9000/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start MinIO container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate MinIO container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	backend, err := NewS3Backend(ctx, S3Config{
		Bucket:          s3TestBucket,
		Region:          s3TestRegion,
		Endpoint:        endpoint,
		AccessKeyID:     s3TestAccessKey,
		SecretAccessKey: s3TestSecretKey,
		ForcePathStyle:  true,
	}, nil)
	require.NoError(t, err)

	bucket := s3TestBucket
	_, err = backend.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket})
	require.NoError(t, err, "failed to create test bucket")

	return backend
}

func TestS3BackendDeleteAllForDocumentRemovesDocumentThumbnailAndProcessed_Integration(t *testing.T) {
	s := setupMinIOContainer(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := uuid.New()

	handle, err := s.StoreDocument(ctx, owner, doc, "report.pdf", strings.NewReader("hello world"), 11)
	require.NoError(t, err)
	_, err = s.StoreThumbnail(ctx, owner, doc, strings.NewReader("thumb"), 5)
	require.NoError(t, err)
	_, err = s.StoreProcessedImage(ctx, owner, doc, strings.NewReader("processed"), 9)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAllForDocument(ctx, owner, doc, handle))

	exists, err := s.FileExists(ctx, handle)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = s.FileExists(ctx, ThumbnailPath(owner, doc))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = s.FileExists(ctx, ProcessedImagePath(owner, doc))
	require.NoError(t, err)
	assert.False(t, exists)
}
