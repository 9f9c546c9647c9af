package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/readur/readur/breaker"
)

// S3Config configures the S3-compatible backend. Endpoint is left empty for
// AWS S3 itself and set for MinIO/Hetzner/LakeFS-style compatible stores.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3Backend stores content in an S3-compatible bucket, using multipart
// upload for bodies over MultipartThreshold.
type S3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	retryCfg breaker.RetryConfig
	log      *logrus.Logger
	clock    func() time.Time
}

var _ Storage = (*S3Backend)(nil)

// NewS3Backend builds the underlying s3.Client (with static credentials and
// an optional custom endpoint for non-AWS compatible stores) and a
// manager.Uploader configured with the spec's multipart thresholds.
func NewS3Backend(ctx context.Context, cfg S3Config, log *logrus.Logger) (*S3Backend, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = MultipartThreshold // single PutObject below this; parts stay >= MinChunkSize
		u.Concurrency = 4
		u.LeavePartsOnError = false
	})

	return &S3Backend{client: client, uploader: uploader, bucket: cfg.Bucket, retryCfg: breaker.DefaultRetryConfig(), log: log, clock: time.Now}, nil
}

// Initialize verifies the bucket is reachable (HeadBucket).
func (s *S3Backend) Initialize(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket})
	if err != nil {
		return fmt.Errorf("verifying bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Backend) StoreDocument(ctx context.Context, owner, documentID uuid.UUID, filename string, r io.Reader, size int64) (string, error) {
	key := LayeredPath(KindDocument, owner, documentID, filepath.Ext(filename), s.clock())
	return key, s.put(ctx, key, r, size)
}

func (s *S3Backend) StoreThumbnail(ctx context.Context, owner, documentID uuid.UUID, r io.Reader, size int64) (string, error) {
	key := ThumbnailPath(owner, documentID)
	return key, s.put(ctx, key, r, size)
}

func (s *S3Backend) StoreProcessedImage(ctx context.Context, owner, documentID uuid.UUID, r io.Reader, size int64) (string, error) {
	key := ProcessedImagePath(owner, documentID)
	return key, s.put(ctx, key, r, size)
}

// put uses the multipart-capable manager.Uploader unconditionally: for
// bodies under MultipartThreshold it transparently performs a single
// PutObject, satisfying "large uploads use chunked transfer, others don't"
// without the caller needing to branch. On any part failure the SDK aborts
// the multipart upload itself (LeavePartsOnError=false).
func (s *S3Backend) put(ctx context.Context, key string, r io.Reader, size int64) error {
	return breaker.Execute(ctx, s.retryCfg, func(ctx context.Context) error {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
			Body:   r,
		})
		if err != nil {
			return fmt.Errorf("uploading %q: %w", key, err)
		}
		return nil
	})
}

func (s *S3Backend) Retrieve(ctx context.Context, handle string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &handle})
	if err != nil {
		if isNotFoundErr(err) {
			return nil, ErrNotFound{Handle: handle}
		}
		return nil, fmt.Errorf("retrieving %q: %w", handle, err)
	}
	return out.Body, nil
}

func (s *S3Backend) FileExists(ctx context.Context, handle string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &handle})
	if err != nil {
		// The SDK v2 surfaces a "NotFound" API error for a missing key;
		// everything else is an operational error worth propagating.
		if isNotFoundErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %q: %w", handle, err)
	}
	return true, nil
}

func (s *S3Backend) DeleteAllForDocument(ctx context.Context, owner, documentID uuid.UUID, documentHandle string) error {
	candidates := []string{ThumbnailPath(owner, documentID), ProcessedImagePath(owner, documentID)}
	if documentHandle != "" {
		candidates = append(candidates, documentHandle)
	}
	for _, key := range candidates {
		k := key
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &k})
		if err != nil && !isNotFoundErr(err) {
			return fmt.Errorf("deleting %q: %w", key, err)
		}
	}
	return nil
}

func isNotFoundErr(err error) bool {
	// The aws-sdk-go-v2 smithy error types are not uniformly comparable
	// across services with errors.Is; the conventional approach is
	// substring matching on the operation error's code/message.
	return err != nil && (strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey"))
}
