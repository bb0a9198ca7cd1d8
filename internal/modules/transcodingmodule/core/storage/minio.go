package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures a MinioStore
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool

	// PublicBaseURL is where the bucket is served from. When empty, objects
	// are addressed path-style on the endpoint itself.
	PublicBaseURL string
}

// MinioStore keeps objects in an S3-compatible bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	region  string
	baseURL string
	logger  hclog.Logger
}

// NewMinioStore connects to the endpoint and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions, logger hclog.Logger) (*MinioStore, error) {
	s, err := newMinioStore(opts, logger)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newMinioStore(opts MinioOptions, logger hclog.Logger) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}

	return &MinioStore{
		client:  client,
		bucket:  opts.Bucket,
		region:  opts.Region,
		baseURL: baseURL,
		logger:  logger.Named("minio-store"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created bucket", "bucket", s.bucket)
	return nil
}

// Put uploads data with its content type.
func (s *MinioStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	key, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	s.logger.Debug("stored object", "bucket", s.bucket, "key", key, "size", len(data))
	return s.URL(key), nil
}

// Get downloads an object.
func (s *MinioStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	key, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(key, err)
	}
	return data, nil
}

// PresignGet issues an expiring GET URL for a private object.
func (s *MinioStore) PresignGet(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	key, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// URL returns the public URL of objectPath.
func (s *MinioStore) URL(objectPath string) string {
	return joinURL(s.baseURL, objectPath)
}

// PathFromURL reverses URL.
func (s *MinioStore) PathFromURL(rawURL string) (string, bool) {
	return pathFromURL(s.baseURL, rawURL)
}

func (s *MinioStore) mapError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return fmt.Errorf("failed to read %s: %w", key, err)
}
