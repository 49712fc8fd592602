package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"multimodal-rag/internal/config"
	"multimodal-rag/internal/models"
)

type MinioStore struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// NewMinioStore connects to the configured endpoint and creates the bucket if missing.
func NewMinioStore(ctx context.Context, cfg *config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: check bucket %s: %v", models.ErrUpstreamUnavailable, cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("Created bucket")
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		ttl:    time.Duration(cfg.URLTTLSecs) * time.Second,
	}, nil
}

func (s *MinioStore) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, name, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("%w: upload %s: %v", models.ErrUpstreamUnavailable, name, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", models.ErrUpstreamUnavailable, name, err)
	}
	// GetObject is lazy; Stat surfaces a missing key
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: object %s", models.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", models.ErrUpstreamUnavailable, name, err)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: delete %s: %v", models.ErrUpstreamUnavailable, name, err)
	}
	return nil
}

// URL returns a presigned GET url valid for the configured TTL.
func (s *MinioStore) URL(ctx context.Context, name string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, name, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", name, err)
	}
	return u.String(), nil
}
