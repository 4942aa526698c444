package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/makeasinger/genreswap/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient implements StorageClient for a MinIO (or any S3-compatible)
// bucket.
type MinioClient struct {
	client    *minio.Client
	bucket    string
	endpoint  string
	useSSL    bool
	publicURL string
}

// NewMinioClient connects to MinIO. An empty endpoint yields a client that
// reports IsConfigured() == false.
func NewMinioClient(cfg *config.MinioConfig) (*MinioClient, error) {
	c := &MinioClient{
		bucket:    cfg.Bucket,
		endpoint:  cfg.Endpoint,
		useSSL:    cfg.UseSSL,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return c, nil
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	c.client = mc
	return c, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (c *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Upload stores an object and returns its public URL.
func (c *MinioClient) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	_, err := c.client.PutObject(ctx, c.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload to minio: %w", err)
	}
	return c.GetPublicURL(key), nil
}

// Delete removes an object.
func (c *MinioClient) Delete(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from minio: %w", err)
	}
	return nil
}

// GetPublicURL returns the URL an object is served from.
func (c *MinioClient) GetPublicURL(key string) string {
	if c.publicURL != "" {
		return c.publicURL + "/" + key
	}
	scheme := "http"
	if c.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.endpoint, c.bucket, key)
}

// IsConfigured returns true if the client has valid configuration
func (c *MinioClient) IsConfigured() bool {
	return c.client != nil && c.bucket != ""
}
