package lake

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// ObjectStore is the slice of the object storage API the writer needs.
// Uploads are whole-object puts: a put either lands completely under its
// key or not at all, which is what makes abandoned files harmless.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error
}

// MinioStore talks to any S3-compatible endpoint through the MinIO client.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

// EnsureBucket creates the data lake bucket when it does not exist yet.
// Called once at startup; a failure here fails the run before any write.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
