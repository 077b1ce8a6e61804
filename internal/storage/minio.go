package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore archives objects in MinIO or any S3 compatible service.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if strings.TrimSpace(opts.Endpoint) == "" || bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}

	client, err := minio.New(strings.TrimSpace(opts.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (m *MinioStore) Backend() string {
	return "minio"
}

func (m *MinioStore) PutObject(ctx context.Context, objectPath, contentType string, data []byte) error {
	cleanPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, m.bucket, cleanPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentTypeOrDefault(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", cleanPath, err)
	}
	return nil
}

func (m *MinioStore) DeletePrefix(ctx context.Context, prefix string) error {
	objectPrefix, err := listPrefix(prefix)
	if err != nil {
		return err
	}

	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: objectPrefix, Recursive: true}) {
		if object.Err != nil {
			return fmt.Errorf("list objects %q: %w", objectPrefix, object.Err)
		}
		if err := m.DeleteObject(ctx, object.Key); err != nil {
			return err
		}
	}
	return nil
}

func (m *MinioStore) DeleteObject(ctx context.Context, objectPath string) error {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleanPath == "" {
		return nil
	}
	if err := m.client.RemoveObject(ctx, m.bucket, cleanPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %q: %w", cleanPath, err)
	}
	return nil
}
