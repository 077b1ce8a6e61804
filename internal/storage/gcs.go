package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	gcsapi "google.golang.org/api/storage/v1"
)

type GCSStore struct {
	bucketName string
	service    *gcsapi.Service
}

// NewGCSStore uses application default credentials and checks that the
// bucket is reachable.
func NewGCSStore(ctx context.Context, bucketName string) (*GCSStore, error) {
	trimmedBucket := strings.TrimSpace(bucketName)
	if trimmedBucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	service, err := gcsapi.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs service: %w", err)
	}

	if _, err := service.Buckets.Get(trimmedBucket).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("read gcs bucket attrs: %w", err)
	}

	return &GCSStore{bucketName: trimmedBucket, service: service}, nil
}

func (s *GCSStore) Backend() string {
	return "gcs"
}

func (s *GCSStore) PutObject(ctx context.Context, objectPath, contentType string, data []byte) error {
	cleanPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}

	object := &gcsapi.Object{
		Name:        cleanPath,
		ContentType: contentTypeOrDefault(contentType),
	}
	if _, err := s.service.Objects.Insert(s.bucketName, object).Media(bytes.NewReader(data)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write gcs object %q: %w", cleanPath, err)
	}
	return nil
}

func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	objectPrefix, err := listPrefix(prefix)
	if err != nil {
		return err
	}

	err = s.service.Objects.List(s.bucketName).Prefix(objectPrefix).Fields("items(name)", "nextPageToken").Pages(ctx, func(page *gcsapi.Objects) error {
		for _, object := range page.Items {
			if err := s.DeleteObject(ctx, object.Name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete gcs prefix %q: %w", objectPrefix, err)
	}
	return nil
}

// DeleteObject treats a missing object as already deleted.
func (s *GCSStore) DeleteObject(ctx context.Context, objectPath string) error {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleanPath == "" {
		return nil
	}

	err := s.service.Objects.Delete(s.bucketName, cleanPath).Context(ctx).Do()
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}

	return fmt.Errorf("delete gcs object %q: %w", cleanPath, err)
}
