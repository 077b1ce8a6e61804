// Package storage archives uploaded documents in an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"aksara/backend/internal/config"
)

const defaultPrefix = "aksara-uploads"

// ObjectStore is the subset of object storage the API needs.
type ObjectStore interface {
	Backend() string
	PutObject(ctx context.Context, objectPath, contentType string, data []byte) error
	// DeletePrefix removes every object under prefix. An empty prefix is an
	// error so a bucket is never wiped by accident.
	DeletePrefix(ctx context.Context, prefix string) error
}

// New builds the store selected by STORAGE_BACKEND. It returns a nil store
// when archiving is disabled.
func New(ctx context.Context, cfg config.Config) (ObjectStore, error) {
	switch cfg.StorageBackend {
	case "", "none":
		return nil, nil
	case "gcs":
		store, err := NewGCSStore(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "minio":
		store, err := NewMinioStore(ctx, MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// ObjectPath builds <prefix>/users/<userID>/<objectID>/<filename>.
func ObjectPath(prefix, userID, objectID, filename string) string {
	return path.Join(UserPrefix(prefix, userID), objectID, filename)
}

// UserPrefix is the directory holding every object archived for userID.
func UserPrefix(prefix, userID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return path.Join(prefix, "users", userID)
}

// listPrefix returns the cleaned prefix with a trailing slash so that
// "users/u1" never matches "users/u10".
func listPrefix(prefix string) (string, error) {
	cleanPrefix, err := cleanObjectPath(prefix)
	if err != nil {
		return "", err
	}
	return cleanPrefix + "/", nil
}

func cleanObjectPath(objectPath string) (string, error) {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleanPath == "" {
		return "", errors.New("object path is required")
	}
	return cleanPath, nil
}

func contentTypeOrDefault(contentType string) string {
	trimmed := strings.TrimSpace(contentType)
	if trimmed == "" {
		return "application/octet-stream"
	}
	return trimmed
}
