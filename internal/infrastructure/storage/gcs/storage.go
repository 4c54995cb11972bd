package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Storage keeps documents as objects of one bucket, optionally below a
// common object prefix.
type Storage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func New(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*Storage, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Storage{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	writer := s.bucket.Object(name).NewWriter(ctx)
	if strings.EqualFold(path.Ext(name), ".pdf") {
		writer.ContentType = "application/pdf"
	}
	if _, err := io.Copy(writer, data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", name, err)
	}
	return nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("open object %s: %w", name, os.ErrNotExist)
		}
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	return reader, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) objectName(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("invalid storage key: empty key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid storage key: %q escapes storage root", key)
		}
	}
	name := path.Clean(key)
	if name == "." {
		return "", errors.New("invalid storage key: empty key")
	}
	if s.prefix != "" {
		name = s.prefix + "/" + name
	}
	return name, nil
}
