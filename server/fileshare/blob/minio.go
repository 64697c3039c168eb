package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

const objectPrefix = "uploads/"

type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(client *minio.Client, bucket string) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket}
}

func (s *MinIOStore) Put(ctx context.Context, contentType string, r io.Reader, size int64) (string, error) {
	key := objectPrefix + uuid.NewString()
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// Open stats the object first because GetObject does not report a missing key until the first read.
func (s *MinIOStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !validObjectKey(ref) {
		return nil, ErrNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinIOError(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinIOError(err)
	}
	return obj, nil
}

func (s *MinIOStore) Exists(ctx context.Context, ref string) (bool, error) {
	if !validObjectKey(ref) {
		return false, nil
	}
	_, err := s.client.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if err = mapMinIOError(err); err == ErrNotFound {
		return false, nil
	}
	return false, err
}

func (s *MinIOStore) Delete(ctx context.Context, ref string) error {
	if !validObjectKey(ref) {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return mapMinIOError(err)
	}
	return nil
}

func validObjectKey(ref string) bool {
	id, ok := strings.CutPrefix(ref, objectPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func mapMinIOError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}
