package blob

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("blob not found")

// Store holds uploaded file content under opaque refs it generates itself.
type Store interface {
	Put(ctx context.Context, contentType string, r io.Reader, size int64) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Exists(ctx context.Context, ref string) (bool, error)
	Delete(ctx context.Context, ref string) error
}
