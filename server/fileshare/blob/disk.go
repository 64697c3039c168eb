package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DiskStore keeps each blob as one file named by a random uuid under dir.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Put writes to a temp file and renames it into place so a partially written blob is never visible.
func (s *DiskStore) Put(ctx context.Context, _ string, r io.Reader, _ int64) (string, error) {
	ref := uuid.NewString()
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, readerWithContext(ctx, r))
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return "", fmt.Errorf("write blob: %w", copyErr)
		}
		return "", fmt.Errorf("close blob: %w", closeErr)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, ref)); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return ref, nil
}

func (s *DiskStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	path, ok := s.path(ref)
	if !ok {
		return nil, ErrNotFound
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *DiskStore) Exists(_ context.Context, ref string) (bool, error) {
	path, ok := s.path(ref)
	if !ok {
		return false, nil
	}
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *DiskStore) Delete(_ context.Context, ref string) error {
	path, ok := s.path(ref)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// path only accepts refs this store generated, so a ref can never escape dir.
func (s *DiskStore) path(ref string) (string, bool) {
	id, err := uuid.Parse(ref)
	if err != nil || id.String() != ref {
		return "", false
	}
	return filepath.Join(s.dir, ref), true
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
