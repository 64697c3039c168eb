package repository

import (
	"context"
	"time"

	"akashshare/server/fileshare/domain"
)

// Store mirrors live file records so issued codes survive a restart.
// The in-memory registry stays the source of truth while the process runs.
type Store interface {
	Save(ctx context.Context, rec domain.FileRecord) error
	// Delete removes the row for code only while it still points at storageRef.
	Delete(ctx context.Context, code, storageRef string) error
	ListLive(ctx context.Context, now time.Time) ([]domain.FileRecord, error)
	ListExpired(ctx context.Context, now time.Time) ([]domain.FileRecord, error)
	Close() error
}

// Nop is used when RECORD_STORE=memory.
type Nop struct{}

func (Nop) Save(context.Context, domain.FileRecord) error { return nil }
func (Nop) Delete(context.Context, string, string) error  { return nil }
func (Nop) ListLive(context.Context, time.Time) ([]domain.FileRecord, error) {
	return nil, nil
}
func (Nop) ListExpired(context.Context, time.Time) ([]domain.FileRecord, error) {
	return nil, nil
}
func (Nop) Close() error { return nil }
