package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	commonlog "akashshare/server/common/log"
	"akashshare/server/fileshare/domain"
)

const (
	maxIssueAttempts = 5
	codeSpace        = 10000
)

type EvictReason string

const (
	EvictExpired     EvictReason = "expired"
	EvictMissingBlob EvictReason = "missing_blob"
)

type blobChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

type RegistryOption func(*CodeRegistry)

func WithClock(now func() time.Time) RegistryOption {
	return func(r *CodeRegistry) { r.now = now }
}

// WithCodeSource replaces the random draw. next must return a value in [0, 10000).
func WithCodeSource(next func() (int, error)) RegistryOption {
	return func(r *CodeRegistry) { r.nextCode = next }
}

// WithBlobChecker enables reconciliation in Resolve: a record whose blob is gone is purged.
func WithBlobChecker(b blobChecker) RegistryOption {
	return func(r *CodeRegistry) { r.blobs = b }
}

// WithEvictHook is called outside the registry lock for every record the registry drops
// on its own (sweep, lazy expiry, replacement of a dead record, missing blob).
func WithEvictHook(fn func(domain.FileRecord, EvictReason)) RegistryOption {
	return func(r *CodeRegistry) { r.onEvict = fn }
}

// CodeRegistry maps 4-digit codes to live FileRecords.
type CodeRegistry struct {
	mu        sync.Mutex
	records   map[string]domain.FileRecord
	retention time.Duration
	now       func() time.Time
	nextCode  func() (int, error)
	blobs     blobChecker
	onEvict   func(domain.FileRecord, EvictReason)
}

func NewCodeRegistry(retention time.Duration, opts ...RegistryOption) *CodeRegistry {
	if retention <= 0 {
		retention = domain.DefaultRetention
	}
	r := &CodeRegistry{
		records:   map[string]domain.FileRecord{},
		retention: retention,
		now:       time.Now,
		nextCode:  randomCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func randomCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

func (r *CodeRegistry) Retention() time.Duration {
	return r.retention
}

// Issue draws a code that is not held by a live record and stores a new record under it.
// Draw, collision check and insert happen under one lock.
func (r *CodeRegistry) Issue(meta domain.FileMeta) (domain.FileRecord, error) {
	now := r.now()

	r.mu.Lock()
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		n, err := r.nextCode()
		if err != nil {
			r.mu.Unlock()
			return domain.FileRecord{}, fmt.Errorf("draw code: %w", err)
		}
		code := fmt.Sprintf("%04d", n%codeSpace)

		existing, taken := r.records[code]
		if taken && !existing.ExpiredAt(now) {
			commonlog.Debugf("event=code_registry action=issue status=collision code=%s attempt=%d", code, attempt)
			continue
		}

		rec := domain.FileRecord{
			Code:        code,
			StorageRef:  meta.StorageRef,
			DisplayName: meta.DisplayName,
			SizeBytes:   meta.SizeBytes,
			MimeType:    meta.MimeType,
			Checksum:    meta.Checksum,
			CreatedAt:   now,
			ExpiresAt:   now.Add(r.retention),
		}
		r.records[code] = rec
		r.mu.Unlock()

		if taken {
			r.evict(existing, EvictExpired)
		}
		return rec, nil
	}
	r.mu.Unlock()

	commonlog.Warnf("event=code_registry action=issue status=exhausted attempts=%d", maxIssueAttempts)
	return domain.FileRecord{}, domain.ErrExhaustedRetries
}

// Resolve returns a snapshot of the live record for code. The blob check runs outside
// the lock; a record whose blob is confirmed missing is purged and reported as not found.
func (r *CodeRegistry) Resolve(ctx context.Context, code string) (domain.FileRecord, error) {
	if !domain.ValidCode(code) {
		return domain.FileRecord{}, domain.ErrInvalidCode
	}
	now := r.now()

	r.mu.Lock()
	rec, ok := r.records[code]
	if ok && rec.ExpiredAt(now) {
		delete(r.records, code)
		r.mu.Unlock()
		r.evict(rec, EvictExpired)
		return domain.FileRecord{}, domain.ErrNotFound
	}
	r.mu.Unlock()
	if !ok {
		return domain.FileRecord{}, domain.ErrNotFound
	}

	if r.blobs != nil {
		exists, err := r.blobs.Exists(ctx, rec.StorageRef)
		if err != nil {
			return domain.FileRecord{}, &domain.StorageError{Op: "stat", Err: err}
		}
		if !exists {
			r.Purge(rec)
			return domain.FileRecord{}, domain.ErrNotFound
		}
	}
	return rec, nil
}

// Purge drops rec if the registry still holds that exact record under its code.
func (r *CodeRegistry) Purge(rec domain.FileRecord) bool {
	if !r.compareAndDelete(rec) {
		return false
	}
	commonlog.Warnf("event=code_registry action=purge reason=%s code=%s storage_ref=%s", EvictMissingBlob, rec.Code, rec.StorageRef)
	r.evict(rec, EvictMissingBlob)
	return true
}

// Revoke undoes an Issue whose upload could not be completed. The evict hook is not called;
// the caller owns the cleanup of anything it already wrote.
func (r *CodeRegistry) Revoke(rec domain.FileRecord) bool {
	return r.compareAndDelete(rec)
}

func (r *CodeRegistry) compareAndDelete(rec domain.FileRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[rec.Code]
	if !ok || current.StorageRef != rec.StorageRef || !current.CreatedAt.Equal(rec.CreatedAt) {
		return false
	}
	delete(r.records, rec.Code)
	return true
}

// Sweep removes every record past its expiry and returns how many were removed.
func (r *CodeRegistry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	expired := make([]domain.FileRecord, 0)
	for code, rec := range r.records {
		if rec.ExpiredAt(now) {
			expired = append(expired, rec)
			delete(r.records, code)
		}
	}
	r.mu.Unlock()

	for _, rec := range expired {
		r.evict(rec, EvictExpired)
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (r *CodeRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				commonlog.Infof("event=code_registry action=sweep status=ok removed=%d live=%d", n, r.Len())
			}
		}
	}
}

// Restore loads previously persisted records and returns how many were taken
// plus the ones it rejected: dead records, malformed codes and codes already held
// by a different live record. A row identical to the held one is not rejected.
func (r *CodeRegistry) Restore(records []domain.FileRecord) (int, []domain.FileRecord) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	var rejected []domain.FileRecord
	for _, rec := range records {
		if !domain.ValidCode(rec.Code) || rec.ExpiredAt(now) {
			rejected = append(rejected, rec)
			continue
		}
		if existing, ok := r.records[rec.Code]; ok && !existing.ExpiredAt(now) {
			if existing.StorageRef != rec.StorageRef {
				rejected = append(rejected, rec)
			}
			continue
		}
		r.records[rec.Code] = rec
		restored++
	}
	return restored, rejected
}

// Len counts live records.
func (r *CodeRegistry) Len() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.records {
		if !rec.ExpiredAt(now) {
			n++
		}
	}
	return n
}

func (r *CodeRegistry) evict(rec domain.FileRecord, reason EvictReason) {
	if r.onEvict != nil {
		r.onEvict(rec, reason)
	}
}
