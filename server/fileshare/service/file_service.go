package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/blake2b"

	commonlog "akashshare/server/common/log"
	"akashshare/server/fileshare/blob"
	"akashshare/server/fileshare/domain"
	"akashshare/server/fileshare/repository"
)

const (
	sniffLen          = 3072
	thumbnailMaxSide  = 320
	thumbnailQuality  = 80
	thumbnailCacheTTL = 10 * time.Minute
	cleanupTimeout    = 10 * time.Second
)

type Config struct {
	Retention          time.Duration
	MaxFileBytes       int64
	AllowedMIMETypes   []string
	ThumbnailCacheSize int
}

// UploadInput is one file as received from the client.
type UploadInput struct {
	Filename string
	Size     int64
	Body     io.Reader
}

type FileService struct {
	registry *CodeRegistry
	blobs    blob.Store
	records  repository.Store
	events   Publisher
	thumbs   *expirable.LRU[string, []byte]
	maxBytes int64
	allowed  []string
}

// NewFileService builds the registry itself so eviction cleanup is always wired.
// Extra registry options (clock, code source) are applied after the defaults.
func NewFileService(cfg Config, blobs blob.Store, records repository.Store, events Publisher, opts ...RegistryOption) *FileService {
	if records == nil {
		records = repository.Nop{}
	}
	if events == nil {
		events = NoopPublisher{}
	}
	cacheSize := cfg.ThumbnailCacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}
	s := &FileService{
		blobs:    blobs,
		records:  records,
		events:   events,
		thumbs:   expirable.NewLRU[string, []byte](cacheSize, nil, thumbnailCacheTTL),
		maxBytes: cfg.MaxFileBytes,
		allowed:  normalizeAllowed(cfg.AllowedMIMETypes),
	}
	base := []RegistryOption{WithBlobChecker(blobs), WithEvictHook(s.onEvict)}
	s.registry = NewCodeRegistry(cfg.Retention, append(base, opts...)...)
	return s
}

func (s *FileService) Registry() *CodeRegistry {
	return s.registry
}

func (s *FileService) MaxFileBytes() int64 {
	return s.maxBytes
}

// Upload stores the content first and only then issues a code, so a code never
// points at a blob that does not exist yet.
func (s *FileService) Upload(ctx context.Context, in UploadInput) (domain.FileRecord, error) {
	if s.maxBytes > 0 && in.Size > s.maxBytes {
		issueTotal.WithLabelValues(resultRejected).Inc()
		return domain.FileRecord{}, domain.ErrFileTooLarge
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		issueTotal.WithLabelValues(resultError).Inc()
		return domain.FileRecord{}, &domain.StorageError{Op: "read", Err: err}
	}
	head = head[:n]
	mimeType := mimetype.Detect(head)
	if !s.typeAllowed(mimeType) {
		issueTotal.WithLabelValues(resultRejected).Inc()
		commonlog.Warnf("event=file_upload action=sniff status=rejected mime=%s filename=%q", mimeType.String(), in.Filename)
		return domain.FileRecord{}, domain.ErrTypeNotAllowed
	}
	contentType := baseMediaType(mimeType.String())

	hasher, _ := blake2b.New256(nil)
	counter := &countingWriter{h: hasher}
	body := io.MultiReader(bytes.NewReader(head), in.Body)
	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes+1)
	}

	ref, err := s.blobs.Put(ctx, contentType, io.TeeReader(body, counter), in.Size)
	if err != nil {
		issueTotal.WithLabelValues(resultError).Inc()
		return domain.FileRecord{}, &domain.StorageError{Op: "put", Err: err}
	}
	if s.maxBytes > 0 && counter.n > s.maxBytes {
		s.deleteBlob(ref)
		issueTotal.WithLabelValues(resultRejected).Inc()
		return domain.FileRecord{}, domain.ErrFileTooLarge
	}

	rec, err := s.registry.Issue(domain.FileMeta{
		StorageRef:  ref,
		DisplayName: domain.CleanDisplayName(in.Filename),
		SizeBytes:   counter.n,
		MimeType:    contentType,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	})
	if err != nil {
		s.deleteBlob(ref)
		if errors.Is(err, domain.ErrExhaustedRetries) {
			issueTotal.WithLabelValues(resultExhausted).Inc()
		} else {
			issueTotal.WithLabelValues(resultError).Inc()
		}
		return domain.FileRecord{}, err
	}

	if err := s.records.Save(ctx, rec); err != nil {
		s.registry.Revoke(rec)
		s.deleteBlob(ref)
		issueTotal.WithLabelValues(resultError).Inc()
		return domain.FileRecord{}, &domain.StorageError{Op: "persist", Err: err}
	}

	issueTotal.WithLabelValues(resultOK).Inc()
	uploadSizeBytes.Observe(float64(rec.SizeBytes))
	liveRecords.Set(float64(s.registry.Len()))
	s.publish(ctx, EventFileIssued, rec, "")
	commonlog.Infof("event=file_upload action=issue status=ok code=%s size=%d mime=%s", rec.Code, rec.SizeBytes, rec.MimeType)
	return rec, nil
}

// Download resolves code and opens its blob. The caller closes the returned reader.
func (s *FileService) Download(ctx context.Context, code string) (domain.FileRecord, io.ReadCloser, error) {
	rec, err := s.registry.Resolve(ctx, code)
	if err != nil {
		downloadsTotal.WithLabelValues(downloadResult(err)).Inc()
		return domain.FileRecord{}, nil, err
	}
	rc, err := s.open(ctx, rec)
	if err != nil {
		downloadsTotal.WithLabelValues(downloadResult(err)).Inc()
		return domain.FileRecord{}, nil, err
	}
	downloadsTotal.WithLabelValues(resultOK).Inc()
	s.publish(ctx, EventFileDownloaded, rec, "")
	return rec, rc, nil
}

// Preview returns a JPEG thumbnail no larger than 320x320 for image records.
func (s *FileService) Preview(ctx context.Context, code string) ([]byte, error) {
	rec, err := s.registry.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if !rec.IsImage() {
		return nil, domain.ErrNotImage
	}

	key := thumbnailKey(rec)
	if cached, ok := s.thumbs.Get(key); ok {
		thumbnailCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	thumbnailCacheTotal.WithLabelValues("miss").Inc()

	rc, err := s.open(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		commonlog.Warnf("event=file_preview action=decode status=failed code=%s mime=%s err=%v", rec.Code, rec.MimeType, err)
		return nil, domain.ErrNotImage
	}
	thumb := imaging.Fit(img, thumbnailMaxSide, thumbnailMaxSide, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	out := buf.Bytes()
	s.thumbs.Add(key, out)
	return out, nil
}

// Restore reloads live records from the record store and removes the blobs of
// records that expired while the process was down.
func (s *FileService) Restore(ctx context.Context) error {
	now := s.registry.now()
	live, err := s.records.ListLive(ctx, now)
	if err != nil {
		return fmt.Errorf("list live records: %w", err)
	}
	restored, rejected := s.registry.Restore(live)
	for _, rec := range rejected {
		commonlog.Warnf("event=file_registry action=restore status=rejected code=%q storage_ref=%s", rec.Code, rec.StorageRef)
		s.cleanup(rec)
	}

	expired, err := s.records.ListExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired records: %w", err)
	}
	for _, rec := range expired {
		s.cleanup(rec)
	}
	liveRecords.Set(float64(s.registry.Len()))
	commonlog.Infof("event=file_registry action=restore status=ok restored=%d rejected=%d purged=%d", restored, len(rejected), len(expired))
	return nil
}

// Run sweeps expired records until ctx is done.
func (s *FileService) Run(ctx context.Context, interval time.Duration) {
	s.registry.Run(ctx, interval)
}

func (s *FileService) open(ctx context.Context, rec domain.FileRecord) (io.ReadCloser, error) {
	rc, err := s.blobs.Open(ctx, rec.StorageRef)
	if errors.Is(err, blob.ErrNotFound) {
		s.registry.Purge(rec)
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	return rc, nil
}

func (s *FileService) onEvict(rec domain.FileRecord, reason EvictReason) {
	evictionsTotal.WithLabelValues(string(reason)).Inc()
	liveRecords.Set(float64(s.registry.Len()))
	s.cleanup(rec)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	s.publish(ctx, EventFileExpired, rec, string(reason))
}

func (s *FileService) cleanup(rec domain.FileRecord) {
	s.thumbs.Remove(thumbnailKey(rec))
	s.deleteBlob(rec.StorageRef)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.records.Delete(ctx, rec.Code, rec.StorageRef); err != nil {
		commonlog.Warnf("event=file_registry action=delete_record status=failed code=%s err=%v", rec.Code, err)
	}
}

func (s *FileService) deleteBlob(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, ref); err != nil {
		commonlog.Warnf("event=file_registry action=delete_blob status=failed storage_ref=%s err=%v", ref, err)
	}
}

func (s *FileService) publish(ctx context.Context, key string, rec domain.FileRecord, reason string) {
	if err := s.events.Publish(ctx, key, newFileEvent(rec, reason, time.Now().UTC())); err != nil {
		commonlog.Warnf("event=file_events action=publish status=failed key=%s code=%s err=%v", key, rec.Code, err)
	}
}

// typeAllowed walks the detected type and its parents so an allow-list entry of
// text/plain also admits text/csv. Entries ending in /* match the whole family.
func (s *FileService) typeAllowed(m *mimetype.MIME) bool {
	if len(s.allowed) == 0 {
		return true
	}
	for ; m != nil; m = m.Parent() {
		detected := baseMediaType(m.String())
		for _, allowed := range s.allowed {
			if allowed == detected {
				return true
			}
			if family, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(detected, family+"/") {
				return true
			}
		}
	}
	return false
}

func normalizeAllowed(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func baseMediaType(v string) string {
	base, _, _ := strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func thumbnailKey(rec domain.FileRecord) string {
	return rec.Code + ":" + rec.StorageRef
}

func downloadResult(err error) string {
	switch {
	case domain.IsValidation(err):
		return resultRejected
	case errors.Is(err, domain.ErrNotFound):
		return resultNotFound
	default:
		return resultError
	}
}

type countingWriter struct {
	h hash.Hash
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return w.h.Write(p)
}
