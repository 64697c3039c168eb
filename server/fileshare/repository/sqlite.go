package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"akashshare/server/fileshare/domain"
)

const sqliteBusyTimeoutMS = 5000

// SQLiteStore keeps timestamps as unix nanoseconds so records round-trip exactly.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "akashshare.db"
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, sep, sqliteBusyTimeoutMS)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS share_files (
			code TEXT PRIMARY KEY,
			storage_ref TEXT NOT NULL,
			display_name TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			mime_type TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS share_files_expires_at_idx ON share_files(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec domain.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO share_files(code, storage_ref, display_name, size_bytes, mime_type, checksum, created_at, expires_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			storage_ref = excluded.storage_ref,
			display_name = excluded.display_name,
			size_bytes = excluded.size_bytes,
			mime_type = excluded.mime_type,
			checksum = excluded.checksum,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, rec.Code, rec.StorageRef, rec.DisplayName, rec.SizeBytes, rec.MimeType, rec.Checksum, rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano())
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, code, storageRef string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM share_files WHERE code = ? AND storage_ref = ?`, code, storageRef)
	return err
}

func (s *SQLiteStore) ListLive(ctx context.Context, now time.Time) ([]domain.FileRecord, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM share_files WHERE expires_at >= ? ORDER BY created_at`, now)
}

func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]domain.FileRecord, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM share_files WHERE expires_at < ? ORDER BY created_at`, now)
}

func (s *SQLiteStore) list(ctx context.Context, query string, now time.Time) ([]domain.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, now.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.FileRecord, 0)
	for rows.Next() {
		var (
			rec                  domain.FileRecord
			createdAt, expiresAt int64
		)
		if err := rows.Scan(&rec.Code, &rec.StorageRef, &rec.DisplayName, &rec.SizeBytes, &rec.MimeType, &rec.Checksum, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		rec.ExpiresAt = time.Unix(0, expiresAt).UTC()
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
