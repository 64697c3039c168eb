package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	commonlog "akashshare/server/common/log"
	"akashshare/server/fileshare/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const selectColumns = `code, storage_ref, display_name, size_bytes, mime_type, checksum, created_at, expires_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded migrations. dsn must be a postgres:// URL.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	url, err := migrateURL(dsn)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	commonlog.Infof("event=record_store action=migrate status=ok version=%d dirty=%t", version, dirty)
	return nil
}

func migrateURL(dsn string) (string, error) {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest, nil
		}
	}
	return "", fmt.Errorf("postgres dsn must be a postgres:// url")
}

func (s *PostgresStore) Save(ctx context.Context, rec domain.FileRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO share_files(code, storage_ref, display_name, size_bytes, mime_type, checksum, created_at, expires_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			storage_ref = EXCLUDED.storage_ref,
			display_name = EXCLUDED.display_name,
			size_bytes = EXCLUDED.size_bytes,
			mime_type = EXCLUDED.mime_type,
			checksum = EXCLUDED.checksum,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, rec.Code, rec.StorageRef, rec.DisplayName, rec.SizeBytes, rec.MimeType, rec.Checksum, rec.CreatedAt, rec.ExpiresAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, code, storageRef string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM share_files WHERE code=$1 AND storage_ref=$2`, code, storageRef)
	return err
}

func (s *PostgresStore) ListLive(ctx context.Context, now time.Time) ([]domain.FileRecord, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM share_files WHERE expires_at >= $1 ORDER BY created_at`, now)
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]domain.FileRecord, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM share_files WHERE expires_at < $1 ORDER BY created_at`, now)
}

func (s *PostgresStore) list(ctx context.Context, query string, now time.Time) ([]domain.FileRecord, error) {
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.FileRecord, 0)
	for rows.Next() {
		var rec domain.FileRecord
		if err := rows.Scan(&rec.Code, &rec.StorageRef, &rec.DisplayName, &rec.SizeBytes, &rec.MimeType, &rec.Checksum, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
