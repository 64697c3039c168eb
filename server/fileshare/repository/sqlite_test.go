package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"akashshare/server/fileshare/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "share.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func record(code, ref string, created time.Time, ttl time.Duration) domain.FileRecord {
	return domain.FileRecord{
		Code:        code,
		StorageRef:  ref,
		DisplayName: ref + ".bin",
		SizeBytes:   10,
		MimeType:    "application/octet-stream",
		Checksum:    "abc",
		CreatedAt:   created,
		ExpiresAt:   created.Add(ttl),
	}
}

func TestSQLiteStoreLifecycle(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.UTC)

	live := record("0001", "ref-live", now, time.Hour)
	dead := record("0002", "ref-dead", now.Add(-3*time.Hour), time.Hour)
	for _, rec := range []domain.FileRecord{live, dead} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := store.ListLive(ctx, now)
	if err != nil {
		t.Fatalf("ListLive: %v", err)
	}
	if len(got) != 1 || got[0].Code != live.Code || !got[0].CreatedAt.Equal(live.CreatedAt) || !got[0].ExpiresAt.Equal(live.ExpiresAt) {
		t.Fatalf("ListLive = %+v", got)
	}

	expired, err := store.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].Code != "0002" {
		t.Fatalf("ListExpired = %+v", expired)
	}
}

func TestSQLiteStoreSaveReplacesCode(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.Save(ctx, record("0042", "old", now.Add(-2*time.Hour), time.Hour))
	if err := store.Save(ctx, record("0042", "new", now, time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, _ := store.ListLive(ctx, now)
	if len(got) != 1 || got[0].StorageRef != "new" {
		t.Fatalf("got %+v", got)
	}
}

func TestSQLiteStoreDeleteChecksStorageRef(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = store.Save(ctx, record("0007", "current", now, time.Hour))

	if err := store.Delete(ctx, "0007", "stale"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.ListLive(ctx, now); len(got) != 1 {
		t.Fatal("stale delete removed the current row")
	}
	if err := store.Delete(ctx, "0007", "current"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.ListLive(ctx, now); len(got) != 0 {
		t.Fatalf("row survived delete: %+v", got)
	}
}

func TestSQLiteDSN(t *testing.T) {
	cases := map[string]string{
		"/tmp/a.db":          "file:/tmp/a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		"file:x.db?mode=rwc": "file:x.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
	}
	for in, want := range cases {
		if got := sqliteDSN(in); got != want {
			t.Errorf("sqliteDSN(%q) = %q", in, got)
		}
	}
}

func TestMigrateURL(t *testing.T) {
	got, err := migrateURL("postgres://u:p@localhost:5432/share?sslmode=disable")
	if err != nil || got != "pgx5://u:p@localhost:5432/share?sslmode=disable" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := migrateURL("host=localhost user=u"); err == nil {
		t.Fatal("expected error for keyword dsn")
	}
}
