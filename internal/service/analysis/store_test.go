package analysis

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"pulse/internal/config"
	"pulse/internal/storage"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createUser(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users(name, email, password_hash, created_at) VALUES(?, ?, ?, ?)`,
		name, name+"@example.com", "x", time.Now().UTC())
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	return id
}

// stepClock returns strictly increasing timestamps.
func stepClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	db := setupTestDB(t)
	store := NewStore(db)
	store.now = stepClock()
	return store, db
}

func TestStoreRoundTrip(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	rec, err := store.Create(ctx, alice, "daily.txt", "text/plain", "we shipped", "# Report")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == "" || rec.UserID != alice || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}

	list, err := store.ListByOwner(ctx, alice)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 record, got %d", len(list))
	}
	got := list[0]
	if got.ID != rec.ID || got.FileName != "daily.txt" || got.FileType != "text/plain" ||
		got.OriginalText != "we shipped" || got.Summary != "# Report" || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, rec)
	}

	other, err := store.ListByOwner(ctx, bob)
	if err != nil {
		t.Fatalf("ListByOwner bob: %v", err)
	}
	if other == nil || len(other) != 0 {
		t.Fatalf("expected empty non-nil list for another user, got %#v", other)
	}

	fetched, err := store.Get(ctx, alice, rec.ID)
	if err != nil || fetched.Summary != "# Report" {
		t.Fatalf("Get: %+v, %v", fetched, err)
	}
	if _, err := store.Get(ctx, bob, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign get, got %v", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	owner := createUser(t, db, "alice")

	var ids []string
	for _, name := range []string{"planning.pdf", "daily.txt", "review.docx"} {
		rec, err := store.Create(ctx, owner, name, "text/plain", "t", "s")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	list, err := store.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		if list[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, list[i].ID, want)
		}
	}
	if n, err := store.CountByOwner(ctx, owner); err != nil || n != 3 {
		t.Fatalf("CountByOwner = %d, %v", n, err)
	}
}

func TestStoreDeleteOwnership(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	rec, err := store.Create(ctx, alice, "a.txt", "text/plain", "t", "s")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.DeleteByID(ctx, bob, rec.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if n, _ := store.CountByOwner(ctx, alice); n != 1 {
		t.Fatalf("foreign delete removed the record")
	}

	if err := store.DeleteByID(ctx, alice, rec.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if err := store.DeleteByID(ctx, alice, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	// the owner is still remembered for deleted ids
	if err := store.DeleteByID(ctx, bob, rec.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized after owner delete, got %v", err)
	}

	for _, id := range []string{"not-a-uuid", "5f0c6f0e-6d5b-4a53-9a57-0c0d8d6c9b11"} {
		if err := store.DeleteByID(ctx, alice, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestStorePruneTombstones(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	deleted := func() string {
		t.Helper()
		rec, err := store.Create(ctx, alice, "a.txt", "text/plain", "t", "s")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := store.DeleteByID(ctx, alice, rec.ID); err != nil {
			t.Fatalf("DeleteByID: %v", err)
		}
		return rec.ID
	}
	// the step clock puts these tombstones at 09:00:02 and 09:00:04
	old, recent := deleted(), deleted()

	n, err := store.PruneTombstones(ctx, time.Date(2025, 3, 1, 9, 0, 3, 0, time.UTC))
	if err != nil {
		t.Fatalf("PruneTombstones: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d tombstones, want 1", n)
	}
	if err := store.DeleteByID(ctx, bob, old); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pruned id: expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteByID(ctx, bob, recent); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("kept id: expected ErrNotAuthorized, got %v", err)
	}
}

func TestTombstoneSweeperPrunesExpired(t *testing.T) {
	store, db := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alice := createUser(t, db, "alice")
	rec, err := store.Create(ctx, alice, "a.txt", "text/plain", "t", "s")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.DeleteByID(ctx, alice, rec.ID); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}

	store.now = func() time.Time { return time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) }
	svc := NewService(store, nil, Options{})
	svc.StartTombstoneSweeper(ctx, 10*time.Millisecond, 24*time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM analysis_tombstones`).Scan(&count); err != nil {
			t.Fatalf("count tombstones: %v", err)
		}
		if count == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("tombstone still present after sweeping")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStoreConcurrentDeletes(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	mallory := createUser(t, db, "mallory")

	for i := 0; i < 20; i++ {
		rec, err := store.Create(ctx, alice, "a.txt", "text/plain", "t", "s")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		var (
			wg        sync.WaitGroup
			ownerErrs = make([]error, 2)
			foreign   = make([]error, 2)
		)
		for j := 0; j < 2; j++ {
			wg.Add(2)
			go func(j int) {
				defer wg.Done()
				ownerErrs[j] = store.DeleteByID(ctx, alice, rec.ID)
			}(j)
			go func(j int) {
				defer wg.Done()
				foreign[j] = store.DeleteByID(ctx, mallory, rec.ID)
			}(j)
		}
		wg.Wait()

		for _, err := range foreign {
			if !errors.Is(err, ErrNotAuthorized) {
				t.Fatalf("round %d: foreign delete returned %v", i, err)
			}
		}
		succeeded := 0
		for _, err := range ownerErrs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrNotFound):
			default:
				t.Fatalf("round %d: owner delete returned %v", i, err)
			}
		}
		if succeeded != 1 {
			t.Fatalf("round %d: %d owner deletes succeeded", i, succeeded)
		}
	}
	if n, _ := store.CountByOwner(ctx, alice); n != 0 {
		t.Fatalf("expected every record deleted, %d left", n)
	}
}

func TestStoreReportsStorageFailure(t *testing.T) {
	store, db := newTestStore(t)
	owner := createUser(t, db, "alice")
	db.Close()

	_, err := store.Create(context.Background(), owner, "a.txt", "text/plain", "t", "s")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if _, err := store.ListByOwner(context.Background(), owner); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage from list, got %v", err)
	}
	if KindOf(err) != KindStorage {
		t.Fatalf("kind = %s", KindOf(err))
	}
}
