package storage

import (
	"errors"
	"fmt"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	if _, err := s1.GetOrCreateUser("alice"); err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}

	// Data written before the second Open must survive it.
	if _, err := s2.GetUserByUsername("alice"); err != nil {
		t.Errorf("user lost across reopen: %v", err)
	}
}

// TestTablesExist verifies that all four entity tables are created by the
// initial migration, including the dormant analysis_results slot.
func TestTablesExist(t *testing.T) {
	s := openTestStore(t)

	tables := []string{"users", "datasets", "analysis_results", "chat_histories"}
	for _, tbl := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tbl).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", tbl, err)
		}
		if count != 1 {
			t.Errorf("table %q not found in sqlite_master", tbl)
		}
	}
}

func TestGetOrCreateUserStable(t *testing.T) {
	s := openTestStore(t)

	u1, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("first GetOrCreateUser: %v", err)
	}
	u2, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("second GetOrCreateUser: %v", err)
	}

	if u1.ID != u2.ID {
		t.Errorf("identity not stable: %d != %d", u1.ID, u2.ID)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE username = 'alice'").Scan(&count); err != nil {
		t.Fatalf("counting users: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 user row for alice, got %d", count)
	}
}

func TestUsernamesCaseSensitive(t *testing.T) {
	s := openTestStore(t)

	u1, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser(alice): %v", err)
	}
	u2, err := s.GetOrCreateUser("Alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser(Alice): %v", err)
	}
	if u1.ID == u2.ID {
		t.Error("expected distinct users for alice and Alice")
	}
}

// TestUsernameUniqueness attempts to force a duplicate user row past the
// resolver and expects the storage constraint to reject it.
func TestUsernameUniqueness(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateUser("alice"); err != nil {
		t.Fatalf("first CreateUser: %v", err)
	}
	_, err := s.CreateUser("alice")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	// Bypassing CreateUser entirely must also fail at the constraint.
	if _, err := s.db.Exec("INSERT INTO users (username) VALUES ('alice')"); err == nil {
		t.Error("raw duplicate insert succeeded, expected UNIQUE violation")
	}
}

func TestGetUserByUsernameNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUserByUsername("nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLoadDataset(t *testing.T) {
	s := openTestStore(t)

	u, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := s.SaveDataset(u.ID, "sales.csv", payload); err != nil {
		t.Fatalf("SaveDataset: %v", err)
	}

	got, err := s.LoadDataset(u.ID, "sales.csv")
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: got %x want %x", got, payload)
	}
}

// TestSaveDatasetUpsert saves two payloads into the same slot and verifies
// exactly one row remains, holding the last payload.
func TestSaveDatasetUpsert(t *testing.T) {
	s := openTestStore(t)

	u, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	if err := s.SaveDataset(u.ID, "n", []byte("v1")); err != nil {
		t.Fatalf("first SaveDataset: %v", err)
	}
	if err := s.SaveDataset(u.ID, "n", []byte("v2")); err != nil {
		t.Fatalf("second SaveDataset: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM datasets WHERE user_id = ? AND name = 'n'", u.ID).Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row for slot, got %d", count)
	}

	got, err := s.LoadDataset(u.ID, "n")
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("expected last payload to win, got %q", got)
	}
}

func TestSaveDatasetIdempotent(t *testing.T) {
	s := openTestStore(t)

	u, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.SaveDataset(u.ID, "n", []byte("same")); err != nil {
			t.Fatalf("SaveDataset attempt %d: %v", i+1, err)
		}
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM datasets WHERE user_id = ?", u.ID).Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 1 {
		t.Errorf("retried save produced %d rows, want 1", count)
	}
}

func TestSaveDatasetMissingUser(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveDataset(999, "n", []byte("v"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing user, got %v", err)
	}
}

// TestLoadDatasetNotFound verifies a missing slot is reported distinctly
// from an empty payload.
func TestLoadDatasetNotFound(t *testing.T) {
	s := openTestStore(t)

	u, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	_, err = s.LoadDataset(u.ID, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// An empty payload loads fine and is not confused with absence.
	if err := s.SaveDataset(u.ID, "empty", []byte{}); err != nil {
		t.Fatalf("SaveDataset: %v", err)
	}
	got, err := s.LoadDataset(u.ID, "empty")
	if err != nil {
		t.Fatalf("LoadDataset(empty): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(got))
	}
}

func TestListDatasetNames(t *testing.T) {
	s := openTestStore(t)

	alice, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser(alice): %v", err)
	}
	bob, err := s.GetOrCreateUser("bob")
	if err != nil {
		t.Fatalf("GetOrCreateUser(bob): %v", err)
	}

	for _, name := range []string{"a", "b"} {
		if err := s.SaveDataset(alice.ID, name, []byte(name)); err != nil {
			t.Fatalf("SaveDataset(%s): %v", name, err)
		}
	}

	names, err := s.ListDatasetNames(alice.ID)
	if err != nil {
		t.Fatalf("ListDatasetNames(alice): %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected [a b], got %v", names)
	}

	// Re-saving must not change the listing.
	if err := s.SaveDataset(alice.ID, "a", []byte("a2")); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	names, err = s.ListDatasetNames(alice.ID)
	if err != nil {
		t.Fatalf("ListDatasetNames after re-save: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("re-save changed listing: %v", names)
	}

	empty, err := s.ListDatasetNames(bob.ID)
	if err != nil {
		t.Fatalf("ListDatasetNames(bob): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no datasets for bob, got %v", empty)
	}
}

// TestChatOrdering appends three turns and verifies recent retrieval returns
// the newest first, honoring the limit. Back-to-back inserts routinely land
// on the same timestamp, so this also exercises the insertion-order tiebreak.
func TestChatOrdering(t *testing.T) {
	s := openTestStore(t)

	u, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := s.AppendChat(u.ID, fmt.Sprintf("Q%d", i), fmt.Sprintf("R%d", i)); err != nil {
			t.Fatalf("AppendChat %d: %v", i, err)
		}
	}

	entries, err := s.RecentChat(u.ID, 2)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Response != "R3" || entries[1].Response != "R2" {
		t.Errorf("expected [R3 R2], got [%s %s]", entries[0].Response, entries[1].Response)
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("expected store-assigned timestamp, got zero value")
	}
}

func TestRecentChatDefaultLimit(t *testing.T) {
	s := openTestStore(t)

	u, err := s.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	for i := 0; i < 60; i++ {
		if err := s.AppendChat(u.ID, "q", "r"); err != nil {
			t.Fatalf("AppendChat %d: %v", i, err)
		}
	}

	entries, err := s.RecentChat(u.ID, 0)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(entries) != 50 {
		t.Errorf("expected default limit of 50, got %d", len(entries))
	}
}

func TestChatScopedToUser(t *testing.T) {
	s := openTestStore(t)

	alice, _ := s.GetOrCreateUser("alice")
	bob, _ := s.GetOrCreateUser("bob")

	if err := s.AppendChat(alice.ID, "hi", "hello"); err != nil {
		t.Fatalf("AppendChat: %v", err)
	}

	entries, err := s.RecentChat(bob.ID, 10)
	if err != nil {
		t.Fatalf("RecentChat(bob): %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("bob sees alice's chat: %v", entries)
	}
}
