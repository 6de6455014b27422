// ABOUTME: Tests for SQLite transcript persistence
// ABOUTME: Covers schema creation, append/recent round trips, and system-role filtering

package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Append(ctx, "sess-1", "user", "hello"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "sess-1", "assistant", "hi there"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := store.Recent(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Text != "hello" {
		t.Errorf("entry 0 = %q/%q, want user/hello", entries[0].Role, entries[0].Text)
	}
	if entries[1].Role != "assistant" || entries[1].Text != "hi there" {
		t.Errorf("entry 1 = %q/%q, want assistant/hi there", entries[1].Role, entries[1].Text)
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Error("entries should have distinct non-empty IDs")
	}
}

func TestRecent_ExcludesSystemTurns(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Append(ctx, "sess-1", "system", "You are a helpful assistant."); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "sess-1", "user", "hello"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := store.Recent(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Role != "user" {
		t.Errorf("entry role = %q, want user", entries[0].Role)
	}
}

func TestRecent_LimitKeepsNewestInOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Insert 10 turns in one second; ordering must come from insert order,
	// not wall-clock timestamps.
	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := store.Append(ctx, "sess-1", role, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := store.Recent(ctx, "sess-1", 4)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	for i, e := range entries {
		want := fmt.Sprintf("turn %d", 6+i)
		if e.Text != want {
			t.Errorf("entry %d text = %q, want %q", i, e.Text, want)
		}
	}
}

func TestRecent_SessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Append(ctx, "sess-1", "user", "one"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "sess-2", "user", "two"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := store.Recent(ctx, "sess-2", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(entries) != 1 || entries[0].Text != "two" {
		t.Errorf("got %v, want single entry with text %q", entries, "two")
	}
}

func TestDeleteSession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Append(ctx, "sess-1", "user", "hello"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	entries, err := store.Recent(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries after delete, want 0", len(entries))
	}
}
