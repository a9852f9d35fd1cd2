package cache

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	type payload struct {
		Value string `json:"value"`
	}
	if err := store.PutJSON("k", payload{Value: "hello"}, time.Minute); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}

	var got payload
	ok, err := store.GetJSON("k", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !ok || got.Value != "hello" {
		t.Fatalf("unexpected read: ok=%v, got=%+v", ok, got)
	}
}

func TestMissingKeyReadsAsAbsent(t *testing.T) {
	store := openTestStore(t)
	var got string
	ok, err := store.GetJSON("nope", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if ok {
		t.Fatal("missing key must report ok=false")
	}
}

func TestExpiredEntryReadsAsAbsent(t *testing.T) {
	store := openTestStore(t)
	if err := store.PutJSON("k", "v", time.Second); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}

	// Move the clock past the TTL instead of sleeping.
	store.now = func() time.Time { return time.Now().Add(time.Hour) }

	var got string
	ok, err := store.GetJSON("k", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if ok {
		t.Fatal("expired entry must report ok=false")
	}
}

func TestPutReplacesPreviousEntry(t *testing.T) {
	store := openTestStore(t)
	if err := store.PutJSON("k", "first", time.Minute); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	if err := store.PutJSON("k", "second", time.Minute); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	var got string
	ok, err := store.GetJSON("k", &got)
	if err != nil || !ok {
		t.Fatalf("GetJSON failed: ok=%v err=%v", ok, err)
	}
	if got != "second" {
		t.Fatalf("expected the replacement value, got %q", got)
	}
}

func TestPruneDropsExpiredRows(t *testing.T) {
	store := openTestStore(t)
	if err := store.PutJSON("old", "v", time.Second); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	if err := store.Prune(); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected pruned table, found %d rows", count)
	}
}
