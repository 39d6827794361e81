package cache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key("hello world", "espeak", "en-us", 1.0, 0.0)
	b := Key("hello world", "espeak", "en-us", 1.0, 0.0)
	if a != b {
		t.Errorf("equal inputs produced different keys: %s vs %s", a, b)
	}
}

func TestKeyCoversEveryParameter(t *testing.T) {
	base := Key("hello", "espeak", "en-us", 1.0, 0.0)
	variants := map[string]string{
		"text":   Key("hello!", "espeak", "en-us", 1.0, 0.0),
		"engine": Key("hello", "serve", "en-us", 1.0, 0.0),
		"voice":  Key("hello", "espeak", "en-gb", 1.0, 0.0),
		"rate":   Key("hello", "espeak", "en-us", 1.5, 0.0),
		"pitch":  Key("hello", "espeak", "en-us", 1.0, 2.0),
	}
	for name, key := range variants {
		if key == base {
			t.Errorf("changing %s did not change the key", name)
		}
	}
}

func TestStorePutGet(t *testing.T) {
	store, err := New(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck

	payload := []byte("synthesized audio bytes")
	store.Put("key-1", payload)

	got, ok := store.Get("key-1")
	if !ok {
		t.Fatal("expected a hit for a freshly stored key")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload round trip mismatch: got %q", got)
	}

	if _, ok := store.Get("missing"); ok {
		t.Error("expected a miss for an unknown key")
	}

	stats := store.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 entry", stats)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("survives restarts")
	store.Put("persistent", payload)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close() //nolint:errcheck

	got, ok := reopened.Get("persistent")
	if !ok {
		t.Fatal("expected the entry to survive a reopen")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload changed across reopen: got %q", got)
	}
}

func TestStoreCompressionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Options{Dir: dir, CompressionLevel: 3})
	if err != nil {
		t.Fatal(err)
	}

	// Highly compressible and well over the compression threshold.
	payload := bytes.Repeat([]byte("abcdefgh"), 1024)
	store.Put("big", payload)

	got, ok := store.Get("big")
	if !ok {
		t.Fatal("expected a hit")
	}
	if !bytes.Equal(got, payload) {
		t.Error("compressed payload did not round trip")
	}
	if stats := store.Stats(); stats.Bytes >= int64(len(payload)) {
		t.Errorf("expected on-disk size below %d, got %d", len(payload), stats.Bytes)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Decompression must also work in a fresh process.
	reopened, err := New(Options{Dir: dir, CompressionLevel: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close() //nolint:errcheck
	got, ok = reopened.Get("big")
	if !ok || !bytes.Equal(got, payload) {
		t.Error("compressed payload did not survive a reopen")
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	store, err := New(Options{Dir: t.TempDir(), TTL: 30 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck

	store.Put("short-lived", []byte("data"))
	if _, ok := store.Get("short-lived"); !ok {
		t.Fatal("expected a hit before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := store.Get("short-lived"); ok {
		t.Error("expected the entry to expire")
	}
	if stats := store.Stats(); stats.Entries != 0 {
		t.Errorf("expired entry still counted: %+v", stats)
	}
}

func TestStoreMaxEntriesEviction(t *testing.T) {
	store, err := New(Options{Dir: t.TempDir(), MaxEntries: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck

	for i := 0; i < 3; i++ {
		store.Put(fmt.Sprintf("key-%d", i), []byte("v"))
		time.Sleep(2 * time.Millisecond) // distinct access times
	}

	// Touch key-0 so key-1 becomes the least recently used.
	if _, ok := store.Get("key-0"); !ok {
		t.Fatal("expected key-0 to be present")
	}

	store.Put("key-3", []byte("v"))

	if _, ok := store.Get("key-1"); ok {
		t.Error("expected key-1 to be evicted as least recently used")
	}
	for _, key := range []string{"key-0", "key-2", "key-3"} {
		if _, ok := store.Get(key); !ok {
			t.Errorf("expected %s to survive eviction", key)
		}
	}
	if stats := store.Stats(); stats.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", stats.Evictions)
	}
}

func TestStoreUnreadableEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck

	store.Put("doomed", []byte("data"))
	if err := os.Remove(filepath.Join(dir, fileName("doomed"))); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Get("doomed"); ok {
		t.Error("expected a miss after the entry file vanished")
	}
	// The broken entry must not linger in the index.
	if stats := store.Stats(); stats.Entries != 0 {
		t.Errorf("entries = %d after dropping broken entry, want 0", stats.Entries)
	}
}

func TestStoreSweepsOrphanedFiles(t *testing.T) {
	dir := t.TempDir()
	orphan := filepath.Join(dir, fileName("never-indexed"))
	if err := os.WriteFile(orphan, []byte("leftover"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("expected the unindexed entry file to be removed on open")
	}
	if stats := store.Stats(); stats.Entries != 0 {
		t.Errorf("entries = %d, want 0", stats.Entries)
	}
}

func TestStoreIndexSurvivesWithoutClose(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	// Enough puts to cross the periodic save threshold. No Close: this
	// simulates a process that died mid-run.
	for i := 0; i < saveEvery+5; i++ {
		store.Put(fmt.Sprintf("key-%d", i), []byte("v"))
	}

	reopened, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close() //nolint:errcheck

	if _, ok := reopened.Get("key-0"); !ok {
		t.Error("expected early entries to survive a crash via the periodic index save")
	}
	if stats := reopened.Stats(); stats.Entries < int64(saveEvery) {
		t.Errorf("entries = %d after reopen, want at least %d", stats.Entries, saveEvery)
	}
}

func TestStoreCorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte("not gob data"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatalf("corrupt index should not fail open: %v", err)
	}
	defer store.Close() //nolint:errcheck

	if stats := store.Stats(); stats.Entries != 0 {
		t.Errorf("entries = %d, want 0 after corrupt index", stats.Entries)
	}
}

func TestStoreClear(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck

	store.Put("a", []byte("1"))
	store.Put("b", []byte("2"))

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get("a"); ok {
		t.Error("expected a miss after Clear")
	}
	if stats := store.Stats(); stats.Entries != 0 || stats.Bytes != 0 {
		t.Errorf("stats after Clear = %+v, want empty", stats)
	}
}

func TestStoreLastWriteWins(t *testing.T) {
	store, err := New(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck

	store.Put("key", []byte("first"))
	store.Put("key", []byte("second"))

	got, ok := store.Get("key")
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(got) != "second" {
		t.Errorf("got %q, want the later write", got)
	}
	if stats := store.Stats(); stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
}
