package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

const indexFile = "cache.index"

// saveEvery bounds how many puts an interrupted run can lose from the index.
const saveEvery = 32

// compressMin is the smallest payload worth running through zstd.
const compressMin = 1024

// Options configures a Store.
type Options struct {
	Dir              string        // Directory for entry files and the index
	TTL              time.Duration // Entries older than this are treated as absent; 0 disables
	MaxEntries       int           // Entry count cap; 0 disables eviction
	CompressionLevel int           // Zstd level, 0 disables compression
}

// Stats reports cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int64
	Bytes     int64 // Total size on disk
}

// entry fields are exported for gob round-tripping of the index.
type entry struct {
	Key        string
	File       string
	Size       int64 // Size on disk, possibly compressed
	RawSize    int64
	Created    time.Time
	LastAccess time.Time
	Compressed bool
}

// Store is a persistent key-value cache for synthesized audio segments. All
// methods are safe for concurrent use; entries under the same key resolve
// last-write-wins, which is harmless because keys are content-derived.
//
// Storage errors never propagate: a failed read behaves as a miss and a
// failed write is logged and dropped, so losing the cache can only cost
// recomputation.
type Store struct {
	dir        string
	ttl        time.Duration
	maxEntries int

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu     sync.Mutex
	index  map[string]*entry
	size   int64
	stats  Stats
	unsync int // Puts since the index was last persisted
}

// New opens (or creates) a store rooted at opts.Dir. An existing index is
// reloaded so prior synthesis results are reused across runs; a corrupt or
// missing index just starts the store empty.
func New(opts Options) (*Store, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		dir:        opts.Dir,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		index:      make(map[string]*entry),
	}

	if opts.CompressionLevel > 0 {
		var err error
		s.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}

	if err := s.loadIndex(); err != nil {
		log.Warn("cache index unreadable, starting empty", "dir", s.dir, "err", err)
		s.index = make(map[string]*entry)
	}
	for _, e := range s.index {
		s.size += e.Size
	}
	s.sweepOrphans()

	return s, nil
}

// sweepOrphans deletes entry files the index does not know about, left behind
// when a previous process died before persisting its index.
func (s *Store) sweepOrphans() {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	known := make(map[string]bool, len(s.index))
	for _, e := range s.index {
		known[filepath.Base(e.File)] = true
	}
	for _, f := range files {
		name := f.Name()
		if filepath.Ext(name) != ".seg" || known[name] {
			continue
		}
		log.Debug("removing orphaned cache file", "file", name)
		os.Remove(filepath.Join(s.dir, name))
	}
}

// Get returns the payload stored under key, if present and not expired. A hit
// refreshes the entry's recency.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		s.stats.Misses++
		return nil, false
	}

	if s.expired(e) {
		s.removeLocked(e)
		s.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(e.File)
	if err != nil {
		// Treat unreadable entries as misses and drop them.
		log.Warn("cache read failed, dropping entry", "key", key, "err", err)
		s.removeLocked(e)
		s.stats.Misses++
		return nil, false
	}

	if e.Compressed {
		if s.decoder == nil {
			s.removeLocked(e)
			s.stats.Misses++
			return nil, false
		}
		raw, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			log.Warn("cache entry corrupt, dropping", "key", key, "err", err)
			s.removeLocked(e)
			s.stats.Misses++
			return nil, false
		}
		data = raw
	}

	e.LastAccess = time.Now()
	s.stats.Hits++
	return data, true
}

// Put stores payload under key. Writing an existing key refreshes recency and
// overwrites the payload (last-write-wins). Storage failures are logged and
// swallowed; the cache is an optimization, never a correctness requirement.
func (s *Store) Put(key string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepExpiredLocked()

	data := payload
	compressed := false
	if s.encoder != nil && len(payload) > compressMin {
		if c := s.encoder.EncodeAll(payload, nil); len(c) < len(payload) {
			data = c
			compressed = true
		}
	}

	file := filepath.Join(s.dir, fileName(key))
	if err := writeAtomic(file, data); err != nil {
		log.Warn("cache write failed", "key", key, "err", err)
		return
	}

	if old, ok := s.index[key]; ok {
		s.size -= old.Size
	}
	now := time.Now()
	s.index[key] = &entry{
		Key:        key,
		File:       file,
		Size:       int64(len(data)),
		RawSize:    int64(len(payload)),
		Created:    now,
		LastAccess: now,
		Compressed: compressed,
	}
	s.size += int64(len(data))

	if s.maxEntries > 0 {
		for len(s.index) > s.maxEntries {
			s.evictOldestLocked()
		}
	}

	// Persist periodically so a crash cannot orphan more than a handful of
	// fresh entries.
	s.unsync++
	if s.unsync >= saveEvery {
		if err := s.saveIndexLocked(); err != nil {
			log.Warn("cache index save failed", "err", err)
		}
	}
}

// Stats returns a snapshot of the cache counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Entries = int64(len(s.index))
	st.Bytes = s.size
	return st
}

// Clear removes every entry and persists the empty index.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.index {
		os.Remove(e.File)
	}
	s.index = make(map[string]*entry)
	s.size = 0
	return s.saveIndexLocked()
}

// Close persists the index so a later process can reopen the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveIndexLocked()
}

func (s *Store) expired(e *entry) bool {
	return s.ttl > 0 && time.Since(e.Created) > s.ttl
}

func (s *Store) sweepExpiredLocked() {
	if s.ttl <= 0 {
		return
	}
	for _, e := range s.index {
		if s.expired(e) {
			s.removeLocked(e)
		}
	}
}

func (s *Store) removeLocked(e *entry) {
	os.Remove(e.File)
	s.size -= e.Size
	delete(s.index, e.Key)
}

func (s *Store) evictOldestLocked() {
	var oldest *entry
	for _, e := range s.index {
		if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
			oldest = e
		}
	}
	if oldest != nil {
		s.removeLocked(oldest)
		s.stats.Evictions++
	}
}

func (s *Store) loadIndex() error {
	f, err := os.Open(filepath.Join(s.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(&s.index)
}

func (s *Store) saveIndexLocked() error {
	path := filepath.Join(s.dir, indexFile)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(s.index)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	s.unsync = 0
	return nil
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".seg"
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
