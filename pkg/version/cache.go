package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
)

// cacheSchemaVersion guards the persisted record format. A record with an
// unknown schema version is discarded, same as a corrupt one.
const cacheSchemaVersion = 1

type persistedRecord struct {
	Schema   int      `json:"schema"`
	Snapshot Snapshot `json:"snapshot"`
}

// Cache is the client's persisted last-observed version snapshot: one
// namespaced JSON record on disk that survives process restarts and is
// cleared on logout.
//
// The reconciler owns the cache exclusively; no other component reads or
// writes it. All keys are client-side (normalized) names.
type Cache struct {
	path string
	log  logger.Logger

	snap Snapshot
}

// NewCache returns a cache backed by the file at path. Call Load before
// first use.
func NewCache(path string, log logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		path: path,
		log:  log,
		snap: make(Snapshot),
	}
}

// Load reads the persisted record. A missing file is the first-session
// case and yields an empty snapshot with no error. A corrupt or
// wrong-schema record is discarded with a warning: losing the baseline
// only costs one extra baseline pass, which invalidates nothing.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		c.snap = make(Snapshot)
		return nil
	}
	if err != nil {
		return fmt.Errorf("version.Cache failed to read %s: %w", c.path, err)
	}

	var rec persistedRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Schema != cacheSchemaVersion {
		c.log.Warn("version.Cache discarding unreadable snapshot record", "path", c.path, "error", err)
		c.snap = make(Snapshot)
		return nil
	}

	if rec.Snapshot == nil {
		rec.Snapshot = make(Snapshot)
	}
	c.snap = rec.Snapshot
	return nil
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// Len reports how many keys have been observed. Zero means the next
// reconciliation is a baseline pass.
func (c *Cache) Len() int {
	return len(c.snap)
}

// Get returns the recorded version for key.
func (c *Cache) Get(key string) (int64, bool) {
	v, ok := c.snap[key]
	return v, ok
}

// Set records the observed version for key in memory. Call Flush to
// persist after a reconciliation pass completes.
func (c *Cache) Set(key string, v int64) {
	c.snap[key] = v
}

// Replace swaps in an entire snapshot, used by the baseline pass.
func (c *Cache) Replace(s Snapshot) {
	c.snap = s.Clone()
}

// Snapshot returns a copy of the in-memory state.
func (c *Cache) Snapshot() Snapshot {
	return c.snap.Clone()
}

// Flush writes the record atomically (temp file + rename), so a crash
// mid-write leaves the previous record intact.
func (c *Cache) Flush() error {
	rec := persistedRecord{Schema: cacheSchemaVersion, Snapshot: c.snap}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("version.Cache failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("version.Cache failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("version.Cache failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("version.Cache failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("version.Cache failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("version.Cache failed to replace %s: %w", c.path, err)
	}
	return nil
}

// Clear wipes both the in-memory snapshot and the persisted record.
// Called on logout; ordinary navigation must NOT call this, so freshness
// state carries across page loads.
func (c *Cache) Clear() error {
	c.snap = make(Snapshot)
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("version.Cache failed to remove %s: %w", c.path, err)
	}
	return nil
}
