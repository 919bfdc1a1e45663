package imagecache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/vbonduro/critterkeep/internal/apperr"
)

const DefaultMaxBytes = 256 << 20

// Fetcher downloads raw bytes for a URL. catalog.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Cache is a flat directory of downloaded images named by Key(url). Only
// bytes that decode as an image are ever written.
type Cache struct {
	dir      string
	maxBytes int64
	fetcher  Fetcher
	logger   *slog.Logger
	now      func() time.Time

	// mu serialises directory mutations (write, eviction, clear). Downloads
	// run outside it.
	mu sync.Mutex
}

// New opens the cache rooted at dir. maxBytes of 0 disables eviction.
func New(dir string, maxBytes int64, fetcher Fetcher, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create image cache directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{dir: dir, maxBytes: maxBytes, fetcher: fetcher, logger: logger, now: time.Now}, nil
}

// Key returns the hex SHA-256 of url, the entry's file name.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Path returns where the entry for url lives, whether or not it exists.
func (c *Cache) Path(url string) string {
	return filepath.Join(c.dir, Key(url))
}

// Get returns the cached bytes for url without touching the network.
func (c *Cache) Get(url string) ([]byte, bool) {
	path := c.Path(url)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read cached image", "key", Key(url), "error", err)
		}
		return nil, false
	}
	now := c.now()
	if err := os.Chtimes(path, now, now); err != nil {
		c.logger.Debug("failed to touch cached image", "key", Key(url), "error", err)
	}
	return data, true
}

// FetchAndStore returns the decoded image for url, serving it from disk when
// cached and downloading it otherwise. A download that does not decode is
// reported as an error and nothing is cached.
func (c *Cache) FetchAndStore(ctx context.Context, url string) (image.Image, error) {
	const op = "fetch image"
	if data, ok := c.Get(url); ok {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err == nil {
			return img, nil
		}
		c.logger.Warn("discarding corrupt cached image", "key", Key(url), "error", err)
		c.remove(Key(url))
	}

	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.New(apperr.KindDecoding, op, fmt.Errorf("failed to decode image from %s: %w", url, err))
	}

	if err := c.store(Key(url), data); err != nil {
		return nil, apperr.New(apperr.KindStorage, op, err)
	}
	return img, nil
}

// Clear removes every entry and leaves an empty, usable directory.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.dir); err != nil {
		return apperr.New(apperr.KindStorage, "clear image cache", fmt.Errorf("failed to remove cache directory: %w", err))
	}
	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return apperr.New(apperr.KindStorage, "clear image cache", fmt.Errorf("failed to recreate cache directory: %w", err))
	}
	c.logger.Info("image cache cleared", "dir", c.dir)
	return nil
}

// Size returns the total size in bytes of all cached entries.
func (c *Cache) Size() (int64, error) {
	entries, err := c.entries()
	if err != nil {
		return 0, apperr.New(apperr.KindStorage, "image cache size", err)
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	return total, nil
}

// store writes data under key. The whole write holds mu so a concurrent Clear
// cannot remove the directory between the temp file and the rename.
func (c *Cache) store(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.CreateTemp(c.dir, ".dl-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(c.dir, key)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move image into cache: %w", err)
	}
	c.evictLocked(key)
	return nil
}

type entry struct {
	name    string
	size    int64
	modTime time.Time
}

func (c *Cache) entries() ([]entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}
	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", de.Name(), err)
		}
		entries = append(entries, entry{name: de.Name(), size: info.Size(), modTime: info.ModTime()})
	}
	return entries, nil
}

// evictLocked removes least recently used entries until the cache fits in
// maxBytes. keep is never evicted.
func (c *Cache) evictLocked(keep string) {
	if c.maxBytes <= 0 {
		return
	}
	entries, err := c.entries()
	if err != nil {
		c.logger.Warn("skipping image cache eviction", "error", err)
		return
	}

	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= c.maxBytes {
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })
	evicted := 0
	for _, e := range entries {
		if total <= c.maxBytes {
			break
		}
		if e.name == keep {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.name)); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to evict cached image", "key", e.name, "error", err)
			continue
		}
		total -= e.size
		evicted++
	}
	c.logger.Debug("image cache evicted entries", "evicted", evicted, "bytes", total)
}

func (c *Cache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(filepath.Join(c.dir, key)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove cached image", "key", key, "error", err)
	}
}
