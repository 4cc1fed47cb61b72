package pack

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// reservedPrefixes marks directory names the scanner skips.
var reservedPrefixes = []string{".", "_"}

// cacheEntry memoizes one built pack keyed by backing-file mtimes.
type cacheEntry struct {
	pack        *Pack
	metaMod     time.Time
	lessonsMod  time.Time
	haveLessons bool
}

// Cache memoizes loaded packs for the lifetime of the daemon process.
// Invalidation is by modification time of the metadata and lesson files.
type Cache struct {
	log     *zap.Logger
	mu      sync.Mutex
	entries map[string]*cacheEntry // keyed by pack directory
}

// NewCache creates an empty pack cache.
func NewCache(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{log: log, entries: make(map[string]*cacheEntry)}
}

// Get scans one directory level of root for pack directories and returns
// the loaded packs, name-sorted. Directories without a metadata document
// and reserved-prefix names are skipped. Unreadable packs are skipped
// with a diagnostic, never fatal.
func (c *Cache) Get(root string) []*Pack {
	dirents, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("cannot scan packs directory", zap.String("root", root), zap.Error(err))
		}
		return nil
	}

	var packs []*Pack
	for _, de := range dirents {
		if !de.IsDir() || isReserved(de.Name()) {
			continue
		}
		dir := filepath.Join(root, de.Name())
		if _, err := os.Stat(filepath.Join(dir, metadataFile)); err != nil {
			continue
		}
		if p := c.get(dir); p != nil {
			packs = append(packs, p)
		}
	}

	sort.Slice(packs, func(i, j int) bool { return packs[i].Name < packs[j].Name })
	return packs
}

// get returns the cached pack for dir, rebuilding on mtime change.
func (c *Cache) get(dir string) *Pack {
	metaMod, ok := mtime(filepath.Join(dir, metadataFile))
	if !ok {
		return nil
	}
	lessonsMod, haveLessons := mtime(filepath.Join(dir, lessonsFile))

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[dir]; ok &&
		e.metaMod.Equal(metaMod) &&
		e.haveLessons == haveLessons &&
		e.lessonsMod.Equal(lessonsMod) {
		return e.pack
	}

	p, err := loadPack(dir, c.log)
	if err != nil {
		c.log.Warn("skipping unreadable pack", zap.String("dir", dir), zap.Error(err))
		delete(c.entries, dir)
		return nil
	}

	c.entries[dir] = &cacheEntry{
		pack:        p,
		metaMod:     metaMod,
		lessonsMod:  lessonsMod,
		haveLessons: haveLessons,
	}
	return p
}

// Clear drops all memoized packs.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

func isReserved(name string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func mtime(path string) (time.Time, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}
