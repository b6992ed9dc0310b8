package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Entry is one cached response.
type Entry struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// Bucket is an on-disk response cache owned by one generation. Entries are
// keyed by method and URL; the bucket directory's name is the bucket name, so
// cleanup of foreign generations is a directory listing away.
type Bucket struct {
	mu   sync.RWMutex
	name string
	dir  string
}

// OpenBucket opens (creating if needed) the named bucket under root.
func OpenBucket(root, name string) (*Bucket, error) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return &Bucket{name: name, dir: dir}, nil
}

// Name returns the bucket's name.
func (b *Bucket) Name() string { return b.name }

// CacheKey computes the lookup key for a request. Only the method, path and
// query participate; fragment and headers do not.
func CacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

func (b *Bucket) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(b.dir, hex.EncodeToString(sum[:])+".json")
}

// Put stores a response under the request's key, atomically.
func (b *Bucket) Put(key string, e *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	path := b.entryPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Match returns the cached response for key, or (nil, false).
func (b *Bucket) Match(key string) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, err := os.ReadFile(b.entryPath(key))
	if err != nil {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A torn or corrupt entry reads as a miss.
		return nil, false
	}
	return &e, true
}

// Delete removes an entry; missing entries are not an error.
func (b *Bucket) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.entryPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Len reports how many entries the bucket holds.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, ent := range entries {
		if !ent.IsDir() && filepath.Ext(ent.Name()) == ".json" {
			n++
		}
	}
	return n
}

// BucketNames lists the bucket directories under root, sorted.
func BucketNames(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteBucket removes a bucket and everything in it.
func DeleteBucket(root, name string) error {
	if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
		return fmt.Errorf("failed to delete bucket %s: %w", name, err)
	}
	return nil
}
