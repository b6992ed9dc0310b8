package lifecycle

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestBucketPutMatchDelete(t *testing.T) {
	root := t.TempDir()
	b, err := OpenBucket(root, "cache-v1")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/assets/app.js?v=2", nil)
	key := CacheKey(req)
	entry := &Entry{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/javascript"}},
		Body:   []byte("console.log('hi')"),
	}
	if err := b.Put(key, entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := b.Match(key)
	if !ok {
		t.Fatal("entry not found after put")
	}
	if got.Status != http.StatusOK || string(got.Body) != "console.log('hi')" {
		t.Fatalf("got %+v", got)
	}
	if got.Header.Get("Content-Type") != "text/javascript" {
		t.Fatalf("header lost: %v", got.Header)
	}

	// The query string is part of the key.
	other := httptest.NewRequest(http.MethodGet, "/assets/app.js?v=3", nil)
	if _, ok := b.Match(CacheKey(other)); ok {
		t.Fatal("different query matched the same entry")
	}

	if err := b.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := b.Match(key); ok {
		t.Fatal("entry survived delete")
	}
	if err := b.Delete(key); err != nil {
		t.Fatalf("double delete: %v", err)
	}
}

func TestBucketCorruptEntryReadsAsMiss(t *testing.T) {
	root := t.TempDir()
	b, err := OpenBucket(root, "cache-v1")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	key := CacheKey(req)
	if err := b.Put(key, &Entry{Status: 200, Body: []byte("ok")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(b.entryPath(key), []byte("{torn"), 0644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, ok := b.Match(key); ok {
		t.Fatal("corrupt entry served as a hit")
	}
}

func TestBucketNames(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"cache-v2", "cache-v1"} {
		if _, err := OpenBucket(root, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}
	names, err := BucketNames(root)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 || names[0] != "cache-v1" || names[1] != "cache-v2" {
		t.Fatalf("names = %v", names)
	}

	if err := DeleteBucket(root, "cache-v1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	names, err = BucketNames(root)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 1 || names[0] != "cache-v2" {
		t.Fatalf("names after delete = %v", names)
	}

	missing, err := BucketNames(filepath.Join(root, "nope"))
	if err != nil || missing != nil {
		t.Fatalf("missing root: %v %v", missing, err)
	}
}
