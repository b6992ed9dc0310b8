package kv

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "local.json"))
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("greeting", "bonjour"); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	var got string
	ok, err := s.Get("greeting", &got)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok || got != "bonjour" {
		t.Errorf("Get() = (%q, %v), want (bonjour, true)", got, ok)
	}

	if err := s.Delete("greeting"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	ok, err = s.Get("greeting", &got)
	if err != nil {
		t.Fatalf("Get() after delete error: %v", err)
	}
	if ok {
		t.Error("key survived Delete()")
	}
}

func TestMissingFileReadsAsEmpty(t *testing.T) {
	s := newTestStore(t)

	var v int
	ok, err := s.Get("anything", &v)
	if err != nil {
		t.Fatalf("Get() on missing file error: %v", err)
	}
	if ok {
		t.Error("Get() reported a hit on a missing file")
	}
	if keys := s.Keys(); len(keys) != 0 {
		t.Errorf("Keys() on missing file = %v, want empty", keys)
	}
}

func TestCorruptFileReadsAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to seed corrupt file: %v", err)
	}
	s := Open(path)

	var v string
	ok, err := s.Get("key", &v)
	if err != nil {
		t.Fatalf("Get() on corrupt file error: %v", err)
	}
	if ok {
		t.Error("Get() reported a hit on a corrupt file")
	}

	// Writing over the corrupt file must succeed and stick.
	if err := s.Put("key", "value"); err != nil {
		t.Fatalf("Put() over corrupt file error: %v", err)
	}
	ok, err = s.Get("key", &v)
	if err != nil || !ok || v != "value" {
		t.Errorf("Get() after recovery = (%q, %v, %v), want (value, true, nil)", v, ok, err)
	}
}

func TestKeysSorted(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []string{"zeta", "alpha", "mid"} {
		if err := s.Put(k, 1); err != nil {
			t.Fatalf("Put(%q) error: %v", k, err)
		}
	}

	keys := s.Keys()
	want := []string{"alpha", "mid", "zeta"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestDeviceIDStable(t *testing.T) {
	s := newTestStore(t)

	first, err := DeviceID(s)
	if err != nil {
		t.Fatalf("DeviceID() error: %v", err)
	}
	if first == "" {
		t.Fatal("DeviceID() returned empty id")
	}

	second, err := DeviceID(s)
	if err != nil {
		t.Fatalf("DeviceID() second call error: %v", err)
	}
	if second != first {
		t.Errorf("DeviceID() changed between calls: %q then %q", first, second)
	}
}
