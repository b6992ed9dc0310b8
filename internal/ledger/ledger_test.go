package ledger

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Momat2023/frigo-anti-gaspi/internal/kv"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(kv.Open(filepath.Join(t.TempDir(), "local.json")))
}

func mustPush(t *testing.T, l *Ledger, codes ...string) {
	t.Helper()
	for _, c := range codes {
		if err := l.Push(c); err != nil {
			t.Fatalf("Push(%q) error: %v", c, err)
		}
	}
}

func assertHistory(t *testing.T, l *Ledger, want []string) {
	t.Helper()
	got, err := l.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPushMostRecentFirst(t *testing.T) {
	l := newTestLedger(t)
	mustPush(t, l, "111", "222", "333")
	assertHistory(t, l, []string{"333", "222", "111"})
}

func TestPushDeduplicatesMovingToFront(t *testing.T) {
	l := newTestLedger(t)
	mustPush(t, l, "111", "222")

	// Re-pushing an existing code moves it to the front, same length.
	mustPush(t, l, "111")
	assertHistory(t, l, []string{"111", "222"})
}

func TestPushIgnoresBlank(t *testing.T) {
	l := newTestLedger(t)
	mustPush(t, l, "  ", "", "111")
	assertHistory(t, l, []string{"111"})
}

func TestPushCapsAtBound(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < MaxEntries+5; i++ {
		mustPush(t, l, fmt.Sprintf("code-%02d", i))
	}

	got, err := l.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != MaxEntries {
		t.Fatalf("ledger holds %d entries, want %d", len(got), MaxEntries)
	}
	if got[0] != fmt.Sprintf("code-%02d", MaxEntries+4) {
		t.Errorf("newest entry = %q, want the last push", got[0])
	}
}

func TestReplaceNormalizes(t *testing.T) {
	l := newTestLedger(t)
	mustPush(t, l, "old")

	in := []string{"a", " a ", "b", "", "c", "a"}
	if err := l.Replace(in); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}
	assertHistory(t, l, []string{"a", "b", "c"})
}

func TestReplaceCaps(t *testing.T) {
	l := newTestLedger(t)

	var in []string
	for i := 0; i < MaxEntries*2; i++ {
		in = append(in, fmt.Sprintf("c%d", i))
	}
	if err := l.Replace(in); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}

	got, err := l.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != MaxEntries {
		t.Errorf("Replace() kept %d entries, want %d", len(got), MaxEntries)
	}
}
