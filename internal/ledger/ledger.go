// Package ledger keeps the scan-history ledger: a bounded, deduplicated,
// most-recent-first log of raw barcode values. It lives in the key-value
// namespace, outside the record store, and is exported/imported alongside
// items as auxiliary state.
package ledger

import (
	"strings"

	"github.com/Momat2023/frigo-anti-gaspi/internal/kv"
)

// MaxEntries bounds the ledger. Pushing beyond the bound drops the oldest
// entry.
const MaxEntries = 10

// historyKey matches the original namespace key, version suffix included.
const historyKey = "scanHistory:v1"

// Ledger is the bounded scan log.
type Ledger struct {
	kv *kv.Store
}

// New returns a ledger over the given namespace.
func New(store *kv.Store) *Ledger {
	return &Ledger{kv: store}
}

// List returns the history, most recent first.
func (l *Ledger) List() ([]string, error) {
	var codes []string
	if _, err := l.kv.Get(historyKey, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Push records a scan at the front of the ledger. Whitespace-only codes are
// ignored; a repeated code moves to the front without growing the list.
func (l *Ledger) Push(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}

	current, err := l.List()
	if err != nil {
		return err
	}

	next := make([]string, 0, len(current)+1)
	next = append(next, code)
	for _, c := range current {
		if c != code {
			next = append(next, c)
		}
	}
	if len(next) > MaxEntries {
		next = next[:MaxEntries]
	}
	return l.kv.Put(historyKey, next)
}

// Replace overwrites the ledger wholesale, applying the same normalization
// as individual pushes: trim, drop empties, dedup keeping the first (most
// recent) occurrence, cap at the bound. Used by snapshot import.
func (l *Ledger) Replace(codes []string) error {
	return l.kv.Put(historyKey, Normalize(codes))
}

// Normalize applies the ledger's dedup and bound rules to a raw code list.
func Normalize(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	next := make([]string, 0, MaxEntries)
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		next = append(next, c)
		if len(next) == MaxEntries {
			break
		}
	}
	return next
}
