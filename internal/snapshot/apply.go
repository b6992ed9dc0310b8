package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Momat2023/frigo-anti-gaspi/internal/metrics"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
)

// Mode selects how imported items reconcile with stored ones.
type Mode string

const (
	// ModeMerge upserts imported items over existing ones by key; items
	// absent from the file are left alone.
	ModeMerge Mode = "merge"
	// ModeReplace makes the store's contents exactly the file's unique
	// items.
	ModeReplace Mode = "replace"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool { return m == ModeMerge || m == ModeReplace }

// Preview summarizes what an import would do. Computing it mutates nothing.
type Preview struct {
	TotalItems       int  `json:"totalItems"`
	MissingKeyCount  int  `json:"missingKeyCount"`
	DuplicatesInFile int  `json:"duplicatesInFile"`
	SettingsPresent  bool `json:"settingsPresent"`
	ScanHistoryCount int  `json:"scanHistoryCount"`
}

// Result reports what an Apply actually did. WriteErrors is only ever
// non-zero in merge mode, where per-record failures are counted and the
// remaining records still written.
type Result struct {
	Mode              Mode `json:"mode"`
	ItemsProcessed    int  `json:"itemsProcessed"`
	UniqueItemsInFile int  `json:"uniqueItemsInFile"`
	ItemsWritten      int  `json:"itemsWritten"`
	WriteErrors       int  `json:"writeErrors"`
	DuplicatesDropped int  `json:"duplicatesDropped"`
	MissingKeySkipped int  `json:"missingKeySkipped"`
	SettingsImported  bool `json:"settingsImported"`
	HistoryImported   bool `json:"historyImported"`
}

// PreviewImport validates text and reports what applying it would do. The
// counts come from the same parse and dedup pass Apply uses, so a preview
// followed by an apply of the identical text always agrees with the result.
func (e *Engine) PreviewImport(text []byte) (*Preview, error) {
	parsed, err := parseSnapshot(text)
	if err != nil {
		return nil, err
	}

	extract := keyExtractor(e.store.KeyPath())
	seen := make(map[string]bool)
	preview := &Preview{
		TotalItems:       len(parsed.records),
		SettingsPresent:  parsed.hasSettings,
		ScanHistoryCount: len(parsed.history),
	}
	for _, rec := range parsed.records {
		key, ok := extract(rec.fields)
		if !ok {
			preview.MissingKeyCount++
			continue
		}
		if seen[key] {
			preview.DuplicatesInFile++
			continue
		}
		seen[key] = true
	}
	return preview, nil
}

// Apply imports text into the store in the given mode. Validation failures
// return a ParseError before anything is written. In-file duplicates resolve
// last-wins. Replace mode swaps the store's items in one transaction; merge
// mode upserts item by item, counting failed records into WriteErrors and
// writing the rest, so a bad record never sinks the whole import. A merge
// with write errors returns the partial Result alongside the error.
func (e *Engine) Apply(ctx context.Context, text []byte, mode Mode) (*Result, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown import mode %q", mode)
	}
	parsed, err := parseSnapshot(text)
	if err != nil {
		metrics.ImportRuns.WithLabelValues(string(mode), "invalid").Inc()
		return nil, err
	}

	extract := keyExtractor(e.store.KeyPath())
	result := &Result{Mode: mode, ItemsProcessed: len(parsed.records)}

	// Last-wins dedup in first-seen key order.
	index := make(map[string]int)
	var order []string
	winners := make(map[string]store.Item)
	for _, rec := range parsed.records {
		key, ok := extract(rec.fields)
		if !ok {
			result.MissingKeySkipped++
			metrics.ImportItems.WithLabelValues("missing_key").Inc()
			continue
		}
		if _, dup := index[key]; dup {
			result.DuplicatesDropped++
			metrics.ImportItems.WithLabelValues("duplicate").Inc()
		} else {
			index[key] = len(order)
			order = append(order, key)
		}
		winners[key] = rec.item
	}
	result.UniqueItemsInFile = len(order)

	items := make([]*store.Item, 0, len(order))
	for _, key := range order {
		item := winners[key]
		items = append(items, &item)
	}

	switch mode {
	case ModeReplace:
		written, err := e.store.ReplaceItems(ctx, items)
		if err != nil {
			metrics.ImportRuns.WithLabelValues(string(mode), "error").Inc()
			return result, fmt.Errorf("replace items: %w", err)
		}
		result.ItemsWritten = written
	case ModeMerge:
		var firstErr error
		for _, item := range items {
			if err := e.store.Put(ctx, item); err != nil {
				result.WriteErrors++
				metrics.ImportItems.WithLabelValues("write_error").Inc()
				if firstErr == nil {
					firstErr = err
				}
				e.logger.Printf("merge item %s: %v", item.ID, err)
				continue
			}
			result.ItemsWritten++
		}
		if firstErr != nil {
			metrics.ImportRuns.WithLabelValues(string(mode), "error").Inc()
			metrics.ImportItems.WithLabelValues("written").Add(float64(result.ItemsWritten))
			return result, fmt.Errorf("merge wrote %d of %d items, first failure: %w",
				result.ItemsWritten, result.UniqueItemsInFile, firstErr)
		}
	}
	metrics.ImportItems.WithLabelValues("written").Add(float64(result.ItemsWritten))

	if parsed.hasSettings {
		if err := e.store.ReplaceSettings(ctx, *parsed.settings); err != nil {
			metrics.ImportRuns.WithLabelValues(string(mode), "error").Inc()
			return result, fmt.Errorf("import settings: %w", err)
		}
		result.SettingsImported = true
	}

	if parsed.hasHistory {
		if err := e.ledger.Replace(parsed.history); err != nil {
			metrics.ImportRuns.WithLabelValues(string(mode), "error").Inc()
			return result, fmt.Errorf("import scan history: %w", err)
		}
		result.HistoryImported = true
	}

	metrics.ImportRuns.WithLabelValues(string(mode), "ok").Inc()
	e.logger.Printf("import %s: %d written, %d duplicates, %d missing key",
		mode, result.ItemsWritten, result.DuplicatesDropped, result.MissingKeySkipped)
	return result, nil
}

// Backup writes a full export into dir and returns the file path. Replace
// imports take one automatically before touching the store.
func (e *Engine) Backup(ctx context.Context, dir string) (string, error) {
	snap, err := e.Export(ctx, AllOptions())
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	name := "frigo.backup." + time.Now().Format("20060102-150405") + ".json"
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		// Same-second backups get a uniquifying suffix.
		path = filepath.Join(dir, "frigo.backup."+time.Now().Format("20060102-150405")+"."+strconv.FormatInt(time.Now().UnixNano()%1000, 10)+".json")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	e.logger.Printf("backup written to %s (%d items)", path, len(snap.Items))
	return path, nil
}
