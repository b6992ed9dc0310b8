package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Momat2023/frigo-anti-gaspi/internal/kv"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ledger"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *ledger.Ledger) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "frigo.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	led := ledger.New(kv.Open(filepath.Join(dir, "local.json")))
	return New(st, led, "dev_test", nil), st, led
}

// snapshotJSON builds a valid wire document around the given item entries.
func snapshotJSON(t *testing.T, items []map[string]any, extra map[string]any) []byte {
	t.Helper()
	doc := map[string]any{
		"schemaVersion": 1,
		"exportedAt":    1700000000000,
		"deviceId":      "dev_other",
		"items":         items,
	}
	for k, v := range extra {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return data
}

func entry(id any, name string) map[string]any {
	return map[string]any{
		"id":       id,
		"name":     name,
		"category": "Produits laitiers",
		"location": "Frigo",
		"status":   "active",
		"openedAt": 1700000000000,
	}
}

func seedItem(t *testing.T, st *store.Store, id, name string) {
	t.Helper()
	item := &store.Item{ID: id, Name: name, OpenedAt: 1690000000000}
	item.SetDefaults()
	if err := st.Put(context.Background(), item); err != nil {
		t.Fatalf("seed item %s: %v", id, err)
	}
}

func TestPreviewCountsAgreeWithApply(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	text := snapshotJSON(t, []map[string]any{
		entry("a", "Milk"),
		entry("b", "Yogurt"),
		entry("a", "Milk again"),
		{"name": "no id"},
	}, map[string]any{"scanHistory": []string{"111", "222"}})

	preview, err := eng.PreviewImport(text)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.TotalItems != 4 || preview.DuplicatesInFile != 1 || preview.MissingKeyCount != 1 {
		t.Fatalf("unexpected preview: %+v", preview)
	}
	if preview.SettingsPresent {
		t.Fatal("settings should not be present")
	}
	if preview.ScanHistoryCount != 2 {
		t.Fatalf("ScanHistoryCount = %d, want 2", preview.ScanHistoryCount)
	}

	result, err := eng.Apply(context.Background(), text, ModeMerge)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ItemsProcessed != preview.TotalItems {
		t.Fatalf("ItemsProcessed = %d, want %d", result.ItemsProcessed, preview.TotalItems)
	}
	if result.DuplicatesDropped != preview.DuplicatesInFile {
		t.Fatalf("DuplicatesDropped = %d, want %d", result.DuplicatesDropped, preview.DuplicatesInFile)
	}
	if result.MissingKeySkipped != preview.MissingKeyCount {
		t.Fatalf("MissingKeySkipped = %d, want %d", result.MissingKeySkipped, preview.MissingKeyCount)
	}
	if result.ItemsWritten != 2 || result.UniqueItemsInFile != 2 {
		t.Fatalf("written = %d unique = %d, want 2 and 2", result.ItemsWritten, result.UniqueItemsInFile)
	}
}

func TestPreviewMutatesNothing(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	text := snapshotJSON(t, []map[string]any{entry("a", "Milk")}, nil)

	if _, err := eng.PreviewImport(text); err != nil {
		t.Fatalf("preview: %v", err)
	}
	items, err := st.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("preview wrote %d items", len(items))
	}
}

func TestApplyDuplicateKeysLastWins(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	text := snapshotJSON(t, []map[string]any{
		entry("a", "first"),
		entry("a", "second"),
	}, nil)

	if _, err := eng.Apply(context.Background(), text, ModeMerge); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := st.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "second" {
		t.Fatalf("got %+v, want the later occurrence", got)
	}
}

func TestApplyMergeKeepsUnmentionedItems(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedItem(t, st, "local", "Leftovers")
	seedItem(t, st, "a", "Old milk")

	text := snapshotJSON(t, []map[string]any{entry("a", "New milk")}, nil)
	if _, err := eng.Apply(context.Background(), text, ModeMerge); err != nil {
		t.Fatalf("apply: %v", err)
	}

	local, err := st.Get(context.Background(), "local")
	if err != nil || local == nil {
		t.Fatalf("local item gone after merge: %v %v", local, err)
	}
	milk, err := st.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if milk.Name != "New milk" {
		t.Fatalf("overlapping key not overwritten: %q", milk.Name)
	}
}

func TestApplyMergeIsIdempotent(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	text := snapshotJSON(t, []map[string]any{entry("a", "Milk"), entry("b", "Yogurt")}, nil)

	first, err := eng.Apply(context.Background(), text, ModeMerge)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := eng.Apply(context.Background(), text, ModeMerge)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if *first != *second {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
	items, err := st.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("have %d items after double merge, want 2", len(items))
	}
}

func TestApplyReplaceIsExact(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedItem(t, st, "local", "Leftovers")

	text := snapshotJSON(t, []map[string]any{entry("a", "Milk")}, nil)
	result, err := eng.Apply(context.Background(), text, ModeReplace)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ItemsWritten != 1 {
		t.Fatalf("ItemsWritten = %d, want 1", result.ItemsWritten)
	}

	items, err := st.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("store contents after replace: %+v", items)
	}
}

func TestApplyRejectsWrongSchemaVersion(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedItem(t, st, "local", "Leftovers")

	for _, text := range []string{
		`{"schemaVersion":2,"items":[]}`,
		`{"schemaVersion":"1.0.0","items":[]}`,
		`{"items":[]}`,
	} {
		_, err := eng.Apply(context.Background(), []byte(text), ModeReplace)
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("Apply(%s) error = %v, want ParseError", text, err)
		}
	}

	// The rejection happened before any write; replace mode in particular
	// must not have cleared the store.
	items, err := st.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("store mutated by rejected import: %+v", items)
	}
}

func TestApplyRejectsNonArrayItems(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedItem(t, st, "keep", "Beurre")
	for _, text := range []string{
		`{"schemaVersion":1}`,
		`{"schemaVersion":1,"items":null}`,
		`{"schemaVersion":1,"items":{"a":1}}`,
		`not json`,
	} {
		_, err := eng.PreviewImport([]byte(text))
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("PreviewImport(%s) error = %v, want ParseError", text, err)
		}
		// Replace mode must hit the same gate before clearing anything.
		if _, err := eng.Apply(context.Background(), []byte(text), ModeReplace); !errors.As(err, &parseErr) {
			t.Fatalf("Apply(%s, replace) error = %v, want ParseError", text, err)
		}
	}
	got, err := st.Get(context.Background(), "keep")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("seeded item destroyed by rejected snapshot")
	}
}

func TestApplyMergeCountsWriteErrors(t *testing.T) {
	// A record the store refuses must not sink the rest of the merge: it is
	// counted and the remaining records still written.
	eng, st, _ := newTestEngine(t)
	bad := entry("b", "Poisson")
	bad["status"] = "mangé hier"
	text := snapshotJSON(t, []map[string]any{
		entry("a", "Lait"),
		bad,
		entry("c", "Oeufs"),
	}, nil)

	result, err := eng.Apply(context.Background(), text, ModeMerge)
	if err == nil {
		t.Fatal("apply with unwritable record returned nil error")
	}
	if result.ItemsWritten != 2 || result.WriteErrors != 1 {
		t.Fatalf("result = %+v, want 2 written, 1 write error", result)
	}
	for _, id := range []string{"a", "c"} {
		got, err := st.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got == nil {
			t.Errorf("item %s not written despite earlier failure", id)
		}
	}
	if got, _ := st.Get(context.Background(), "b"); got != nil {
		t.Errorf("unwritable record landed in store: %+v", got)
	}
}

func TestApplyNumericIDsMatchStringIDs(t *testing.T) {
	// First-generation exports carry integer ids. They must dedup and merge
	// against the same record keyed by the decimal string.
	eng, st, _ := newTestEngine(t)
	text := snapshotJSON(t, []map[string]any{
		entry(1714000000000, "numeric"),
		entry("1714000000000", "string"),
	}, nil)

	result, err := eng.Apply(context.Background(), text, ModeMerge)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.UniqueItemsInFile != 1 || result.DuplicatesDropped != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	got, err := st.Get(context.Background(), "1714000000000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "string" {
		t.Fatalf("got %+v, want last occurrence under decimal key", got)
	}
}

func TestApplyImportsSettingsAndHistory(t *testing.T) {
	eng, st, led := newTestEngine(t)
	if err := led.Push("999"); err != nil {
		t.Fatalf("push: %v", err)
	}

	text := snapshotJSON(t, []map[string]any{}, map[string]any{
		"settings": map[string]any{
			"notificationsEnabled": true,
			"defaultLocation":      "Congélateur",
			"defaultTargetDays":    5,
		},
		"scanHistory": []any{"111", "222", 42, "111"},
	})
	result, err := eng.Apply(context.Background(), text, ModeMerge)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.SettingsImported || !result.HistoryImported {
		t.Fatalf("unexpected result: %+v", result)
	}

	settings, err := st.GetSettings(context.Background())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if !settings.NotificationsEnabled || settings.DefaultLocation != store.LocationFreezer {
		t.Fatalf("settings not replaced: %+v", settings)
	}

	history, err := led.List()
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// Wholesale replacement, normalized: non-strings dropped, dedup keeps
	// the first occurrence, prior entries gone.
	want := []string{"111", "222"}
	if len(history) != len(want) {
		t.Fatalf("history = %v, want %v", history, want)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("history = %v, want %v", history, want)
		}
	}
}

func TestApplyWithoutSettingsLeavesSettingsAlone(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	if _, err := st.SaveSettings(context.Background(), store.SettingsPatch{DefaultTargetDays: intPtr(9)}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	text := snapshotJSON(t, []map[string]any{entry("a", "Milk")}, nil)
	if _, err := eng.Apply(context.Background(), text, ModeMerge); err != nil {
		t.Fatalf("apply: %v", err)
	}

	settings, err := st.GetSettings(context.Background())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.DefaultTargetDays != 9 {
		t.Fatalf("settings clobbered by file without settings: %+v", settings)
	}
}

func TestExportFiltersArchived(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedItem(t, st, "a", "Milk")
	seedItem(t, st, "b", "Yogurt")
	if err := st.SetStatus(context.Background(), "b", store.StatusEaten); err != nil {
		t.Fatalf("set status: %v", err)
	}

	snap, err := eng.Export(context.Background(), Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snap.Items) != 1 || snap.Items[0].ID != "a" {
		t.Fatalf("active-only export: %+v", snap.Items)
	}
	if snap.Settings != nil || snap.ScanHistory != nil {
		t.Fatalf("export included optional sections: %+v", snap)
	}

	full, err := eng.Export(context.Background(), AllOptions())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(full.Items) != 2 {
		t.Fatalf("full export has %d items, want 2", len(full.Items))
	}
	if full.SchemaVersion != SchemaVersion || full.DeviceID != "dev_test" {
		t.Fatalf("bad envelope: %+v", full)
	}
	if full.Settings == nil {
		t.Fatal("full export missing settings")
	}
}

func TestExportRoundTripsThroughApply(t *testing.T) {
	eng, st, led := newTestEngine(t)
	seedItem(t, st, "a", "Milk")
	if err := led.Push("111"); err != nil {
		t.Fatalf("push: %v", err)
	}

	snap, err := eng.Export(context.Background(), AllOptions())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	eng2, st2, _ := newTestEngine(t)
	result, err := eng2.Apply(context.Background(), data, ModeReplace)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ItemsWritten != 1 || !result.SettingsImported || !result.HistoryImported {
		t.Fatalf("unexpected result: %+v", result)
	}
	got, err := st2.Get(context.Background(), "a")
	if err != nil || got == nil {
		t.Fatalf("item missing after round trip: %v %v", got, err)
	}
	if got.Name != "Milk" {
		t.Fatalf("Name = %q", got.Name)
	}
}

func TestBackupWritesFullExport(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedItem(t, st, "a", "Milk")
	seedItem(t, st, "b", "Yogurt")
	if err := st.SetStatus(context.Background(), "b", store.StatusThrown); err != nil {
		t.Fatalf("set status: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "backups")
	path, err := eng.Backup(context.Background(), dir)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "frigo.backup.") {
		t.Fatalf("unexpected backup name %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal backup: %v", err)
	}
	if len(snap.Items) != 2 {
		t.Fatalf("backup has %d items, want archived included", len(snap.Items))
	}
	if snap.Settings == nil {
		t.Fatal("backup missing settings")
	}
}

func intPtr(v int) *int { return &v }
