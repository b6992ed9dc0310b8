// Package snapshot implements the reconciliation engine: export
// serialization, import parsing and validation, the dry-run preview, and
// merge/replace application against the live record store.
//
// The engine owns no state of its own; it reads and writes only through the
// record store and the scan-history ledger.
package snapshot

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Momat2023/frigo-anti-gaspi/internal/ledger"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
)

// SchemaVersion is the one snapshot wire version this engine understands.
// Equality is a strict gate: any other value, including a string "1", is
// rejected before a single store mutation.
const SchemaVersion = 1

// Snapshot is the versioned export wire format. Unknown extra top-level
// fields are ignored on import, not rejected.
type Snapshot struct {
	SchemaVersion int             `json:"schemaVersion"`
	ExportedAt    int64           `json:"exportedAt"`
	DeviceID      string          `json:"deviceId"`
	Items         []store.Item    `json:"items"`
	Settings      *store.Settings `json:"settings,omitempty"`
	ScanHistory   []string        `json:"scanHistory,omitempty"`
}

// Options selects what an export includes.
type Options struct {
	IncludeArchived    bool
	IncludeSettings    bool
	IncludeScanHistory bool
}

// AllOptions exports everything; the mandatory pre-replace backup uses it.
func AllOptions() Options {
	return Options{IncludeArchived: true, IncludeSettings: true, IncludeScanHistory: true}
}

// Engine wires the reconciliation operations to their collaborators.
type Engine struct {
	store    *store.Store
	ledger   *ledger.Ledger
	deviceID string
	logger   *log.Logger
}

// New creates an engine. If logger is nil a default stderr logger is used.
func New(st *store.Store, led *ledger.Ledger, deviceID string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[snapshot] ", log.LstdFlags)
	}
	return &Engine{
		store:    st,
		ledger:   led,
		deviceID: deviceID,
		logger:   logger,
	}
}

// Export reads the selected state into a Snapshot. Pure read, no side
// effects.
func (e *Engine) Export(ctx context.Context, opts Options) (*Snapshot, error) {
	var (
		items []*store.Item
		err   error
	)
	if opts.IncludeArchived {
		items, err = e.store.ListAll(ctx)
	} else {
		items, err = e.store.ListActive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		ExportedAt:    time.Now().UnixMilli(),
		DeviceID:      e.deviceID,
		Items:         make([]store.Item, 0, len(items)),
	}
	for _, item := range items {
		snap.Items = append(snap.Items, *item)
	}

	if opts.IncludeSettings {
		settings, err := e.store.GetSettings(ctx)
		if err != nil {
			return nil, fmt.Errorf("export settings: %w", err)
		}
		snap.Settings = settings
	}

	if opts.IncludeScanHistory {
		history, err := e.ledger.List()
		if err != nil {
			return nil, fmt.Errorf("export scan history: %w", err)
		}
		snap.ScanHistory = history
	}

	return snap, nil
}

// ExportPreview summarizes what an export with the given options would
// contain, without serializing anything.
type ExportPreview struct {
	TotalItems       int  `json:"totalItems"`
	ArchivedItems    int  `json:"archivedItems"`
	IncludedItems    int  `json:"includedItems"`
	ScanHistoryCount int  `json:"scanHistoryCount"`
	IncludesSettings bool `json:"includesSettings"`
}

// PreviewExport computes the export preview shown before download.
func (e *Engine) PreviewExport(ctx context.Context, opts Options) (*ExportPreview, error) {
	counts, err := e.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("export preview: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	archived := total - counts[store.StatusActive]

	preview := &ExportPreview{
		TotalItems:       total,
		ArchivedItems:    archived,
		IncludedItems:    total,
		IncludesSettings: opts.IncludeSettings,
	}
	if !opts.IncludeArchived {
		preview.IncludedItems = counts[store.StatusActive]
	}
	if opts.IncludeScanHistory {
		history, err := e.ledger.List()
		if err != nil {
			return nil, fmt.Errorf("export preview: %w", err)
		}
		preview.ScanHistoryCount = len(history)
	}
	return preview, nil
}
