// Package diag collects a support snapshot of the subsystem's state. Every
// probe is individually fault tolerant: a broken store or an unreadable cache
// directory yields an empty section and a note, never a failed report. The
// whole point of the report is debugging exactly those situations.
package diag

import (
	"context"
	"fmt"
	"time"

	"github.com/Momat2023/frigo-anti-gaspi/internal/kv"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ledger"
	"github.com/Momat2023/frigo-anti-gaspi/internal/lifecycle"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
)

// Sources are the subsystems a report can cover. Any of them may be nil;
// their sections come back empty.
type Sources struct {
	Store      *store.Store
	KV         *kv.Store
	Ledger     *ledger.Ledger
	Supervisor *lifecycle.Supervisor
	CacheRoot  string
	DeviceID   string
}

// StoreInfo describes the record store.
type StoreInfo struct {
	Path          string               `json:"path"`
	SchemaVersion int                  `json:"schemaVersion"`
	ItemCounts    map[store.Status]int `json:"itemCounts,omitempty"`
}

// Report is one collected diagnostics snapshot.
type Report struct {
	CollectedAt      int64                    `json:"collectedAt"`
	DeviceID         string                   `json:"deviceId,omitempty"`
	Store            *StoreInfo               `json:"store,omitempty"`
	Buckets          []string                 `json:"buckets,omitempty"`
	Workers          []lifecycle.WorkerStatus `json:"workers,omitempty"`
	ActiveGeneration int                      `json:"activeGeneration,omitempty"`
	KVKeys           []string                 `json:"kvKeys,omitempty"`
	ScanHistoryCount int                      `json:"scanHistoryCount"`
	Notes            []string                 `json:"notes,omitempty"`
}

// Collect builds a report from whatever sources are available. It never
// fails; probes that error leave a note instead.
func Collect(ctx context.Context, src Sources) *Report {
	r := &Report{
		CollectedAt: time.Now().UnixMilli(),
		DeviceID:    src.DeviceID,
	}

	if src.Store != nil {
		info := &StoreInfo{Path: src.Store.Path()}
		if v, err := src.Store.Version(ctx); err != nil {
			r.note("store version: %v", err)
		} else {
			info.SchemaVersion = v
		}
		if counts, err := src.Store.CountByStatus(ctx); err != nil {
			r.note("store counts: %v", err)
		} else {
			info.ItemCounts = counts
		}
		r.Store = info
	}

	if src.CacheRoot != "" {
		if names, err := lifecycle.BucketNames(src.CacheRoot); err != nil {
			r.note("buckets: %v", err)
		} else {
			r.Buckets = names
		}
	}

	if src.Supervisor != nil {
		r.Workers = src.Supervisor.States()
		r.ActiveGeneration = src.Supervisor.ActiveGeneration()
	}

	if src.KV != nil {
		r.KVKeys = src.KV.Keys()
	}

	if src.Ledger != nil {
		if history, err := src.Ledger.List(); err != nil {
			r.note("scan history: %v", err)
		} else {
			r.ScanHistoryCount = len(history)
		}
	}

	return r
}

func (r *Report) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}
