// Package dashboard event bridging: subsystem events in, broadcast messages out.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/Momat2023/frigo-anti-gaspi/internal/diag"
	"github.com/Momat2023/frigo-anti-gaspi/internal/lifecycle"
	"github.com/Momat2023/frigo-anti-gaspi/internal/snapshot"
)

// Publisher is the subsystem-facing half of the bridge. The serve endpoints
// publish import completions and diagnostics reports through it without
// knowing about WebSocket clients.
type Publisher interface {
	OnImportComplete(result *snapshot.Result)
	OnDiagnostics(report *diag.Report)
}

// Handler bridges subsystem events to the WebSocket server: lifecycle
// transitions from the supervisor, import completions and diagnostics
// snapshots become dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

var _ Publisher = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// WatchLifecycle subscribes to the supervisor and forwards its events until
// ctx is done. Run it in its own goroutine.
func (h *Handler) WatchLifecycle(ctx context.Context, sup *lifecycle.Supervisor) {
	events, cancel := sup.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.onLifecycleEvent(ev)
		}
	}
}

func (h *Handler) onLifecycleEvent(ev lifecycle.Event) {
	if ev.Type == lifecycle.EventReload {
		h.logger.Printf("Generation %d handover, telling clients to reload", ev.Generation)
		h.broadcast(MessageTypeReload, WorkerStateData{
			Event:      string(ev.Type),
			Generation: ev.Generation,
			Bucket:     ev.Bucket,
		})
		return
	}

	h.broadcast(MessageTypeWorkerState, WorkerStateData{
		Event:      string(ev.Type),
		Generation: ev.Generation,
		Bucket:     ev.Bucket,
	})
}

// OnImportComplete broadcasts the outcome of a finished import.
func (h *Handler) OnImportComplete(result *snapshot.Result) {
	h.logger.Printf("Import complete: %s, %d written", result.Mode, result.ItemsWritten)

	h.broadcast(MessageTypeImportComplete, ImportCompleteData{
		Mode:              string(result.Mode),
		ItemsWritten:      result.ItemsWritten,
		DuplicatesDropped: result.DuplicatesDropped,
		MissingKeySkipped: result.MissingKeySkipped,
		SettingsImported:  result.SettingsImported,
		HistoryImported:   result.HistoryImported,
	})
}

// OnDiagnostics broadcasts a collected diagnostics report.
func (h *Handler) OnDiagnostics(report *diag.Report) {
	h.broadcast(MessageTypeDiagnostics, report)
}

func (h *Handler) broadcast(msgType MessageType, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", msgType, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
