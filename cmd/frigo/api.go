package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Momat2023/frigo-anti-gaspi/internal/metrics"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
)

// newAPIHandler exposes the record store as the JSON API the app shell
// consumes. Read endpoints only; mutations go through the CLI or the serve
// mux import endpoint.
func newAPIHandler(st *store.Store) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/items", func(w http.ResponseWriter, r *http.Request) {
		var (
			items []*store.Item
			err   error
		)
		if r.URL.Query().Get("all") == "1" {
			items, err = st.ListAll(r.Context())
		} else {
			items, err = st.ListActive(r.Context())
		}
		metrics.Observe(metrics.StoreOps, "list", err)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, items)
	})

	mux.HandleFunc("GET /api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		item, err := st.Get(r.Context(), r.PathValue("id"))
		metrics.Observe(metrics.StoreOps, "get", err)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if item == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, item)
	})

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := st.ComputeStats(r.Context())
		metrics.Observe(metrics.StoreOps, "stats", err)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("GET /api/expiry", func(w http.ResponseWriter, r *http.Request) {
		counts, err := st.ExpiryCounts(r.Context(), time.Now())
		metrics.Observe(metrics.StoreOps, "expiry", err)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, counts)
	})

	mux.HandleFunc("GET /api/settings", func(w http.ResponseWriter, r *http.Request) {
		settings, err := st.GetSettings(r.Context())
		metrics.Observe(metrics.StoreOps, "settings", err)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, settings)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
