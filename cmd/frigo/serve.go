package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Momat2023/frigo-anti-gaspi/internal/config"
	"github.com/Momat2023/frigo-anti-gaspi/internal/dashboard"
	"github.com/Momat2023/frigo-anti-gaspi/internal/diag"
	"github.com/Momat2023/frigo-anti-gaspi/internal/kv"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ledger"
	"github.com/Momat2023/frigo-anti-gaspi/internal/lifecycle"
	"github.com/Momat2023/frigo-anti-gaspi/internal/snapshot"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline-capable shell server",
	Long: `Serve the app shell through the cache-lifecycle manager.

Requests flow through the active cache generation: navigations and API calls
are network-first with offline fallbacks, static assets are cache-first. New
release manifests dropped into the releases directory install a waiting
generation; POST /worker/skip-waiting promotes it.

Also exposed: /metrics (Prometheus), /diagnostics, /worker/states, a POST
/import endpoint for snapshots, and the WebSocket dashboard on its own
port.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := serveLogger(cfg.LogFile)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st := openStore(ctx, cfg)
		defer st.Close()
		local := openKV(cfg)
		led := ledger.New(local)
		deviceID, err := kv.DeviceID(local)
		if err != nil {
			fatalf("resolving device id: %v", err)
		}

		policy := lifecycle.DefaultPolicy()
		if cfg.PolicyFile != "" {
			policy, err = lifecycle.LoadPolicy(cfg.PolicyFile)
			if err != nil {
				fatalf("loading policy: %v", err)
			}
		}

		upstream, err := buildUpstream(cfg, st)
		if err != nil {
			fatalf("building upstream: %v", err)
		}

		sup := lifecycle.NewSupervisor(cfg.CachePath(), policy, upstream, logger)

		dash := dashboard.NewServer(&dashboard.Config{Port: cfg.DashboardPort, Logger: logger})
		if err := dash.Start(); err != nil {
			fatalf("starting dashboard: %v", err)
		}
		defer dash.Stop()
		handler := dashboard.NewHandler(dash, logger)
		go handler.WatchLifecycle(ctx, sup)

		go func() {
			err := sup.Watch(ctx, cfg.ReleasesPath(), cfg.WatchDebounce)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("release watcher stopped: %v", err)
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("/", sup)
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("POST /worker/skip-waiting", func(w http.ResponseWriter, r *http.Request) {
			worker, err := sup.SkipWaiting(r.Context())
			if errors.Is(err, lifecycle.ErrNoWaitingWorker) {
				http.Error(w, "no waiting worker", http.StatusConflict)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"activated": worker.Generation(),
			})
		})
		mux.HandleFunc("GET /worker/states", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sup.States())
		})
		engine := snapshot.New(st, led, deviceID, logger)
		mux.HandleFunc("POST /import", func(w http.ResponseWriter, r *http.Request) {
			handleImport(w, r, engine, cfg, handler)
		})
		mux.HandleFunc("GET /diagnostics", func(w http.ResponseWriter, r *http.Request) {
			report := diag.Collect(r.Context(), diag.Sources{
				Store:      st,
				KV:         local,
				Ledger:     led,
				Supervisor: sup,
				CacheRoot:  cfg.CachePath(),
				DeviceID:   deviceID,
			})
			handler.OnDiagnostics(report)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(report)
		})

		server := &http.Server{
			Addr:         cfg.ServeAddr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Printf("shutdown: %v", err)
			}
		}()

		fmt.Printf("%s Serving on %s (dashboard %s)\n",
			ui.RenderAccent("🚀"), cfg.ServeAddr, dash.GetAddr())
		fmt.Printf("   Releases: %s\n", cfg.ReleasesPath())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatalf("server: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// maxSnapshotBytes caps uploaded snapshot size on the import endpoint.
const maxSnapshotBytes = 32 << 20

// handleImport applies an uploaded snapshot and publishes the outcome to the
// dashboard. Replace mode takes the same automatic backup the CLI does.
func handleImport(w http.ResponseWriter, r *http.Request, engine *snapshot.Engine, cfg *config.Config, pub dashboard.Publisher) {
	mode := snapshot.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = snapshot.ModeMerge
	}
	if !mode.Valid() {
		http.Error(w, fmt.Sprintf("unknown mode %q", mode), http.StatusBadRequest)
		return
	}

	text, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	if mode == snapshot.ModeReplace {
		if _, err := engine.Backup(r.Context(), cfg.BackupPath()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	result, err := engine.Apply(r.Context(), text, mode)
	if err != nil {
		var parseErr *snapshot.ParseError
		if errors.As(err, &parseErr) {
			http.Error(w, parseErr.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pub.OnImportComplete(result)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// serveLogger logs to the configured file with rotation, or to stderr.
func serveLogger(file string) *log.Logger {
	if file == "" {
		return log.New(os.Stderr, "[serve] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, "[serve] ", log.LstdFlags)
}

// buildUpstream fronts either a remote origin (upstream_url) or the local
// site directory plus the built-in inventory API.
func buildUpstream(cfg *config.Config, st *store.Store) (lifecycle.Upstream, error) {
	if cfg.UpstreamURL != "" {
		base, err := url.Parse(cfg.UpstreamURL)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream url: %w", err)
		}
		client := &http.Client{Timeout: 10 * time.Second}
		return lifecycle.UpstreamFunc(func(r *http.Request) (*http.Response, error) {
			u := *base
			u.Path = r.URL.Path
			u.RawQuery = r.URL.RawQuery
			req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), r.Body)
			if err != nil {
				return nil, err
			}
			req.Header = r.Header.Clone()
			return client.Do(req)
		}), nil
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", newAPIHandler(st))
	mux.Handle("/", http.FileServer(http.Dir(filepath.Join(cfg.DataDir, "site"))))
	return lifecycle.HandlerUpstream(mux), nil
}
