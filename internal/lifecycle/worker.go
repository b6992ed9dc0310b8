package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/Momat2023/frigo-anti-gaspi/internal/metrics"
)

// Upstream fetches the authoritative response for a request. An error, like a
// failed network fetch, is what triggers the offline fallbacks; a served
// error status is still a response.
type Upstream interface {
	Fetch(r *http.Request) (*http.Response, error)
}

// UpstreamFunc adapts a function to the Upstream interface.
type UpstreamFunc func(r *http.Request) (*http.Response, error)

func (f UpstreamFunc) Fetch(r *http.Request) (*http.Response, error) { return f(r) }

// HandlerUpstream adapts an in-process http.Handler into an Upstream. Server
// errors (5xx) from the handler count as fetch failures so the offline
// strategies engage.
func HandlerUpstream(h http.Handler) Upstream {
	return UpstreamFunc(func(r *http.Request) (*http.Response, error) {
		rec := newRecorder()
		h.ServeHTTP(rec, r)
		if rec.status >= http.StatusInternalServerError {
			return nil, fmt.Errorf("upstream returned %d", rec.status)
		}
		return rec.response(r), nil
	})
}

type recorder struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{status: http.StatusOK, header: make(http.Header)}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) { r.status = status }

func (r *recorder) Write(p []byte) (int, error) { return r.body.Write(p) }

func (r *recorder) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: r.status,
		Header:     r.header,
		Body:       io.NopCloser(bytes.NewReader(r.body.Bytes())),
		Request:    req,
	}
}

// Worker serves one generation of the offline cache. It is created, installed
// and promoted by the Supervisor; it serves requests only while activated.
type Worker struct {
	manifest *Manifest
	policy   Policy
	bucket   *Bucket
	upstream Upstream
	root     string
	logger   *log.Logger

	mu    sync.RWMutex
	state State
}

// NewWorker builds a worker for the given release. Its bucket is opened (and
// created if absent) immediately; nothing is cached until Install.
func NewWorker(root string, m *Manifest, p Policy, up Upstream, logger *log.Logger) (*Worker, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[lifecycle] ", log.LstdFlags)
	}
	bucket, err := OpenBucket(root, m.Bucket)
	if err != nil {
		return nil, err
	}
	return &Worker{
		manifest: m,
		policy:   p,
		bucket:   bucket,
		upstream: up,
		root:     root,
		logger:   logger,
		state:    StateInstalling,
	}, nil
}

// Generation returns the release generation this worker serves.
func (wk *Worker) Generation() int { return wk.manifest.Generation }

// BucketName returns the name of the cache bucket this worker owns.
func (wk *Worker) BucketName() string { return wk.bucket.Name() }

// State returns the worker's current lifecycle state.
func (wk *Worker) State() State {
	wk.mu.RLock()
	defer wk.mu.RUnlock()
	return wk.state
}

func (wk *Worker) setState(s State) {
	wk.mu.Lock()
	wk.state = s
	wk.mu.Unlock()
	metrics.WorkerTransitions.WithLabelValues(s.String()).Inc()
	wk.logger.Printf("worker gen %d: %s", wk.manifest.Generation, s)
}

func (wk *Worker) shellOnly() bool {
	return wk.manifest.ShellOnly || wk.policy.ShellOnly
}

// Install precaches the shell. Any precache failure fails the whole install
// and the worker becomes redundant; a half-precached worker must never
// activate. Install never promotes the worker past the waiting state.
func (wk *Worker) Install(ctx context.Context) error {
	wk.setState(StateInstalling)

	paths := make([]string, 0, len(wk.manifest.Precache)+1)
	seen := map[string]bool{}
	for _, p := range append([]string{wk.policy.OfflinePath}, wk.manifest.Precache...) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, p := range paths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p, nil)
		if err != nil {
			wk.setState(StateRedundant)
			return fmt.Errorf("failed to precache %s: %w", p, err)
		}
		entry, err := wk.fetch(req)
		if err != nil {
			wk.setState(StateRedundant)
			return fmt.Errorf("failed to precache %s: %w", p, err)
		}
		if entry.Status >= http.StatusBadRequest {
			wk.setState(StateRedundant)
			return fmt.Errorf("failed to precache %s: status %d", p, entry.Status)
		}
		if err := wk.bucket.Put(CacheKey(req), entry); err != nil {
			wk.setState(StateRedundant)
			return err
		}
	}

	wk.setState(StateInstalled)
	return nil
}

// Activate claims the active slot: every bucket under the root whose name is
// not this worker's is deleted. Old generations lose their caches here, not
// during install, so the outgoing worker keeps working until the handover.
func (wk *Worker) Activate(ctx context.Context) error {
	wk.setState(StateActivating)

	names, err := BucketNames(wk.root)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == wk.bucket.Name() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := DeleteBucket(wk.root, name); err != nil {
			return err
		}
		wk.logger.Printf("worker gen %d: deleted stale bucket %s", wk.manifest.Generation, name)
	}

	wk.setState(StateActivated)
	return nil
}

// Discard marks the worker redundant. Idempotent.
func (wk *Worker) Discard() {
	if wk.State() == StateRedundant {
		return
	}
	wk.setState(StateRedundant)
}

func (wk *Worker) fetch(r *http.Request) (*Entry, error) {
	resp, err := wk.upstream.Fetch(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream body: %w", err)
	}
	header := make(http.Header, len(resp.Header))
	for k, v := range resp.Header {
		header[k] = v
	}
	return &Entry{Status: resp.StatusCode, Header: header, Body: body}, nil
}

// ServeHTTP routes a request through the generation's cache strategy:
//
//   - cross-site requests pass straight through, never cached
//   - navigations are network-first with the cached page, then the offline
//     page, as fallbacks
//   - API requests are network-first with a synthesized 503 when both the
//     network and the cache miss
//   - static assets are cache-first
//   - everything else passes through
//
// In shell-only mode the runtime strategies are disabled: navigations still
// fall back to the precached shell, all other requests pass through.
func (wk *Worker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
		wk.passthrough(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		wk.passthrough(w, r)
		return
	}

	switch {
	case r.Header.Get("Sec-Fetch-Mode") == "navigate":
		wk.serveNavigation(w, r)
	case wk.policy.IsAPI(r.URL.Path):
		if wk.shellOnly() {
			wk.passthrough(w, r)
		} else {
			wk.serveAPI(w, r)
		}
	case isNavigation(r):
		wk.serveNavigation(w, r)
	case wk.shellOnly():
		wk.passthrough(w, r)
	case isAsset(r, wk.policy):
		wk.serveAsset(w, r)
	default:
		wk.passthrough(w, r)
	}
}

// isNavigation is the header-less fallback: a GET for a path without an
// asset extension that accepts HTML reads as a navigation.
func isNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "" &&
		r.Method == http.MethodGet &&
		!DefaultPolicy().IsAsset(r.URL.Path) &&
		acceptsHTML(r)
}

func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "" || accept == "*/*" || strings.Contains(accept, "text/html")
}

func isAsset(r *http.Request, p Policy) bool {
	switch r.Header.Get("Sec-Fetch-Dest") {
	case "script", "style", "image", "font", "manifest":
		return true
	}
	return p.IsAsset(r.URL.Path)
}

func (wk *Worker) serveNavigation(w http.ResponseWriter, r *http.Request) {
	key := CacheKey(r)
	entry, err := wk.fetch(r)
	if err == nil {
		if entry.Status < http.StatusBadRequest && !wk.shellOnly() {
			if err := wk.bucket.Put(key, entry); err != nil {
				wk.logger.Printf("cache write failed for %s: %v", key, err)
			}
		}
		writeEntry(w, entry)
		metrics.CacheRequests.WithLabelValues("navigation", "network").Inc()
		return
	}

	if cached, ok := wk.bucket.Match(key); ok {
		writeEntry(w, cached)
		metrics.CacheRequests.WithLabelValues("navigation", "cache_fallback").Inc()
		return
	}
	offlineKey := http.MethodGet + " " + wk.policy.OfflinePath
	if cached, ok := wk.bucket.Match(offlineKey); ok {
		writeEntry(w, cached)
		metrics.CacheRequests.WithLabelValues("navigation", "offline_fallback").Inc()
		return
	}

	http.Error(w, "offline", http.StatusServiceUnavailable)
	metrics.CacheRequests.WithLabelValues("navigation", "synthesized").Inc()
}

func (wk *Worker) serveAPI(w http.ResponseWriter, r *http.Request) {
	key := CacheKey(r)
	entry, err := wk.fetch(r)
	if err == nil {
		if entry.Status < http.StatusBadRequest {
			if err := wk.bucket.Put(key, entry); err != nil {
				wk.logger.Printf("cache write failed for %s: %v", key, err)
			}
		}
		writeEntry(w, entry)
		metrics.CacheRequests.WithLabelValues("api", "network").Inc()
		return
	}

	if cached, ok := wk.bucket.Match(key); ok {
		writeEntry(w, cached)
		metrics.CacheRequests.WithLabelValues("api", "cache_fallback").Inc()
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, `{"error":"offline"}`)
	metrics.CacheRequests.WithLabelValues("api", "synthesized").Inc()
}

func (wk *Worker) serveAsset(w http.ResponseWriter, r *http.Request) {
	key := CacheKey(r)
	if cached, ok := wk.bucket.Match(key); ok {
		writeEntry(w, cached)
		metrics.CacheRequests.WithLabelValues("asset", "cache_hit").Inc()
		return
	}

	entry, err := wk.fetch(r)
	if err != nil {
		http.Error(w, "offline", http.StatusServiceUnavailable)
		metrics.CacheRequests.WithLabelValues("asset", "synthesized").Inc()
		return
	}
	if entry.Status < http.StatusBadRequest {
		if err := wk.bucket.Put(key, entry); err != nil {
			wk.logger.Printf("cache write failed for %s: %v", key, err)
		}
	}
	writeEntry(w, entry)
	metrics.CacheRequests.WithLabelValues("asset", "network").Inc()
}

func (wk *Worker) passthrough(w http.ResponseWriter, r *http.Request) {
	entry, err := wk.fetch(r)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		metrics.CacheRequests.WithLabelValues("passthrough", "synthesized").Inc()
		return
	}
	writeEntry(w, entry)
	metrics.CacheRequests.WithLabelValues("passthrough", "passthrough").Inc()
}

func writeEntry(w http.ResponseWriter, e *Entry) {
	for k, vs := range e.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}
