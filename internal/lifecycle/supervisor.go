package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
)

// ErrNoWaitingWorker is returned by SkipWaiting when no installed worker is
// waiting for promotion.
var ErrNoWaitingWorker = errors.New("no waiting worker")

// EventType classifies supervisor events.
type EventType string

const (
	EventInstalled EventType = "installed"
	EventActivated EventType = "activated"
	EventRedundant EventType = "redundant"
	// EventReload fires exactly once per activated generation, after the
	// handler swap. Clients reload their view on it.
	EventReload EventType = "reload"
)

// Event is one lifecycle transition, broadcast to subscribers.
type Event struct {
	Type       EventType `json:"type"`
	Generation int       `json:"generation"`
	Bucket     string    `json:"bucket"`
}

// WorkerStatus is a point-in-time snapshot of one worker.
type WorkerStatus struct {
	Generation int    `json:"generation"`
	Bucket     string `json:"bucket"`
	State      string `json:"state"`
}

// Supervisor owns the worker generations. At most one worker is active and at
// most one is waiting; registering a third supersedes the waiting one. The
// active worker is swapped atomically under request traffic, so every request
// is served by exactly one generation.
type Supervisor struct {
	root     string
	policy   Policy
	upstream Upstream
	logger   *log.Logger

	active atomic.Pointer[Worker]

	mu      sync.Mutex
	waiting *Worker
	workers []*Worker
	guard   *ReloadGuard

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewSupervisor creates a supervisor serving workers built against the given
// bucket root, route policy and upstream.
func NewSupervisor(root string, policy Policy, up Upstream, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(os.Stderr, "[lifecycle] ", log.LstdFlags)
	}
	return &Supervisor{
		root:     root,
		policy:   policy,
		upstream: up,
		logger:   logger,
		guard:    NewReloadGuard(),
		subs:     make(map[int]chan Event),
	}
}

// Register installs a worker for the release described by m.
//
// The first generation ever registered activates immediately; there is no old
// worker to wait behind. Later generations install and then wait. If a worker
// was already waiting it becomes redundant; only the newest pending release
// is ever promoted. Registering the generation that is already active or
// waiting is a no-op.
func (s *Supervisor) Register(ctx context.Context, m *Manifest) (*Worker, error) {
	if w := s.active.Load(); w != nil && w.Generation() == m.Generation {
		return w, nil
	}
	s.mu.Lock()
	if s.waiting != nil && s.waiting.Generation() == m.Generation {
		w := s.waiting
		s.mu.Unlock()
		return w, nil
	}
	s.mu.Unlock()

	w, err := NewWorker(s.root, m, s.policy, s.upstream, s.logger)
	if err != nil {
		return nil, err
	}
	if err := w.Install(ctx); err != nil {
		return nil, fmt.Errorf("failed to install generation %d: %w", m.Generation, err)
	}
	s.emit(Event{Type: EventInstalled, Generation: w.Generation(), Bucket: w.BucketName()})

	s.mu.Lock()
	s.workers = append(s.workers, w)
	if s.active.Load() == nil {
		s.mu.Unlock()
		if err := s.promote(ctx, w); err != nil {
			return nil, err
		}
		return w, nil
	}
	if s.waiting != nil {
		old := s.waiting
		old.Discard()
		s.emit(Event{Type: EventRedundant, Generation: old.Generation(), Bucket: old.BucketName()})
	}
	s.waiting = w
	s.mu.Unlock()

	s.logger.Printf("generation %d installed, waiting behind %d", w.Generation(), s.ActiveGeneration())
	return w, nil
}

// SkipWaiting promotes the waiting worker immediately, the explicit
// update-now path. The outgoing worker finishes no in-flight state; requests
// started before the swap complete against the old generation, requests after
// it hit the new one.
func (s *Supervisor) SkipWaiting(ctx context.Context) (*Worker, error) {
	s.mu.Lock()
	w := s.waiting
	s.waiting = nil
	s.mu.Unlock()
	if w == nil {
		return nil, ErrNoWaitingWorker
	}
	if err := s.promote(ctx, w); err != nil {
		// A failed activation leaves the worker waiting so the caller can
		// retry, unless a newer registration took the slot in the meantime.
		s.mu.Lock()
		if s.waiting == nil {
			s.waiting = w
		}
		s.mu.Unlock()
		return nil, err
	}
	return w, nil
}

// promote activates w and swaps it into the serving slot.
func (s *Supervisor) promote(ctx context.Context, w *Worker) error {
	if err := w.Activate(ctx); err != nil {
		return fmt.Errorf("failed to activate generation %d: %w", w.Generation(), err)
	}
	old := s.active.Swap(w)
	if old != nil {
		old.Discard()
		s.emit(Event{Type: EventRedundant, Generation: old.Generation(), Bucket: old.BucketName()})
	}
	s.emit(Event{Type: EventActivated, Generation: w.Generation(), Bucket: w.BucketName()})
	if s.guard.Trigger(w.Generation()) {
		s.emit(Event{Type: EventReload, Generation: w.Generation(), Bucket: w.BucketName()})
	}
	s.logger.Printf("generation %d activated", w.Generation())
	return nil
}

// ServeHTTP dispatches to the active worker. Before any generation has
// activated there is nothing to serve with.
func (s *Supervisor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	active := s.active.Load()
	if active == nil {
		http.Error(w, "no active worker", http.StatusServiceUnavailable)
		return
	}
	active.ServeHTTP(w, r)
}

// ActiveGeneration returns the serving generation, or 0 if none is active.
func (s *Supervisor) ActiveGeneration() int {
	if w := s.active.Load(); w != nil {
		return w.Generation()
	}
	return 0
}

// WaitingGeneration returns the waiting generation, or 0 if none.
func (s *Supervisor) WaitingGeneration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiting != nil {
		return s.waiting.Generation()
	}
	return 0
}

// States snapshots every worker this supervisor has seen, in registration
// order.
func (s *Supervisor) States() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, WorkerStatus{
			Generation: w.Generation(),
			Bucket:     w.BucketName(),
			State:      w.State().String(),
		})
	}
	return out
}

// Subscribe returns a channel of lifecycle events and a cancel function. Slow
// subscribers drop events rather than blocking transitions.
func (s *Supervisor) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 16)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Supervisor) emit(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
