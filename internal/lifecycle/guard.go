package lifecycle

import "sync"

// ReloadGuard deduplicates reload notifications. Activation can be observed
// twice for one handover (the state transition and the handler swap race with
// watchers); clients must still be told to reload exactly once per
// generation.
type ReloadGuard struct {
	mu    sync.Mutex
	fired map[int]bool
}

// NewReloadGuard returns an empty guard.
func NewReloadGuard() *ReloadGuard {
	return &ReloadGuard{fired: make(map[int]bool)}
}

// Trigger reports whether this is the first trigger for the generation.
// Subsequent calls for the same generation return false.
func (g *ReloadGuard) Trigger(generation int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fired[generation] {
		return false
	}
	g.fired[generation] = true
	return true
}

// Reset forgets a generation, allowing one more trigger. Used when a
// generation is rolled back and redeployed.
func (g *ReloadGuard) Reset(generation int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.fired, generation)
}
