package conversation

import (
	"log"
	"sync"
	"time"
)

// slot is one registry entry. ready is closed once construction settles;
// engine and err are written before the close and never change afterwards.
type slot struct {
	ready  chan struct{}
	engine *Engine
	err    error
}

// Registry is the process-wide map from session identifier to live engine.
// It amortizes engine construction across the turns of a session and bounds
// memory via idle eviction. At most one engine exists per session ID.
type Registry struct {
	ttl        time.Duration
	sweepEvery time.Duration

	mu        sync.Mutex
	slots     map[string]*slot
	stopSweep chan struct{}
}

// NewRegistry creates a registry whose sweep destroys engines older than
// ttl. The sweep runs every sweepEvery; it is started lazily on first
// registration and stopped once the registry is empty.
func NewRegistry(ttl, sweepEvery time.Duration) *Registry {
	return &Registry{
		ttl:        ttl,
		sweepEvery: sweepEvery,
		slots:      make(map[string]*slot),
	}
}

// GetOrCreate returns the existing engine for sessionID, or constructs one
// with build and registers it. Construction is single-flight per session:
// concurrent callers for the same session wait for one build, while other
// sessions' lookups proceed unblocked, since build runs outside the registry
// lock and may load state over the network. A build failure registers
// nothing and propagates to every waiting caller.
func (r *Registry) GetOrCreate(sessionID string, build func() (*Engine, error)) (*Engine, error) {
	r.mu.Lock()
	if s, ok := r.slots[sessionID]; ok {
		r.mu.Unlock()
		<-s.ready
		if s.err != nil {
			return nil, s.err
		}
		return s.engine, nil
	}

	s := &slot{ready: make(chan struct{})}
	r.slots[sessionID] = s
	if r.stopSweep == nil {
		r.stopSweep = make(chan struct{})
		go r.sweepLoop(r.stopSweep)
	}
	r.mu.Unlock()

	engine, err := build()

	r.mu.Lock()
	switch {
	case err != nil:
		delete(r.slots, sessionID)
		r.stopSweepIfEmptyLocked()
		s.err = err
	case r.slots[sessionID] != s:
		// Removed or closed while building; the engine has no home.
		s.err = ErrDestroyed
	default:
		s.engine = engine
	}
	r.mu.Unlock()
	close(s.ready)

	if s.err != nil {
		if engine != nil {
			engine.Destroy()
		}
		return nil, s.err
	}
	return engine, nil
}

// Get returns the engine for sessionID, if registered and fully built.
func (r *Registry) Get(sessionID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[sessionID]
	if !ok || s.engine == nil {
		return nil, false
	}
	return s.engine, true
}

// Remove destroys and drops the engine for sessionID, if registered. A
// session still mid-construction is dropped too; its builder destroys the
// orphaned engine on completion.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	var victim *Engine
	if s, ok := r.slots[sessionID]; ok {
		victim = s.engine
		delete(r.slots, sessionID)
	}
	r.stopSweepIfEmptyLocked()
	r.mu.Unlock()

	if victim != nil {
		victim.Destroy()
	}
}

// Len reports the number of registered sessions, including those whose
// engine is still being built.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Close destroys all engines and stops the sweeper.
func (r *Registry) Close() {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*slot)
	r.stopSweepIfEmptyLocked()
	r.mu.Unlock()

	for _, s := range slots {
		if s.engine != nil {
			s.engine.Destroy()
		}
	}
}

// stopSweepIfEmptyLocked stops the background sweep when no sessions remain;
// callers hold r.mu.
func (r *Registry) stopSweepIfEmptyLocked() {
	if len(r.slots) == 0 && r.stopSweep != nil {
		close(r.stopSweep)
		r.stopSweep = nil
	}
}

func (r *Registry) sweepLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts engines whose creation time is older than the ttl. This
// approximates last-activity because sessions are bounded in duration; it
// bounds worst-case memory, not correctness. Sessions still being built are
// left alone.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	var stale []*Engine
	for id, s := range r.slots {
		if s.engine != nil && s.engine.CreatedAt().Before(cutoff) {
			stale = append(stale, s.engine)
			delete(r.slots, id)
		}
	}
	if len(stale) > 0 {
		log.Printf("conversation: evicted %d idle engine(s)", len(stale))
	}
	r.stopSweepIfEmptyLocked()
	r.mu.Unlock()

	for _, e := range stale {
		e.Destroy()
	}
}
