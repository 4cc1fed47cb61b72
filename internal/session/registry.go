// Package session tracks client sessions attached to the daemon and
// drives self-termination when the last one detaches.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is the authoritative set of active sessions for one daemon
// instance. Membership mutation is safe under concurrent access; a
// termination decision is re-validated immediately before firing so a
// session arriving during the grace delay cancels shutdown.
type Registry struct {
	log   *zap.Logger
	grace time.Duration

	mu      sync.Mutex
	active  map[string]time.Time // session id -> start time
	timer   *time.Timer
	onEmpty []func()
	onExit  func()
}

// NewRegistry creates a registry. onExit runs after the grace delay
// once the registry is confirmed still empty.
func NewRegistry(grace time.Duration, onExit func(), log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:    log,
		grace:  grace,
		active: make(map[string]time.Time),
		onExit: onExit,
	}
}

// OnEmpty registers a teardown hook run when the active set becomes
// empty (before the grace delay starts).
func (r *Registry) OnEmpty(fn func()) {
	r.mu.Lock()
	r.onEmpty = append(r.onEmpty, fn)
	r.mu.Unlock()
}

// Add attaches a session. Returns true when this is the first session
// for the process. Cancels any pending termination.
func (r *Registry) Add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
		r.log.Info("shutdown cancelled, session attached", zap.String("session", id))
	}

	first := len(r.active) == 0
	if _, ok := r.active[id]; !ok {
		r.active[id] = time.Now().UTC()
	}
	return first
}

// Remove detaches a session. When the active set becomes empty the
// teardown hooks run and termination is scheduled after the grace
// delay, re-checking emptiness before exit.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.active, id)
	empty := len(r.active) == 0
	hooks := r.onEmpty
	r.mu.Unlock()

	if !empty {
		return
	}

	for _, fn := range hooks {
		fn()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) != 0 {
		// A session raced in while hooks ran.
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.log.Info("last session detached, scheduling shutdown", zap.Duration("grace", r.grace))
	r.timer = time.AfterFunc(r.grace, r.fireExit)
}

// fireExit re-validates emptiness and terminates.
func (r *Registry) fireExit() {
	r.mu.Lock()
	if len(r.active) != 0 {
		r.timer = nil
		r.mu.Unlock()
		return
	}
	r.timer = nil
	exit := r.onExit
	r.mu.Unlock()

	if exit != nil {
		exit()
	}
}

// Count reports the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Active returns the active session IDs.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
