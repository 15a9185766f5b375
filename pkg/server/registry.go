package server

import (
	"context"
	"sync"

	"github.com/LingByte/LingMediaBridge/pkg/bridge"
)

type entry struct {
	session *bridge.Session
	cancel  context.CancelFunc
}

// Registry tracks live sessions so the server can report and stop them.
// Sessions share nothing through it.
type Registry struct {
	sessions map[string]entry
	mutex    sync.RWMutex
	wg       sync.WaitGroup
	closing  bool
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]entry),
	}
}

// Add registers a running session and the cancel func that stops it. It
// returns false once CancelAll was called; the caller must not run s.
func (r *Registry) Add(s *bridge.Session, cancel context.CancelFunc) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closing {
		return false
	}
	r.sessions[s.ID] = entry{session: s, cancel: cancel}
	r.wg.Add(1)
	return true
}

// Remove unregisters a session once its Run has returned
func (r *Registry) Remove(sessionID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	delete(r.sessions, sessionID)
	r.wg.Done()
}

// Get retrieves a session by ID
func (r *Registry) Get(sessionID string) (*bridge.Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	e, ok := r.sessions[sessionID]
	return e.session, ok
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// CancelAll asks every session to stop and refuses new ones; it does not
// wait
func (r *Registry) CancelAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closing = true
	for _, e := range r.sessions {
		e.cancel()
	}
}

// Wait blocks until every registered session was removed, or ctx ends
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
