package mux

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// Registry keeps at most one live session per peer address. Concurrent
// callers asking for the same address share one connect attempt.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// limiter holds a channel per address with a connect in flight; it
	// is closed when the attempt finishes either way.
	limiter map[string]chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		limiter:  make(map[string]chan struct{}),
	}
}

// GetOrCreate returns the live session for key, calling connect to
// create it when there is none. Callers that lose the race wait for the
// winner; if the winner fails they try again themselves.
func (r *Registry) GetOrCreate(ctx context.Context, key string, connect func(context.Context) (*Session, error)) (*Session, error) {
	for {
		r.mu.Lock()
		if s, ok := r.sessions[key]; ok && s.Active() {
			r.mu.Unlock()
			return s, nil
		}
		if wait, ok := r.limiter[key]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		wait := make(chan struct{})
		r.limiter[key] = wait
		r.mu.Unlock()

		s, err := connect(ctx)

		r.mu.Lock()
		delete(r.limiter, key)
		close(wait)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		if existing, ok := r.sessions[key]; ok && existing.Active() && existing != s {
			// someone registered a session directly while we dialed
			r.mu.Unlock()
			s.Close()
			return existing, nil
		}
		r.sessions[key] = s
		r.mu.Unlock()

		s.attach(r, key)
		return s, nil
	}
}

// Put registers s under key. It refuses when another live session holds
// the key.
func (r *Registry) Put(key string, s *Session) bool {
	r.mu.Lock()
	if existing, ok := r.sessions[key]; ok && existing.Active() && existing != s {
		r.mu.Unlock()
		return false
	}
	r.sessions[key] = s
	r.mu.Unlock()

	s.attach(r, key)
	return true
}

// Get returns the live session for key.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok || !s.Active() {
		return nil, false
	}
	return s, true
}

// Remove deletes key only while it still maps to s.
func (r *Registry) Remove(key string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Keys returns the registered addresses in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sessions returns the live registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Active() {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// Close closes every registered session.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var err error
	for _, s := range sessions {
		if cerr := s.Close(); cerr != nil && !errors.Is(cerr, ErrSessionClosed) {
			err = multierr.Append(err, cerr)
		}
		<-s.Done()
	}
	return err
}
