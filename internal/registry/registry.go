// Package registry tracks the push listener running for each Fermax account.
// The bridge normally serves a single account, but the lifecycle is kept
// explicit so main owns startup and shutdown.
package registry

import (
	"context"
	"fmt"
	"sync"

	"duoxme-bridge/internal/push"
)

type Registry struct {
	mu        sync.Mutex
	listeners map[string]*push.Listener
}

func New() *Registry {
	return &Registry{listeners: make(map[string]*push.Listener)}
}

// Create registers a new listener for accountID. It fails if one already
// exists; callers must Remove the old listener first.
func (r *Registry) Create(accountID string, deps push.ListenerDeps) (*push.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.listeners[accountID]; exists {
		return nil, fmt.Errorf("listener already registered for account %q", accountID)
	}
	l := push.NewListener(deps)
	r.listeners[accountID] = l
	return l, nil
}

func (r *Registry) Get(accountID string) (*push.Listener, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listeners[accountID]
	return l, ok
}

// Remove stops the account's listener and forgets it.
func (r *Registry) Remove(ctx context.Context, accountID string) {
	r.mu.Lock()
	l, ok := r.listeners[accountID]
	delete(r.listeners, accountID)
	r.mu.Unlock()
	if ok {
		l.Stop(ctx)
	}
}

// StopAll stops every listener. Used on shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	listeners := make([]*push.Listener, 0, len(r.listeners))
	for id, l := range r.listeners {
		listeners = append(listeners, l)
		delete(r.listeners, id)
	}
	r.mu.Unlock()
	for _, l := range listeners {
		l.Stop(ctx)
	}
}
