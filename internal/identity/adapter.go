package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Adapter holds the signed-in identity of one client and notifies watchers
// whenever it changes. A nil identity means signed out.
type Adapter struct {
	provider Provider

	mu       sync.Mutex
	current  *Identity
	watchers map[int]func(*Identity)
	nextId   int
}

func NewAdapter(provider Provider, initial *Identity) *Adapter {
	a := &Adapter{
		provider: provider,
		watchers: make(map[int]func(*Identity)),
	}
	if initial != nil {
		id := *initial
		a.current = &id
	}
	return a
}

func (a *Adapter) CurrentUser() *Identity {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil
	}
	id := *a.current
	return &id
}

// SignIn authenticates credential and makes it the current identity. On
// failure the adapter reverts to signed out.
func (a *Adapter) SignIn(ctx context.Context, credential string) (Identity, error) {
	id, err := a.provider.Authenticate(ctx, credential)
	if err != nil {
		slog.Warn("sign in failed", "error", err)
		a.set(nil)
		return Identity{}, asAuthError(err)
	}

	a.set(&id)
	return id, nil
}

// SignOut always leaves the adapter signed out, even if the provider fails to
// deauthenticate.
func (a *Adapter) SignOut(ctx context.Context) error {
	current := a.CurrentUser()
	if current == nil {
		return nil
	}

	err := a.provider.Deauthenticate(ctx, *current)
	a.set(nil)
	if err != nil {
		slog.Warn("sign out failed", "user_id", current.Id, "error", err)
		return asAuthError(err)
	}
	return nil
}

// Watch calls fn with the current identity and then after every change. fn is
// never called while the adapter's lock is held.
func (a *Adapter) Watch(fn func(*Identity)) (detach func()) {
	a.mu.Lock()
	watcherId := a.nextId
	a.nextId++
	a.watchers[watcherId] = fn
	a.mu.Unlock()

	fn(a.CurrentUser())

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			delete(a.watchers, watcherId)
		})
	}
}

func (a *Adapter) set(id *Identity) {
	a.mu.Lock()
	if id == nil && a.current == nil {
		a.mu.Unlock()
		return
	}
	if id != nil && a.current != nil && *id == *a.current {
		a.mu.Unlock()
		return
	}

	if id == nil {
		a.current = nil
	} else {
		copied := *id
		a.current = &copied
	}

	watchers := make([]func(*Identity), 0, len(a.watchers))
	for _, fn := range a.watchers {
		watchers = append(watchers, fn)
	}
	a.mu.Unlock()

	for _, fn := range watchers {
		if id == nil {
			fn(nil)
		} else {
			copied := *id
			fn(&copied)
		}
	}
}

func asAuthError(err error) error {
	if errors.Is(err, ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAuth, err)
}
