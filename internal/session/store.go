package session

import (
	"context"
	"log"
	"sync"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
	"github.com/PaulBabatuyi/chatcore/internal/identity"
)

// Store owns the client's session state. It starts in StateUnknown, follows
// the identity provider's notifications from then on, and never returns to
// StateUnknown once the provider has reported. Listener delivery order
// matches provider notification order; updates are not coalesced.
//
// On an authenticated notification the store re-reads the user's profile
// document and folds username and avatar into the identity, so a restored
// session carries the full profile, not just the credentials the provider
// knows about.
type Store struct {
	docs docstore.Store

	mu        sync.Mutex
	session   data.Session
	listeners map[int64]func(data.Session)
	nextID    int64

	cancelProvider identity.CancelFunc
}

// NewStore returns a session store following the given provider.
func NewStore(provider identity.Provider, docs docstore.Store) *Store {
	s := &Store{
		docs:      docs,
		session:   data.Session{State: data.StateUnknown},
		listeners: make(map[int64]func(data.Session)),
	}
	s.cancelProvider = provider.OnSessionChange(s.onSessionChange)
	return s
}

// Close detaches the store from the provider.
func (s *Store) Close() {
	if s.cancelProvider != nil {
		s.cancelProvider()
	}
}

// Current returns the session as of the last provider notification.
func (s *Store) Current() data.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Subscribe registers a listener. The current session is delivered
// immediately, then every transition in provider order. The returned cancel
// must be called on teardown.
func (s *Store) Subscribe(fn func(data.Session)) identity.CancelFunc {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	current := s.session
	s.mu.Unlock()

	safeNotify(fn, current)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// onSessionChange runs on the provider's dispatch goroutine, so transitions
// and listener calls are naturally serialized.
func (s *Store) onSessionChange(user *data.Identity) {
	next := data.Session{State: data.StateUnauthenticated}
	if user != nil {
		refreshed := *user
		s.refreshProfile(&refreshed)
		next = data.Session{State: data.StateAuthenticated, User: &refreshed}
	}

	s.mu.Lock()
	s.session = next
	fns := make([]func(data.Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		safeNotify(fn, next)
	}
}

func (s *Store) refreshProfile(user *data.Identity) {
	fields, err := s.docs.Get(context.Background(), data.CollUsers, user.ID)
	if err != nil {
		if err != docstore.ErrNotFound {
			log.Printf("session: profile refresh for %s failed: %v", user.ID, err)
		}
		return
	}
	if v, ok := fields[data.FieldUsername].(string); ok {
		user.Username = v
	}
	if v, ok := fields[data.FieldProfileURL].(string); ok {
		user.ProfileURL = v
	}
	if v, ok := fields[data.FieldEmail].(string); ok && user.Email == "" {
		user.Email = v
	}
}

// safeNotify shields the notification loop from a panicking listener.
func safeNotify(fn func(data.Session), s data.Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session: listener panic: %v", r)
		}
	}()
	fn(s)
}
