package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
	"github.com/PaulBabatuyi/chatcore/internal/normalize"
	"github.com/google/uuid"
)

// password hash lives alongside the profile in users/{id}; it is never
// surfaced through the Identity model.
const fieldPassword = "password"

// Local is an email/password Provider backed by the document store. Accounts
// are rows in the users collection with a bcrypt hash; sessions are JWTs
// minted by a TokenManager. Session-change notifications are delivered from
// a single dispatch goroutine so listeners observe transitions in order.
type Local struct {
	store  docstore.Store
	tokens *TokenManager

	mu        sync.Mutex
	current   *data.Identity
	token     string
	listeners map[int64]func(*data.Identity)
	nextID    int64

	events chan event
	done   chan struct{}
}

type event struct {
	user *data.Identity
	// only, when non-zero, restricts delivery to a single listener: used
	// for the initial state replay on registration.
	only int64
}

// NewLocal returns a Local provider and starts its dispatch loop. Call Close
// when done.
func NewLocal(store docstore.Store, tokens *TokenManager) *Local {
	p := &Local{
		store:     store,
		tokens:    tokens,
		listeners: make(map[int64]func(*data.Identity)),
		events:    make(chan event, 16),
		done:      make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// Close stops the dispatch loop. Pending notifications are dropped.
func (p *Local) Close() {
	close(p.done)
}

func (p *Local) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.events:
			p.mu.Lock()
			fns := make(map[int64]func(*data.Identity), len(p.listeners))
			for id, fn := range p.listeners {
				fns[id] = fn
			}
			p.mu.Unlock()

			for id, fn := range fns {
				if ev.only != 0 && ev.only != id {
					continue
				}
				fn(ev.user)
			}
		}
	}
}

func (p *Local) notify(ev event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// SignInWithPassword authenticates against the stored bcrypt hash, mints a
// session token, and schedules a session-change notification.
func (p *Local) SignInWithPassword(ctx context.Context, email, password string) (*data.Identity, error) {
	email = normalize.Email(email)
	if !normalize.ValidEmail(email) {
		return nil, &ProviderError{Code: CodeInvalidEmail}
	}

	docs, err := p.store.Query(ctx, data.CollUsers, docstore.Query{
		Filters: []docstore.Filter{{Field: data.FieldEmail, Value: email}},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("identity: lookup account: %w", err)
	}
	if len(docs) == 0 {
		return nil, &ProviderError{Code: CodeUserNotFound}
	}

	doc := docs[0]
	hash, _ := doc.Fields[fieldPassword].(string)
	if err := CheckPassword(hash, password); err != nil {
		return nil, &ProviderError{Code: CodeWrongPassword}
	}

	user := identityFromDoc(doc)
	token, _, err := p.tokens.Generate(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("identity: mint token: %w", err)
	}

	p.setCurrent(user, token)
	return user, nil
}

// CreateAccountWithPassword registers a new account. The email must not be
// in use and the password must be at least 6 characters, mirroring the
// hosted providers this boundary abstracts.
func (p *Local) CreateAccountWithPassword(ctx context.Context, email, password string) (*data.Identity, error) {
	email = normalize.Email(email)
	if !normalize.ValidEmail(email) {
		return nil, &ProviderError{Code: CodeInvalidEmail}
	}
	if len(password) < 6 {
		return nil, &ProviderError{Code: CodeWeakPassword}
	}

	existing, err := p.store.Query(ctx, data.CollUsers, docstore.Query{
		Filters: []docstore.Filter{{Field: data.FieldEmail, Value: email}},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("identity: lookup account: %w", err)
	}
	if len(existing) > 0 {
		return nil, &ProviderError{Code: CodeEmailAlreadyInUse}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}

	id := uuid.NewString()
	err = p.store.Put(ctx, data.CollUsers, id, docstore.Fields{
		data.FieldEmail:  email,
		data.FieldUserID: id,
		fieldPassword:    hash,
		"created_at":     time.Now().UTC(),
	}, true)
	if err != nil {
		return nil, fmt.Errorf("identity: create account: %w", err)
	}

	user := &data.Identity{ID: id, Email: email}
	token, _, err := p.tokens.Generate(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("identity: mint token: %w", err)
	}

	p.setCurrent(user, token)
	return user, nil
}

// SignOut clears the current session and schedules a signed-out
// notification.
func (p *Local) SignOut(ctx context.Context) error {
	p.setCurrent(nil, "")
	return nil
}

// Resume restores a session from a previously-issued token, e.g. one the
// client persisted across restarts. The account is re-read from the store so
// a revoked user fails here rather than on first use.
func (p *Local) Resume(ctx context.Context, token string) (*data.Identity, error) {
	claims, err := p.tokens.Verify(token)
	if err != nil {
		return nil, &ProviderError{Code: CodeUserNotFound, Err: err}
	}

	fields, err := p.store.Get(ctx, data.CollUsers, claims.UserID)
	if err != nil {
		if err == docstore.ErrNotFound {
			return nil, &ProviderError{Code: CodeUserNotFound}
		}
		return nil, fmt.Errorf("identity: load account: %w", err)
	}

	user := identityFromDoc(docstore.Doc{ID: claims.UserID, Fields: fields})
	p.setCurrent(user, token)
	return user, nil
}

// SessionToken returns the token of the current session, or "".
func (p *Local) SessionToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// OnSessionChange registers a listener. The current state is replayed to the
// new listener through the dispatch loop, then every later transition is
// delivered in order.
func (p *Local) OnSessionChange(fn func(user *data.Identity)) CancelFunc {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	current := p.current
	p.mu.Unlock()

	p.notify(event{user: current, only: id})

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Local) setCurrent(user *data.Identity, token string) {
	p.mu.Lock()
	p.current = user
	p.token = token
	p.mu.Unlock()
	p.notify(event{user: user})
}

func identityFromDoc(doc docstore.Doc) *data.Identity {
	user := &data.Identity{ID: doc.ID}
	if v, ok := doc.Fields[data.FieldEmail].(string); ok {
		user.Email = v
	}
	if v, ok := doc.Fields[data.FieldUsername].(string); ok {
		user.Username = v
	}
	if v, ok := doc.Fields[data.FieldProfileURL].(string); ok {
		user.ProfileURL = v
	}
	return user
}
