// Package session implements the credential gateway and the session store:
// sign-in/sign-up/sign-out against the identity provider, and the tri-state
// authentication status the rest of the client keys off.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
	"github.com/PaulBabatuyi/chatcore/internal/identity"
	"github.com/PaulBabatuyi/chatcore/internal/normalize"
	"github.com/PaulBabatuyi/chatcore/internal/ratelimit"
)

// minPasswordLen is checked locally before any provider round trip.
const minPasswordLen = 6

// Gateway wraps the identity provider's credential operations. Local
// validation failures never reach the provider, and provider failures are
// mapped onto the AuthError taxonomy. The gateway never touches the session
// store directly; the provider's session-change notification drives it.
type Gateway struct {
	provider identity.Provider
	store    docstore.Store
	limits   *ratelimit.LimiterStore
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRateLimit applies a per-email limiter to sign-in and sign-up attempts.
func WithRateLimit(limits *ratelimit.LimiterStore) GatewayOption {
	return func(g *Gateway) { g.limits = limits }
}

// NewGateway returns a Gateway writing profiles through the given store.
func NewGateway(provider identity.Provider, store docstore.Store, opts ...GatewayOption) *Gateway {
	g := &Gateway{provider: provider, store: store}
	for _, o := range opts {
		o(g)
	}
	return g
}

// SignIn authenticates with email and password.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*data.Identity, error) {
	email = normalize.Email(email)
	if err := g.checkCredentials(email, password); err != nil {
		return nil, err
	}
	if err := g.allow(email); err != nil {
		return nil, err
	}

	user, err := g.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, mapProviderError(err)
	}
	return g.withProfile(ctx, user), nil
}

// SignUp registers a new account and upserts its profile document before
// returning. The profile write is a merge so repeating it is harmless.
func (g *Gateway) SignUp(ctx context.Context, email, password, username, profileURL string) (*data.Identity, error) {
	email = normalize.Email(email)
	if err := g.checkCredentials(email, password); err != nil {
		return nil, err
	}
	if err := g.allow(email); err != nil {
		return nil, err
	}

	user, err := g.provider.CreateAccountWithPassword(ctx, email, password)
	if err != nil {
		return nil, mapProviderError(err)
	}

	err = g.store.Put(ctx, data.CollUsers, user.ID, docstore.Fields{
		data.FieldUsername:   username,
		data.FieldProfileURL: profileURL,
		data.FieldUserID:     user.ID,
	}, true)
	if err != nil {
		return nil, &AuthError{Code: AuthUnknown, Err: fmt.Errorf("write profile: %w", err)}
	}

	user.Username = username
	user.ProfileURL = profileURL
	return user, nil
}

// SignOut ends the current session.
func (g *Gateway) SignOut(ctx context.Context) error {
	if err := g.provider.SignOut(ctx); err != nil {
		return mapProviderError(err)
	}
	return nil
}

// checkCredentials performs the local fast-fail validation: non-empty
// fields, plausible email shape, minimum password length.
func (g *Gateway) checkCredentials(email, password string) error {
	if email == "" || !normalize.ValidEmail(email) {
		return &AuthError{Code: AuthInvalidEmail}
	}
	// covers the empty password too
	if len(password) < minPasswordLen {
		return &AuthError{Code: AuthWeakPassword}
	}
	return nil
}

func (g *Gateway) allow(email string) error {
	if g.limits == nil {
		return nil
	}
	if !g.limits.Allow("email:" + email) {
		return &AuthError{Code: AuthUnknown, Err: errors.New("too many attempts")}
	}
	return nil
}

// withProfile folds the stored profile fields into the identity, so a
// sign-in returns the username and avatar the account registered with. A
// missing profile document is not an error.
func (g *Gateway) withProfile(ctx context.Context, user *data.Identity) *data.Identity {
	fields, err := g.store.Get(ctx, data.CollUsers, user.ID)
	if err != nil {
		return user
	}
	if v, ok := fields[data.FieldUsername].(string); ok {
		user.Username = v
	}
	if v, ok := fields[data.FieldProfileURL].(string); ok {
		user.ProfileURL = v
	}
	return user
}
