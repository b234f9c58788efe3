// Package identity defines the identity-provider boundary the credential
// gateway and session store depend on, plus a local email/password provider
// implementation.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/chatcore/internal/data"
)

// Code classifies provider failures. The credential gateway maps these onto
// its user-facing error taxonomy.
type Code string

const (
	CodeInvalidEmail      Code = "invalid-email"
	CodeUserNotFound      Code = "user-not-found"
	CodeWrongPassword     Code = "wrong-password"
	CodeEmailAlreadyInUse Code = "email-already-in-use"
	CodeWeakPassword      Code = "weak-password"
)

// ProviderError is a coded provider failure.
type ProviderError struct {
	Code Code
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("identity: %s", e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CodeOf returns the Code carried by err, or "" when err is not a
// ProviderError.
func CodeOf(err error) Code {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// CancelFunc removes a previously-registered session listener.
type CancelFunc func()

// Provider is the narrow identity-provider surface. Session-change
// notifications are asynchronous: a successful sign-in returns before
// listeners have necessarily observed the new session.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*data.Identity, error)
	CreateAccountWithPassword(ctx context.Context, email, password string) (*data.Identity, error)
	SignOut(ctx context.Context) error

	// OnSessionChange registers a listener for session transitions. The
	// listener receives the current state shortly after registration, then
	// every subsequent transition in order. A nil identity means signed out.
	OnSessionChange(fn func(user *data.Identity)) CancelFunc
}
