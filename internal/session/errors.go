package session

import (
	"fmt"

	"github.com/PaulBabatuyi/chatcore/internal/identity"
)

// AuthCode is the closed failure taxonomy for credential operations.
type AuthCode int

const (
	AuthUnknown AuthCode = iota
	AuthInvalidEmail
	AuthUserNotFound
	AuthWrongPassword
	AuthEmailAlreadyInUse
	AuthWeakPassword
)

// AuthError carries a taxonomy code plus the underlying cause, if any.
type AuthError struct {
	Code AuthCode
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message(), e.Err)
	}
	return "auth: " + e.Message()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Message returns the short user-facing text for the failure.
func (e *AuthError) Message() string {
	switch e.Code {
	case AuthInvalidEmail:
		return "Invalid email address!"
	case AuthUserNotFound:
		return "No user found with these credentials."
	case AuthWrongPassword:
		return "Incorrect password!"
	case AuthEmailAlreadyInUse:
		return "This email is already in use!"
	case AuthWeakPassword:
		return "Password should be at least 6 characters!"
	default:
		return "Something went wrong. Please try again."
	}
}

// mapProviderError folds a provider failure into the taxonomy. Anything the
// provider does not classify becomes AuthUnknown.
func mapProviderError(err error) *AuthError {
	switch identity.CodeOf(err) {
	case identity.CodeInvalidEmail:
		return &AuthError{Code: AuthInvalidEmail, Err: err}
	case identity.CodeUserNotFound:
		return &AuthError{Code: AuthUserNotFound, Err: err}
	case identity.CodeWrongPassword:
		return &AuthError{Code: AuthWrongPassword, Err: err}
	case identity.CodeEmailAlreadyInUse:
		return &AuthError{Code: AuthEmailAlreadyInUse, Err: err}
	case identity.CodeWeakPassword:
		return &AuthError{Code: AuthWeakPassword, Err: err}
	default:
		return &AuthError{Code: AuthUnknown, Err: err}
	}
}
