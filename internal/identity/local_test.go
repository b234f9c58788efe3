package identity

import (
	"context"
	"testing"
	"time"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
)

func newTestProvider(t *testing.T) (*Local, *docstore.Memory) {
	t.Helper()
	store := docstore.NewMemory()
	p := NewLocal(store, NewTokenManager("test-secret", time.Hour))
	t.Cleanup(p.Close)
	return p, store
}

// waitSession blocks until the listener channel yields a transition.
func waitSession(t *testing.T, ch <-chan *data.Identity) *data.Identity {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session notification")
		return nil
	}
}

func TestLocalCreateAndSignIn(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	user, err := p.CreateAccountWithPassword(ctx, "Alice@Example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccountWithPassword failed: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected assigned user id")
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %s", user.Email)
	}

	signedIn, err := p.SignInWithPassword(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword failed: %v", err)
	}
	if signedIn.ID != user.ID {
		t.Fatalf("sign-in returned different id: %s vs %s", signedIn.ID, user.ID)
	}
	if p.SessionToken() == "" {
		t.Fatal("expected session token after sign-in")
	}
}

func TestLocalErrorCodes(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	if _, err := p.CreateAccountWithPassword(ctx, "not-an-email", "secret1"); CodeOf(err) != CodeInvalidEmail {
		t.Fatalf("expected invalid-email, got %v", err)
	}
	if _, err := p.CreateAccountWithPassword(ctx, "a@example.com", "short"); CodeOf(err) != CodeWeakPassword {
		t.Fatalf("expected weak-password, got %v", err)
	}

	if _, err := p.CreateAccountWithPassword(ctx, "a@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccountWithPassword failed: %v", err)
	}
	if _, err := p.CreateAccountWithPassword(ctx, "a@example.com", "secret2"); CodeOf(err) != CodeEmailAlreadyInUse {
		t.Fatalf("expected email-already-in-use, got %v", err)
	}

	if _, err := p.SignInWithPassword(ctx, "missing@example.com", "secret1"); CodeOf(err) != CodeUserNotFound {
		t.Fatalf("expected user-not-found, got %v", err)
	}
	if _, err := p.SignInWithPassword(ctx, "a@example.com", "wrongpass"); CodeOf(err) != CodeWrongPassword {
		t.Fatalf("expected wrong-password, got %v", err)
	}
}

func TestLocalSessionNotifications(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	ch := make(chan *data.Identity, 8)
	cancel := p.OnSessionChange(func(u *data.Identity) { ch <- u })
	defer cancel()

	// initial replay: signed out
	if u := waitSession(t, ch); u != nil {
		t.Fatalf("expected initial signed-out state, got %v", u)
	}

	user, err := p.CreateAccountWithPassword(ctx, "bob@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccountWithPassword failed: %v", err)
	}
	if got := waitSession(t, ch); got == nil || got.ID != user.ID {
		t.Fatalf("expected signed-in notification for %s, got %v", user.ID, got)
	}

	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if got := waitSession(t, ch); got != nil {
		t.Fatalf("expected signed-out notification, got %v", got)
	}
}

func TestLocalResume(t *testing.T) {
	ctx := context.Background()
	p, store := newTestProvider(t)

	user, err := p.CreateAccountWithPassword(ctx, "carol@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccountWithPassword failed: %v", err)
	}
	token := p.SessionToken()

	// add profile fields as the gateway's upsert would
	err = store.Put(ctx, data.CollUsers, user.ID, docstore.Fields{
		data.FieldUsername:   "carol",
		data.FieldProfileURL: "https://example.com/carol.png",
	}, true)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// a fresh provider instance resumes from the persisted token
	p2 := NewLocal(store, NewTokenManager("test-secret", time.Hour))
	defer p2.Close()

	resumed, err := p2.Resume(ctx, token)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.ID != user.ID {
		t.Fatalf("resumed wrong user: %s", resumed.ID)
	}
	if resumed.Username != "carol" {
		t.Fatalf("resume did not pick up profile fields: %+v", resumed)
	}

	if _, err := p2.Resume(ctx, "garbage-token"); CodeOf(err) != CodeUserNotFound {
		t.Fatalf("expected user-not-found for bad token, got %v", err)
	}
}
