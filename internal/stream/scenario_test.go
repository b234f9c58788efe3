package stream

import (
	"context"
	"testing"
	"time"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
	"github.com/PaulBabatuyi/chatcore/internal/identity"
	"github.com/PaulBabatuyi/chatcore/internal/registry"
	"github.com/PaulBabatuyi/chatcore/internal/session"
)

// TestTwoUserConversationScenario walks the whole manager through a two-user
// exchange: registration, a message from A, B opening and reading, B's
// reply, and A reading again, checking the unread bookkeeping at each step.
func TestTwoUserConversationScenario(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	provider := identity.NewLocal(store, identity.NewTokenManager("test-secret", time.Hour))
	defer provider.Close()
	gateway := session.NewGateway(provider, store)

	alice, err := gateway.SignUp(ctx, "alice@example.com", "secret1", "alice", "")
	if err != nil {
		t.Fatalf("SignUp alice failed: %v", err)
	}
	bob, err := gateway.SignUp(ctx, "bob@example.com", "secret1", "bob", "")
	if err != nil {
		t.Fatalf("SignUp bob failed: %v", err)
	}

	reg := registry.NewRegistry(store)
	adapter := NewAdapter(store)
	cid := registry.ConversationID(alice.ID, bob.ID)

	// both directions derive the same conversation id
	if got := registry.ConversationID(bob.ID, alice.ID); got != cid {
		t.Fatalf("conversation id not symmetric: %q vs %q", got, cid)
	}

	// alice opens the conversation and sends
	aliceView := NewView(adapter, reg)
	var aliceMsgs []data.Message
	if err := aliceView.Open(ctx, alice.ID, bob.ID, func(m []data.Message) { aliceMsgs = m }, nil); err != nil {
		t.Fatalf("alice Open failed: %v", err)
	}
	defer aliceView.Close()

	if err := adapter.Send(ctx, cid, alice.ID, "hi"); err != nil {
		t.Fatalf("alice Send failed: %v", err)
	}
	if len(aliceMsgs) != 1 || aliceMsgs[0].Text != "hi" {
		t.Fatalf("alice does not see her own message: %v", aliceMsgs)
	}

	// bob's chat list shows the conversation unread
	var bobSummaries registry.Summaries
	cancelBob, err := reg.SubscribeToSummaries(ctx, *bob, func(s registry.Summaries) { bobSummaries = s }, nil)
	if err != nil {
		t.Fatalf("bob SubscribeToSummaries failed: %v", err)
	}
	defer cancelBob()

	bobSum, ok := bobSummaries[alice.ID]
	if !ok {
		t.Fatalf("bob has no summary for alice: %v", bobSummaries)
	}
	if !bobSum.Unread || bobSum.UnreadCount != 1 {
		t.Fatalf("bob's summary should be unread with count 1: %+v", bobSum)
	}
	if bobSum.Other.Username != "alice" {
		t.Fatalf("other identity not projected: %+v", bobSum.Other)
	}

	// bob opens the conversation: read marker set, unread count drops
	bobView := NewView(adapter, reg)
	var bobMsgs []data.Message
	if err := bobView.Open(ctx, bob.ID, alice.ID, func(m []data.Message) { bobMsgs = m }, nil); err != nil {
		t.Fatalf("bob Open failed: %v", err)
	}
	defer bobView.Close()

	if len(bobMsgs) != 1 || bobMsgs[0].SenderID != alice.ID {
		t.Fatalf("bob does not see alice's message: %v", bobMsgs)
	}
	if got := bobSummaries[alice.ID]; got.UnreadCount != 0 {
		t.Fatalf("bob's unread count after opening = %d, want 0", got.UnreadCount)
	}

	// bob replies; alice's side is unread until she marks read again
	var aliceSummaries registry.Summaries
	cancelAlice, err := reg.SubscribeToSummaries(ctx, *alice, func(s registry.Summaries) { aliceSummaries = s }, nil)
	if err != nil {
		t.Fatalf("alice SubscribeToSummaries failed: %v", err)
	}
	defer cancelAlice()

	if err := adapter.Send(ctx, cid, bob.ID, "hey alice"); err != nil {
		t.Fatalf("bob Send failed: %v", err)
	}

	aliceSum := aliceSummaries[bob.ID]
	if !aliceSum.Unread || aliceSum.UnreadCount != 1 {
		t.Fatalf("alice's summary should be unread after bob's reply: %+v", aliceSum)
	}
	if aliceSum.LastMessage == nil || aliceSum.LastMessage.Text != "hey alice" {
		t.Fatalf("alice's preview not updated: %+v", aliceSum.LastMessage)
	}

	if err := reg.MarkRead(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("alice MarkRead failed: %v", err)
	}
	aliceSum = aliceSummaries[bob.ID]
	if aliceSum.UnreadCount != 0 {
		t.Fatalf("alice's unread count after MarkRead = %d, want 0", aliceSum.UnreadCount)
	}

	// both views saw the full ordered exchange
	if len(aliceMsgs) != 2 || aliceMsgs[0].Text != "hi" || aliceMsgs[1].Text != "hey alice" {
		t.Fatalf("alice's final message sequence wrong: %v", aliceMsgs)
	}
	if len(bobMsgs) != 2 {
		t.Fatalf("bob's final message sequence wrong: %v", bobMsgs)
	}
}
