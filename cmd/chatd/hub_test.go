package main

import (
	"errors"
	"testing"
)

type fakeSender struct {
	last Event
	got  bool
	fail bool
}

func (f *fakeSender) Send(ev Event) error {
	if f.fail {
		return errors.New("send fail")
	}
	f.last = ev
	f.got = true
	return nil
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	hub := NewHub()

	senderA := &fakeSender{}
	senderB := &fakeSender{}

	idA := hub.Register(senderA)
	_ = hub.Register(senderB)

	ev := Event{Type: "session", Payload: "authenticated"}
	if err := hub.Broadcast(ev); err != nil {
		t.Fatalf("expected broadcast success, got error: %v", err)
	}
	if !senderA.got || senderA.last.Type != "session" {
		t.Fatalf("sender A did not receive event")
	}
	if !senderB.got {
		t.Fatalf("sender B did not receive event")
	}

	// Unregister senderA and ensure it no longer receives events
	hub.Unregister(idA)
	senderA.got = false

	if err := hub.Broadcast(Event{Type: "summaries"}); err != nil {
		t.Fatalf("expected broadcast success after unregister: %v", err)
	}
	if senderA.got {
		t.Fatalf("sender A should not receive events after unregister")
	}
}

func TestHub_BroadcastWithNoConnections(t *testing.T) {
	hub := NewHub()
	if err := hub.Broadcast(Event{Type: "session"}); err == nil {
		t.Fatalf("expected error when broadcasting with no connections")
	}
}

func TestHub_PartialFailureDropsConnection(t *testing.T) {
	hub := NewHub()

	ok := &fakeSender{}
	bad := &fakeSender{fail: true}

	_ = hub.Register(ok)
	_ = hub.Register(bad)

	if err := hub.Broadcast(Event{Type: "x"}); err == nil {
		t.Fatalf("expected error due to partial send failure")
	}

	// The failing connection should have been dropped; a subsequent
	// broadcast succeeds and only reaches the healthy sender.
	if err := hub.Broadcast(Event{Type: "y"}); err != nil {
		t.Fatalf("expected broadcast to succeed after cleanup: %v", err)
	}
	if ok.last.Type != "y" {
		t.Fatalf("healthy sender missed the second event")
	}
}
