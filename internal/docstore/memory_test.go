package docstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryMergeDoesNotClobberSiblings(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	// writer one sets a nested read marker
	if err := store.Put(ctx, "chats", "c1", Fields{"lastRead.u1": time.Unix(100, 0)}, true); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// writer two sets a different nested entry plus a top-level field
	if err := store.Put(ctx, "chats", "c1", Fields{"lastRead.u2": time.Unix(200, 0), "unreadCount": 3}, true); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	doc, err := store.Get(ctx, "chats", "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	lastRead, ok := doc["lastRead"].(Fields)
	if !ok {
		t.Fatalf("lastRead missing or wrong type: %#v", doc["lastRead"])
	}
	if _, ok := lastRead["u1"]; !ok {
		t.Fatal("merge write clobbered sibling lastRead.u1")
	}
	if _, ok := lastRead["u2"]; !ok {
		t.Fatal("lastRead.u2 not written")
	}
	if doc["unreadCount"] != 3 {
		t.Fatalf("unreadCount = %v, want 3", doc["unreadCount"])
	}
}

func TestMemoryReplaceOverwritesDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Put(ctx, "users", "u1", Fields{"email": "a@example.com", "username": "a"}, false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "users", "u1", Fields{"email": "b@example.com"}, false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	doc, err := store.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc["email"] != "b@example.com" {
		t.Fatalf("email = %v, want b@example.com", doc["email"])
	}
	if _, ok := doc["username"]; ok {
		t.Fatal("replace kept a field from the previous document")
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	store := NewMemory()
	if _, err := store.Get(context.Background(), "users", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryQueryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		_, err := store.Add(ctx, "messages", Fields{
			"chat_id":    "c1",
			"text":       string(rune('a' + i)),
			"created_at": base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	// a message in another conversation must not match
	if _, err := store.Add(ctx, "messages", Fields{"chat_id": "c2", "created_at": base}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	docs, err := store.Query(ctx, "messages", Query{
		Filters: []Filter{{Field: "chat_id", Value: "c1"}},
		OrderBy: "created_at",
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 5 {
		t.Fatalf("expected 5 docs, got %d", len(docs))
	}
	for i := 1; i < len(docs); i++ {
		prev := docs[i-1].Fields["created_at"].(time.Time)
		cur := docs[i].Fields["created_at"].(time.Time)
		if cur.Before(prev) {
			t.Fatalf("ordering broken at %d: %v before %v", i, cur, prev)
		}
	}

	limited, err := store.Query(ctx, "messages", Query{
		Filters: []Filter{{Field: "chat_id", Value: "c1"}},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Fields["text"] != "e" {
		t.Fatalf("expected newest message 'e', got %v", limited)
	}
}

func TestMemoryQueryStableTieBreak(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	same := time.Unix(42, 0)
	for i := 0; i < 4; i++ {
		if _, err := store.Add(ctx, "messages", Fields{"chat_id": "c1", "created_at": same}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	q := Query{Filters: []Filter{{Field: "chat_id", Value: "c1"}}, OrderBy: "created_at"}
	first, err := store.Query(ctx, "messages", q)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	second, err := store.Query(ctx, "messages", q)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("tie-break not stable at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestMemorySnapshotDeliversInitialAndUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if _, err := store.Add(ctx, "chats", Fields{"lastUpdated": time.Unix(1, 0)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	var updates [][]Doc
	cancel, err := store.Snapshot(ctx, "chats", Query{}, Listener{
		OnChange: func(docs []Doc) { updates = append(updates, docs) },
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer cancel()

	if len(updates) != 1 || len(updates[0]) != 1 {
		t.Fatalf("expected initial snapshot with 1 doc, got %v", updates)
	}

	if _, err := store.Add(ctx, "chats", Fields{"lastUpdated": time.Unix(2, 0)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(updates) != 2 || len(updates[1]) != 2 {
		t.Fatalf("expected second snapshot with 2 docs, got %d updates", len(updates))
	}

	// after cancel no further deliveries
	cancel()
	if _, err := store.Add(ctx, "chats", Fields{"lastUpdated": time.Unix(3, 0)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(updates) != 2 {
		t.Fatal("listener still notified after cancel")
	}
}

func TestMemorySnapshotSurvivesListenerPanic(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	calls := 0
	_, err := store.Snapshot(ctx, "chats", Query{}, Listener{
		OnChange: func(docs []Doc) {
			calls++
			panic("listener bug")
		},
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// the panicking listener must not break subsequent fan-out
	if _, err := store.Add(ctx, "chats", Fields{"x": 1}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected listener called twice despite panics, got %d", calls)
	}
}

func TestMemoryOpsCounter(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if store.Ops() != 0 {
		t.Fatalf("fresh store ops = %d, want 0", store.Ops())
	}
	_ = store.Put(ctx, "users", "u1", Fields{"email": "x@example.com"}, true)
	_, _ = store.Get(ctx, "users", "u1")
	if store.Ops() != 2 {
		t.Fatalf("ops = %d, want 2", store.Ops())
	}
}
