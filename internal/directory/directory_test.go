package directory

import (
	"context"
	"testing"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
)

func seedUsers(t *testing.T, store *docstore.Memory) {
	t.Helper()
	ctx := context.Background()
	users := map[string]docstore.Fields{
		"u1": {data.FieldEmail: "alice@example.com", data.FieldUsername: "alice"},
		"u2": {data.FieldEmail: "bob@example.com", data.FieldUsername: "bob"},
		"u3": {data.FieldEmail: "carol@example.com", data.FieldUsername: "carol"},
	}
	for id, fields := range users {
		if err := store.Put(ctx, data.CollUsers, id, fields, true); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
}

func TestListOthersExcludesSelfByID(t *testing.T) {
	store := docstore.NewMemory()
	seedUsers(t, store)
	cache := NewCache(store)

	users, err := cache.ListOthers(context.Background(), data.Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("ListOthers failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	for _, u := range users {
		if u.ID == "u1" {
			t.Fatal("self not excluded by id")
		}
	}
}

func TestListOthersExcludesSelfByEmail(t *testing.T) {
	store := docstore.NewMemory()
	seedUsers(t, store)
	cache := NewCache(store)

	// self known only by email, with different casing
	users, err := cache.ListOthers(context.Background(), data.Identity{Email: "ALICE@example.com"})
	if err != nil {
		t.Fatalf("ListOthers failed: %v", err)
	}
	for _, u := range users {
		if u.Email == "alice@example.com" {
			t.Fatal("self not excluded by email")
		}
	}
}

func TestListOthersComparator(t *testing.T) {
	store := docstore.NewMemory()
	seedUsers(t, store)
	cache := NewCache(store, WithComparator(func(a, b data.Identity) bool {
		return a.Username < b.Username
	}))

	users, err := cache.ListOthers(context.Background(), data.Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("ListOthers failed: %v", err)
	}
	if len(users) != 2 || users[0].Username != "bob" || users[1].Username != "carol" {
		t.Fatalf("comparator order not applied: %+v", users)
	}
}

func TestCachedSnapshot(t *testing.T) {
	store := docstore.NewMemory()
	seedUsers(t, store)
	cache := NewCache(store)

	if cache.Cached() != nil {
		t.Fatal("expected empty cache before first fetch")
	}
	users, err := cache.ListOthers(context.Background(), data.Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("ListOthers failed: %v", err)
	}
	cached := cache.Cached()
	if len(cached) != len(users) {
		t.Fatalf("cached snapshot size %d, want %d", len(cached), len(users))
	}
}
