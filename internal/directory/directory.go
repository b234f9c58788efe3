// Package directory lists the other known users for conversation
// initiation.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
	"github.com/PaulBabatuyi/chatcore/internal/normalize"
)

// DirectoryError wraps a transport failure from the underlying store. The
// cache does not retry; the caller decides.
type DirectoryError struct {
	Err error
}

func (e *DirectoryError) Error() string { return fmt.Sprintf("directory: %v", e.Err) }
func (e *DirectoryError) Unwrap() error { return e.Err }

// Cache fetches full-refresh snapshots of the user directory. Each ListOthers
// call hits the store; the last good snapshot stays readable via Cached for
// callers that can tolerate staleness.
type Cache struct {
	store docstore.Store

	// less, when set, orders results; otherwise order is store-assigned.
	less func(a, b data.Identity) bool

	mu   sync.Mutex
	last []data.Identity
}

// Option configures a Cache.
type Option func(*Cache)

// WithComparator orders ListOthers results with the given less function.
func WithComparator(less func(a, b data.Identity) bool) Option {
	return func(c *Cache) { c.less = less }
}

// NewCache returns a directory cache over the given store.
func NewCache(store docstore.Store, opts ...Option) *Cache {
	c := &Cache{store: store}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListOthers returns every known user except self, matched by id or email.
// The result is a fresh snapshot; callers needing freshness re-invoke.
func (c *Cache) ListOthers(ctx context.Context, self data.Identity) ([]data.Identity, error) {
	docs, err := c.store.Query(ctx, data.CollUsers, docstore.Query{})
	if err != nil {
		return nil, &DirectoryError{Err: err}
	}

	selfEmail := normalize.Email(self.Email)
	users := make([]data.Identity, 0, len(docs))
	for _, doc := range docs {
		u := identityFromDoc(doc)
		if u.ID == self.ID {
			continue
		}
		if selfEmail != "" && normalize.Email(u.Email) == selfEmail {
			continue
		}
		// entries with no email are credential stubs, not listable users
		if u.Email == "" {
			continue
		}
		users = append(users, u)
	}

	if c.less != nil {
		sort.Slice(users, func(i, j int) bool { return c.less(users[i], users[j]) })
	}

	c.mu.Lock()
	c.last = users
	c.mu.Unlock()
	return users, nil
}

// Cached returns the snapshot from the last successful ListOthers, or nil.
func (c *Cache) Cached() []data.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func identityFromDoc(doc docstore.Doc) data.Identity {
	u := data.Identity{ID: doc.ID}
	if v, ok := doc.Fields[data.FieldEmail].(string); ok {
		u.Email = v
	}
	if v, ok := doc.Fields[data.FieldUsername].(string); ok {
		u.Username = v
	}
	if v, ok := doc.Fields[data.FieldProfileURL].(string); ok {
		u.ProfileURL = v
	}
	return u
}
