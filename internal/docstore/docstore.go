// Package docstore defines the narrow document-store boundary the session,
// directory, registry and stream packages depend on, together with a MongoDB
// implementation and an in-memory implementation used in tests.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document exists under the id.
var ErrNotFound = errors.New("document not found")

// Fields is the flat field set of a document write or read. On merge writes a
// key may use a dotted path ("lastRead.u1") to address a nested field without
// touching its siblings.
type Fields map[string]any

// Doc is one stored document.
type Doc struct {
	ID     string
	Fields Fields
}

// Filter is a single equality condition on a field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents in a collection. Filters are ANDed equality
// conditions. OrderBy names the sort field; ties are broken by document id so
// the ordering is stable. Limit of 0 means no limit.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int64
}

// Listener receives live snapshot updates. OnChange is called with the full
// matching document set (not a diff) after every relevant change, in the
// order the store observes the changes. OnError receives stream failures;
// after OnError the subscription is dead and must be re-established by the
// caller.
type Listener struct {
	OnChange func(docs []Doc)
	OnError  func(err error)
}

// CancelFunc tears down a snapshot subscription. Safe to call more than once.
type CancelFunc func()

// Store is the document-store boundary. Put with merge=true updates only the
// named fields (dotted paths merge into nested maps) and creates the document
// if absent; merge=false replaces the whole document. Add inserts a document
// under a store-assigned id and returns that id.
type Store interface {
	Get(ctx context.Context, collection, id string) (Fields, error)
	Put(ctx context.Context, collection, id string, fields Fields, merge bool) error
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Query(ctx context.Context, collection string, q Query) ([]Doc, error)
	Snapshot(ctx context.Context, collection string, q Query, l Listener) (CancelFunc, error)
}
