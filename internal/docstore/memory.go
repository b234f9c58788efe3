package docstore

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store. It reproduces the merge-write and snapshot
// semantics of the MongoDB implementation so tests (and local development)
// can exercise the full manager stack without a server. Every operation
// increments an op counter, which tests use to assert that locally-rejected
// calls never reach the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]Fields

	// notifyMu serializes snapshot deliveries so listeners observe changes
	// in mutation order.
	notifyMu sync.Mutex
	subs         map[string]map[int64]*memorySub
	nextSubID    int64

	ops atomic.Int64
}

type memorySub struct {
	collection string
	query      Query
	listener   Listener
	closed     atomic.Bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]Fields),
		subs: make(map[string]map[int64]*memorySub),
	}
}

// Ops reports how many store operations have been issued. Used by tests to
// verify local-validation short circuits.
func (m *Memory) Ops() int64 { return m.ops.Load() }

// Get returns a copy of the document's fields, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, collection, id string) (Fields, error) {
	m.ops.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.data[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := coll[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFields(doc), nil
}

// Put writes the document. With merge=true only the named fields change;
// dotted keys merge into nested maps without touching their siblings. With
// merge=false the whole document is replaced.
func (m *Memory) Put(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	m.ops.Add(1)
	m.mu.Lock()

	coll := m.data[collection]
	if coll == nil {
		coll = make(map[string]Fields)
		m.data[collection] = coll
	}

	if merge {
		doc := coll[id]
		if doc == nil {
			doc = Fields{}
			coll[id] = doc
		}
		for k, v := range fields {
			setPath(doc, k, v)
		}
	} else {
		doc := Fields{}
		for k, v := range fields {
			setPath(doc, k, v)
		}
		coll[id] = doc
	}

	m.mu.Unlock()
	m.notify(collection)
	return nil
}

// Add inserts a document under a generated id and returns the id.
func (m *Memory) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	m.ops.Add(1)
	id := uuid.NewString()

	m.mu.Lock()
	coll := m.data[collection]
	if coll == nil {
		coll = make(map[string]Fields)
		m.data[collection] = coll
	}
	doc := Fields{}
	for k, v := range fields {
		setPath(doc, k, v)
	}
	coll[id] = doc
	m.mu.Unlock()

	m.notify(collection)
	return id, nil
}

// Query returns the matching documents ordered per q.
func (m *Memory) Query(ctx context.Context, collection string, q Query) ([]Doc, error) {
	m.ops.Add(1)
	return m.eval(collection, q), nil
}

// Snapshot registers a live listener. The current matching set is delivered
// immediately, then again after every change to the collection.
func (m *Memory) Snapshot(ctx context.Context, collection string, q Query, l Listener) (CancelFunc, error) {
	m.ops.Add(1)

	sub := &memorySub{collection: collection, query: q, listener: l}

	m.mu.Lock()
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[int64]*memorySub)
	}
	m.nextSubID++
	id := m.nextSubID
	m.subs[collection][id] = sub
	m.mu.Unlock()

	// Initial snapshot, serialized with change deliveries so the listener
	// never sees an older state after a newer one.
	m.notifyMu.Lock()
	deliver(sub, m.eval(collection, q))
	m.notifyMu.Unlock()

	cancel := func() {
		sub.closed.Store(true)
		m.mu.Lock()
		if subs, ok := m.subs[collection]; ok {
			delete(subs, id)
		}
		m.mu.Unlock()
	}
	return cancel, nil
}

func (m *Memory) notify(collection string) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.RLock()
	var subs []*memorySub
	for _, s := range m.subs[collection] {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.closed.Load() {
			continue
		}
		deliver(sub, m.eval(collection, sub.query))
	}
}

// deliver invokes the listener with panic recovery: a failing listener must
// not take down the fan-out loop.
func deliver(sub *memorySub, docs []Doc) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("docstore: snapshot listener panic: %v", r)
		}
	}()
	if sub.listener.OnChange != nil {
		sub.listener.OnChange(docs)
	}
}

func (m *Memory) eval(collection string, q Query) []Doc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Doc
	for id, doc := range m.data[collection] {
		if matches(doc, q.Filters) {
			out = append(out, Doc{ID: id, Fields: copyFields(doc)})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(getPath(out[i].Fields, q.OrderBy), getPath(out[j].Fields, q.OrderBy))
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		// stable tie-break by document id
		if q.Desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})

	if q.Limit > 0 && int64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matches(doc Fields, filters []Filter) bool {
	for _, f := range filters {
		if compareValues(getPath(doc, f.Field), f.Value) != 0 {
			return false
		}
	}
	return true
}

// setPath writes v under a possibly dotted key, creating nested maps as
// needed. Intermediate non-map values are replaced, matching MongoDB's $set.
func setPath(doc Fields, key string, v any) {
	parts := strings.Split(key, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(Fields)
		if !ok {
			if mm, isMap := cur[p].(map[string]any); isMap {
				next = Fields(mm)
			} else {
				next = Fields{}
			}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = copyValue(v)
}

// getPath reads a possibly dotted key; returns nil when absent.
func getPath(doc Fields, key string) any {
	parts := strings.Split(key, ".")
	var cur any = doc
	for _, p := range parts {
		switch mm := cur.(type) {
		case Fields:
			cur = mm[p]
		case map[string]any:
			cur = mm[p]
		default:
			return nil
		}
	}
	return cur
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch vv := v.(type) {
	case Fields:
		return copyFields(vv)
	case map[string]any:
		return copyFields(Fields(vv))
	default:
		return v
	}
}

// compareValues orders two field values. Times, strings and numbers order
// naturally; unequal types or unsupported kinds fall back to string form.
func compareValues(a, b any) int {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}

	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	as, bs := toString(a), toString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
