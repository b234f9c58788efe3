// Package registry derives conversation identities and tracks per-chat read
// state and summaries.
package registry

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
)

// RegistryError wraps a store failure from a registry operation.
type RegistryError struct {
	Err error
}

func (e *RegistryError) Error() string { return fmt.Sprintf("registry: %v", e.Err) }
func (e *RegistryError) Unwrap() error { return e.Err }

// ConversationID derives the deterministic id of the two-party conversation
// between a and b: both ids are escaped, sorted lexicographically, and
// joined with "_". Escaping ("%" -> "%25", "_" -> "%5F") keeps the id
// injective even when a raw user id contains the separator.
func ConversationID(a, b string) string {
	ea, eb := escapeID(a), escapeID(b)
	if eb < ea {
		ea, eb = eb, ea
	}
	return ea + "_" + eb
}

// ParseConversationID recovers the two participant ids. ok is false when the
// value is not a well-formed conversation id.
func ParseConversationID(cid string) (a, b string, ok bool) {
	sep := strings.IndexByte(cid, '_')
	if sep <= 0 || sep == len(cid)-1 {
		return "", "", false
	}
	return unescapeID(cid[:sep]), unescapeID(cid[sep+1:]), true
}

func escapeID(id string) string {
	id = strings.ReplaceAll(id, "%", "%25")
	return strings.ReplaceAll(id, "_", "%5F")
}

func unescapeID(id string) string {
	id = strings.ReplaceAll(id, "%5F", "_")
	return strings.ReplaceAll(id, "%25", "%")
}

// Registry tracks read state and conversation summaries on top of the
// document store.
type Registry struct {
	store docstore.Store
}

// NewRegistry returns a Registry over the given store.
func NewRegistry(store docstore.Store) *Registry {
	return &Registry{store: store}
}

// MarkRead records that the viewer has read the conversation with the other
// participant up to now: the viewer's lastRead entry is set and unreadCount
// reset. The write is a field-level merge, never a replace, so a concurrent
// message send updating the preview fields of the same record is not
// clobbered, and the other participant's lastRead entry is untouched.
func (r *Registry) MarkRead(ctx context.Context, viewerID, otherID string) error {
	cid := ConversationID(viewerID, otherID)
	now := time.Now().UTC()

	err := r.store.Put(ctx, data.CollChats, cid, docstore.Fields{
		data.FieldLastRead + "." + viewerID: now,
		data.FieldUnreadCount:               0,
		data.FieldLastUpdated:               now,
	}, true)
	if err != nil {
		return &RegistryError{Err: err}
	}
	return nil
}

// Summaries is the live mapping delivered by SubscribeToSummaries, keyed by
// the other participant's id. A conversation with no record yet is simply
// absent.
type Summaries map[string]data.ConversationSummary

// SubscribeToSummaries delivers the viewer's conversation summaries after
// every change to the chats collection. The unread flag is recomputed per
// update from the latest message's sender; the unread count is derived from
// the messages newer than the viewer's read marker. Returns a cancel that
// must be called on teardown.
func (r *Registry) SubscribeToSummaries(ctx context.Context, self data.Identity, onChange func(Summaries), onError func(error)) (docstore.CancelFunc, error) {
	// identities of other participants change rarely; cache lookups for the
	// lifetime of the subscription
	others := map[string]data.Identity{}

	listener := docstore.Listener{
		OnChange: func(docs []docstore.Doc) {
			out := Summaries{}
			for _, doc := range docs {
				a, b, ok := ParseConversationID(doc.ID)
				if !ok {
					continue
				}
				var otherID string
				switch self.ID {
				case a:
					otherID = b
				case b:
					otherID = a
				default:
					continue
				}
				sum := r.buildSummary(ctx, doc, self.ID, otherID, others)
				out[otherID] = sum
			}
			onChange(out)
		},
		OnError: func(err error) {
			if onError != nil {
				onError(&RegistryError{Err: err})
				return
			}
			log.Printf("registry: summary stream failed: %v", err)
		},
	}

	cancel, err := r.store.Snapshot(ctx, data.CollChats, docstore.Query{}, listener)
	if err != nil {
		return nil, &RegistryError{Err: err}
	}
	return cancel, nil
}

func (r *Registry) buildSummary(ctx context.Context, doc docstore.Doc, selfID, otherID string, others map[string]data.Identity) data.ConversationSummary {
	sum := data.ConversationSummary{
		ConversationID: doc.ID,
		LastRead:       map[string]time.Time{},
	}

	if lr, ok := doc.Fields[data.FieldLastRead].(docstore.Fields); ok {
		for id, v := range lr {
			if ts, ok := v.(time.Time); ok {
				sum.LastRead[id] = ts
			}
		}
	}

	if lm, ok := doc.Fields["lastMessage"].(docstore.Fields); ok {
		preview := &data.MessagePreview{}
		if v, ok := lm["text"].(string); ok {
			preview.Text = v
		}
		if v, ok := lm["senderId"].(string); ok {
			preview.SenderID = v
		}
		if v, ok := lm["at"].(time.Time); ok {
			preview.At = v
		}
		sum.LastMessage = preview
		sum.Unread = preview.SenderID != "" && preview.SenderID != selfID
	}

	sum.UnreadCount = r.countUnread(ctx, doc.ID, selfID, sum.LastRead[selfID])
	sum.Other = r.lookupOther(ctx, otherID, others)
	return sum
}

// countUnread counts the messages the viewer has not read: newer than the
// viewer's read marker and sent by someone else.
func (r *Registry) countUnread(ctx context.Context, cid, selfID string, lastRead time.Time) int {
	docs, err := r.store.Query(ctx, data.CollMessages, docstore.Query{
		Filters: []docstore.Filter{{Field: data.FieldChatID, Value: cid}},
		OrderBy: data.FieldCreatedAt,
	})
	if err != nil {
		log.Printf("registry: unread count for %s failed: %v", cid, err)
		return 0
	}

	count := 0
	for _, doc := range docs {
		sender, _ := doc.Fields[data.FieldSenderID].(string)
		createdAt, _ := doc.Fields[data.FieldCreatedAt].(time.Time)
		if sender != selfID && createdAt.After(lastRead) {
			count++
		}
	}
	return count
}

func (r *Registry) lookupOther(ctx context.Context, otherID string, cache map[string]data.Identity) data.Identity {
	if u, ok := cache[otherID]; ok {
		return u
	}
	u := data.Identity{ID: otherID}
	if fields, err := r.store.Get(ctx, data.CollUsers, otherID); err == nil {
		if v, ok := fields[data.FieldEmail].(string); ok {
			u.Email = v
		}
		if v, ok := fields[data.FieldUsername].(string); ok {
			u.Username = v
		}
		if v, ok := fields[data.FieldProfileURL].(string); ok {
			u.ProfileURL = v
		}
	}
	cache[otherID] = u
	return u
}
