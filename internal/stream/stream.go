// Package stream delivers the ordered message sequence of one conversation
// and appends new messages to it.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
)

// ErrEmptyMessage is the local rejection for empty or whitespace-only text.
var ErrEmptyMessage = errors.New("message text is empty")

// SendError wraps a failure to append a message. No automatic retry; the
// caller may call Send again.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("send: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// StreamError wraps a subscription failure. After delivery the subscription
// is dead; re-subscribing is the listener's decision.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream: %v", e.Err) }
func (e *StreamError) Unwrap() error { return e.Err }

// Adapter subscribes to a conversation's messages and sends new ones.
type Adapter struct {
	store docstore.Store
}

// NewAdapter returns an Adapter over the given store.
func NewAdapter(store docstore.Store) *Adapter {
	return &Adapter{store: store}
}

// Subscribe delivers the full ordered message sequence on every change:
// ascending by creation time, ties broken by store-assigned id. The
// subscription never completes on its own; cancel it on teardown. A stream
// failure is delivered to onError, after which the subscription is dead.
func (a *Adapter) Subscribe(ctx context.Context, conversationID string, onUpdate func([]data.Message), onError func(error)) (docstore.CancelFunc, error) {
	q := docstore.Query{
		Filters: []docstore.Filter{{Field: data.FieldChatID, Value: conversationID}},
		OrderBy: data.FieldCreatedAt,
	}

	listener := docstore.Listener{
		OnChange: func(docs []docstore.Doc) {
			msgs := make([]data.Message, 0, len(docs))
			for _, doc := range docs {
				msgs = append(msgs, messageFromDoc(conversationID, doc))
			}
			onUpdate(msgs)
		},
		OnError: func(err error) {
			if onError != nil {
				onError(&StreamError{Err: err})
			}
		},
	}

	cancel, err := a.store.Snapshot(ctx, data.CollMessages, q, listener)
	if err != nil {
		return nil, &StreamError{Err: err}
	}
	return cancel, nil
}

// Send appends a message to the conversation. Empty or whitespace-only text
// is rejected locally before any store call. Send returns once the message
// is stored; the sender sees it appear through the same subscription as
// everyone else.
func (a *Adapter) Send(ctx context.Context, conversationID, senderID, text string) error {
	if strings.TrimSpace(text) == "" {
		return &SendError{Err: ErrEmptyMessage}
	}

	now := time.Now().UTC()
	_, err := a.store.Add(ctx, data.CollMessages, docstore.Fields{
		data.FieldChatID:    conversationID,
		data.FieldSenderID:  senderID,
		data.FieldText:      text,
		data.FieldCreatedAt: now,
	})
	if err != nil {
		return &SendError{Err: err}
	}

	// Denormalize the preview onto the conversation record so the chat list
	// updates. A merge write: a concurrent MarkRead on the same record keeps
	// its read-marker fields.
	err = a.store.Put(ctx, data.CollChats, conversationID, docstore.Fields{
		data.FieldLastMessageText:   text,
		data.FieldLastMessageSender: senderID,
		data.FieldLastMessageAt:     now,
		data.FieldLastUpdated:       now,
	}, true)
	if err != nil {
		return &SendError{Err: err}
	}
	return nil
}

func messageFromDoc(conversationID string, doc docstore.Doc) data.Message {
	m := data.Message{ID: doc.ID, ConversationID: conversationID}
	if v, ok := doc.Fields[data.FieldSenderID].(string); ok {
		m.SenderID = v
	}
	if v, ok := doc.Fields[data.FieldText].(string); ok {
		m.Text = v
	}
	if v, ok := doc.Fields[data.FieldCreatedAt].(time.Time); ok {
		m.CreatedAt = v
	}
	return m
}
