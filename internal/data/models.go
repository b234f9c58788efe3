// Package data holds the domain model shared by the session, directory,
// registry and stream packages, plus the document layout constants for the
// backing store.
package data

import "time"

// Collection names in the document store.
const (
	CollUsers    = "users"
	CollChats    = "chats"
	CollMessages = "messages"
)

// Field keys of the users/{id} profile document.
const (
	FieldEmail      = "email"
	FieldUsername   = "username"
	FieldProfileURL = "profileUrl"
	FieldUserID     = "userId"
)

// Field keys of the chats/{conversationId} document. LastRead entries are
// nested per participant id, e.g. "lastRead.u1".
const (
	FieldLastRead          = "lastRead"
	FieldUnreadCount       = "unreadCount"
	FieldLastUpdated       = "lastUpdated"
	FieldLastMessageText   = "lastMessage.text"
	FieldLastMessageSender = "lastMessage.senderId"
	FieldLastMessageAt     = "lastMessage.at"
)

// Field keys of a message document. Messages live in the messages collection
// keyed to their conversation via FieldChatID.
const (
	FieldChatID    = "chat_id"
	FieldSenderID  = "sender_id"
	FieldText      = "text"
	FieldCreatedAt = "created_at"
)

// Identity is a registered end-user account. The ID is assigned by the
// identity provider on registration and never changes afterwards.
type Identity struct {
	ID         string
	Email      string
	Username   string
	ProfileURL string
}

// Message is one immutable chat message. Ordering key is CreatedAt ascending,
// ties broken by store-assigned ID.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	CreatedAt      time.Time
}

// MessagePreview is the denormalized last-message excerpt kept on the
// conversation record for listing purposes.
type MessagePreview struct {
	Text     string
	SenderID string
	At       time.Time
}

// ConversationSummary is the per-conversation view used by the chat list:
// who the other participant is, the latest message, and the viewer's unread
// state.
type ConversationSummary struct {
	ConversationID string
	Other          Identity
	LastMessage    *MessagePreview
	Unread         bool
	UnreadCount    int
	LastRead       map[string]time.Time
}

// SessionState is the client's authentication status. StateUnknown only
// occurs before the identity provider has reported for the first time;
// consumers must not make navigation decisions while in it.
type SessionState int

const (
	StateUnknown SessionState = iota
	StateAuthenticated
	StateUnauthenticated
)

// String returns a short label for logging.
func (s SessionState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Session is the current authentication status plus, when authenticated, the
// signed-in identity.
type Session struct {
	State SessionState
	User  *Identity
}
