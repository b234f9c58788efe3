package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/registry"
	"github.com/PaulBabatuyi/chatcore/internal/stream"
)

// Command is one JSON request from the attached UI.
type Command struct {
	Op         string `json:"op"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password,omitempty"`
	Username   string `json:"username,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
	OtherID    string `json:"otherId,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Event is one JSON push to the attached UI.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the daemon serves a local UI; cross-origin checks are the reverse
	// proxy's job when one is in front
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one attached UI connection. Writes go through a mutex because
// pushes arrive from several goroutines (hub broadcast, view updates).
type wsConn struct {
	app *App

	mu   sync.Mutex
	conn *websocket.Conn

	viewMu sync.Mutex
	view   *stream.View
}

// Send pushes one event to the UI. Implements EventSender.
func (c *wsConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

// serveWS upgrades the request and runs the connection's read loop.
func (app *App) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	c := &wsConn{app: app, conn: conn}
	id := app.hub.Register(c)
	defer func() {
		app.hub.Unregister(id)
		c.closeView()
		_ = conn.Close()
	}()

	// replay current session state so a freshly attached UI can render
	c.sendSession(app.sessions.Current())

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		c.handle(r.Context(), cmd)
	}
}

func (c *wsConn) handle(ctx context.Context, cmd Command) {
	switch cmd.Op {
	case "signIn":
		user, err := c.app.gateway.SignIn(ctx, cmd.Email, cmd.Password)
		c.reply("signIn", user, err)
	case "signUp":
		user, err := c.app.gateway.SignUp(ctx, cmd.Email, cmd.Password, cmd.Username, cmd.ProfileURL)
		c.reply("signUp", user, err)
	case "signOut":
		c.closeView()
		c.reply("signOut", nil, c.app.gateway.SignOut(ctx))
	case "listUsers":
		self, ok := c.self()
		if !ok {
			return
		}
		users, err := c.app.directory.ListOthers(ctx, self)
		c.reply("users", users, err)
	case "openChat":
		c.openChat(cmd.OtherID)
	case "closeChat":
		c.closeView()
		c.reply("chatClosed", nil, nil)
	case "send":
		self, ok := c.self()
		if !ok {
			return
		}
		cid := registry.ConversationID(self.ID, cmd.OtherID)
		c.reply("sent", nil, c.app.adapter.Send(ctx, cid, self.ID, cmd.Text))
	case "markRead":
		self, ok := c.self()
		if !ok {
			return
		}
		c.reply("read", nil, c.app.registry.MarkRead(ctx, self.ID, cmd.OtherID))
	default:
		c.reply(cmd.Op, nil, errUnknownOp)
	}
}

// openChat opens a conversation view for this connection. Any previously
// open view is closed first; one conversation is open per connection.
func (c *wsConn) openChat(otherID string) {
	self, ok := c.self()
	if !ok {
		return
	}
	c.closeView()

	view := stream.NewView(c.app.adapter, c.app.registry)
	err := view.Open(context.Background(), self.ID, otherID,
		func(msgs []data.Message) {
			if err := c.Send(Event{Type: "messages", Payload: msgs}); err != nil {
				log.Printf("message push failed: %v", err)
			}
		},
		func(err error) {
			_ = c.Send(Event{Type: "streamError", Error: err.Error()})
		})
	if err != nil {
		c.reply("openChat", nil, err)
		return
	}

	c.viewMu.Lock()
	c.view = view
	c.viewMu.Unlock()
	c.reply("chatOpened", nil, nil)
}

func (c *wsConn) closeView() {
	c.viewMu.Lock()
	view := c.view
	c.view = nil
	c.viewMu.Unlock()
	if view != nil {
		view.Close()
	}
}

// self returns the signed-in identity, replying with an error if there is
// none.
func (c *wsConn) self() (data.Identity, bool) {
	sess := c.app.sessions.Current()
	if sess.State != data.StateAuthenticated || sess.User == nil {
		_ = c.Send(Event{Type: "error", Error: "not signed in"})
		return data.Identity{}, false
	}
	return *sess.User, true
}

func (c *wsConn) sendSession(sess data.Session) {
	payload := map[string]any{"state": sess.State.String()}
	if sess.User != nil {
		payload["user"] = sess.User
	}
	if err := c.Send(Event{Type: "session", Payload: payload}); err != nil {
		log.Printf("session push failed: %v", err)
	}
}

func (c *wsConn) reply(typ string, payload any, err error) {
	ev := Event{Type: typ}
	if err != nil {
		ev.Error = userMessage(err)
	} else if payload != nil {
		// normalize payload through JSON so time fields render consistently
		if b, merr := json.Marshal(payload); merr == nil {
			var v any
			_ = json.Unmarshal(b, &v)
			ev.Payload = v
		} else {
			ev.Payload = payload
		}
	}
	if serr := c.Send(ev); serr != nil {
		log.Printf("reply push failed: %v", serr)
	}
}
