package stream

import (
	"context"
	"log"
	"sync"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
	"github.com/PaulBabatuyi/chatcore/internal/registry"
)

// ViewState is the client-side lifecycle of one open conversation.
type ViewState int

const (
	ViewClosed ViewState = iota
	ViewOpening
	ViewOpen
)

// View ties together the open-conversation choreography: on Open it marks
// the conversation read and subscribes to its messages; on Close (or on a
// stream failure) it releases the subscription. There is no error state: a
// failed stream reverts the view to closed and the UI re-opens it.
type View struct {
	adapter *Adapter
	reg     *registry.Registry

	mu     sync.Mutex
	state  ViewState
	cancel docstore.CancelFunc
}

// NewView returns a closed view.
func NewView(adapter *Adapter, reg *registry.Registry) *View {
	return &View{adapter: adapter, reg: reg}
}

// State returns the current view state.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Open marks the conversation between self and other as read and subscribes
// to its messages. A MarkRead failure is logged but does not block opening;
// a subscription failure closes the view and is returned.
func (v *View) Open(ctx context.Context, selfID, otherID string, onUpdate func([]data.Message), onError func(error)) error {
	v.mu.Lock()
	if v.state != ViewClosed {
		v.mu.Unlock()
		return nil
	}
	v.state = ViewOpening
	v.mu.Unlock()

	cid := registry.ConversationID(selfID, otherID)

	if err := v.reg.MarkRead(ctx, selfID, otherID); err != nil {
		log.Printf("view: mark read for %s failed: %v", cid, err)
	}

	cancel, err := v.adapter.Subscribe(ctx, cid, onUpdate, func(err error) {
		// the subscription died underneath us; revert to closed so the UI
		// can re-open
		v.Close()
		if onError != nil {
			onError(err)
		}
	})
	if err != nil {
		v.mu.Lock()
		v.state = ViewClosed
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	v.state = ViewOpen
	v.cancel = cancel
	v.mu.Unlock()
	return nil
}

// Close releases the subscription. Safe to call in any state.
func (v *View) Close() {
	v.mu.Lock()
	cancel := v.cancel
	v.cancel = nil
	v.state = ViewClosed
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
