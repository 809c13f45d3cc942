// Package client implements the chat controller state machine used by the
// terminal client: connection state, optimistic rendering reconciled by
// correlation id, the unread badge and one-shot history replay. It is
// transport-agnostic; the caller owns the socket and the HTTP fetch.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/placement-chat/pkg/model"
	"github.com/mahaj/placement-chat/pkg/protocol"
)

// DefaultPendingTTL bounds how long a message stays in the pending state
// when the server echo never arrives.
const DefaultPendingTTL = 5 * time.Second

// Callbacks surface state changes to the UI. All fields are optional, and
// none may block: they can fire from timer goroutines.
type Callbacks struct {
	// OnMessage renders a message; pending marks a not-yet-confirmed own
	// message.
	OnMessage func(env protocol.Envelope, pending bool)
	// OnPendingResolved clears the pending marker after the server echo.
	OnPendingResolved func(correlationID string)
	// OnPendingExpired fires when no echo arrived within the TTL; the UI
	// should surface it as a send failure.
	OnPendingExpired func(correlationID string)
	// OnTyping toggles the peer typing indicator.
	OnTyping func(sender string, typing bool)
	// OnUnread reports the badge count after every change.
	OnUnread func(count int)
	// OnNotify raises a transient notification for a staff message that
	// arrived while the chat was backgrounded.
	OnNotify func(sender, body string)
	// OnConnection reflects transport state.
	OnConnection func(connected bool)
}

// Controller tracks one user's conversation. Live events received before the
// history replay are buffered so the rendered order is always history first,
// then live, both ascending.
type Controller struct {
	conversationID string
	identity       string
	cb             Callbacks
	pendingTTL     time.Duration

	mu            sync.Mutex
	connected     bool
	foreground    bool
	unread        int
	pending       map[string]*time.Timer
	historyLoaded bool
	backlog       []protocol.Envelope
}

func NewController(conversationID, identity string, pendingTTL time.Duration, cb Callbacks) *Controller {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &Controller{
		conversationID: conversationID,
		identity:       identity,
		cb:             cb,
		pendingTTL:     pendingTTL,
		pending:        make(map[string]*time.Timer),
	}
}

// SetConnected records transport state.
func (c *Controller) SetConnected(up bool) {
	c.mu.Lock()
	c.connected = up
	c.mu.Unlock()

	if c.cb.OnConnection != nil {
		c.cb.OnConnection(up)
	}
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetForeground marks the chat UI open or closed. Opening resets the unread
// badge, mirroring the server-side read flag without reading it.
func (c *Controller) SetForeground(fg bool) {
	c.mu.Lock()
	c.foreground = fg
	changed := fg && c.unread != 0
	if fg {
		c.unread = 0
	}
	unread := c.unread
	c.mu.Unlock()

	if changed && c.cb.OnUnread != nil {
		c.cb.OnUnread(unread)
	}
}

func (c *Controller) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Compose renders the message optimistically, registers it as pending and
// returns the envelope the caller must emit. The pending marker clears on
// the server echo or, failing that, when the TTL sweep fires.
func (c *Controller) Compose(body string, attachment *model.Attachment) protocol.Envelope {
	env := protocol.Envelope{
		Event:          protocol.EventChatMessage,
		ConversationID: c.conversationID,
		Sender:         c.identity,
		Role:           model.RoleUser,
		Body:           body,
		Attachment:     attachment,
		CorrelationID:  uuid.NewString(),
	}

	c.mu.Lock()
	id := env.CorrelationID
	c.pending[id] = time.AfterFunc(c.pendingTTL, func() { c.expirePending(id) })
	c.mu.Unlock()

	if c.cb.OnMessage != nil {
		c.cb.OnMessage(env, true)
	}
	return env
}

func (c *Controller) expirePending(correlationID string) {
	c.mu.Lock()
	_, ok := c.pending[correlationID]
	delete(c.pending, correlationID)
	c.mu.Unlock()

	if ok && c.cb.OnPendingExpired != nil {
		c.cb.OnPendingExpired(correlationID)
	}
}

// LoadHistory replays the ordered history fetched from the catch-up
// endpoint, then flushes any live events that arrived in the meantime.
// Only the first call renders; reconnect catch-up should build a fresh
// controller.
func (c *Controller) LoadHistory(history []model.StoredMessage) {
	c.mu.Lock()
	if c.historyLoaded {
		c.mu.Unlock()
		return
	}
	c.historyLoaded = true
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()

	for _, msg := range history {
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(protocol.ChatEvent(msg, ""), false)
		}
	}
	for _, env := range backlog {
		c.apply(env)
	}
}

// Apply processes one live server event. Events arriving before LoadHistory
// are buffered so history always renders first.
func (c *Controller) Apply(env protocol.Envelope) {
	c.mu.Lock()
	if !c.historyLoaded {
		c.backlog = append(c.backlog, env)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.apply(env)
}

func (c *Controller) apply(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventChatMessage:
		c.applyChat(env)
	case protocol.EventUserTyping:
		if c.cb.OnTyping != nil && env.Sender != c.identity {
			c.cb.OnTyping(env.Sender, true)
		}
	case protocol.EventStoppedTyping:
		if c.cb.OnTyping != nil && env.Sender != c.identity {
			c.cb.OnTyping(env.Sender, false)
		}
	}
}

func (c *Controller) applyChat(env protocol.Envelope) {
	c.mu.Lock()
	if timer, ok := c.pending[env.CorrelationID]; ok && env.CorrelationID != "" {
		timer.Stop()
		delete(c.pending, env.CorrelationID)
		c.mu.Unlock()

		// The optimistic copy is already on screen; just confirm it.
		if c.cb.OnPendingResolved != nil {
			c.cb.OnPendingResolved(env.CorrelationID)
		}
		return
	}

	notify := env.Role == model.RoleStaff && !c.foreground
	if notify {
		c.unread++
	}
	unread := c.unread
	c.mu.Unlock()

	if c.cb.OnMessage != nil {
		c.cb.OnMessage(env, false)
	}
	if notify {
		if c.cb.OnUnread != nil {
			c.cb.OnUnread(unread)
		}
		if c.cb.OnNotify != nil {
			c.cb.OnNotify(env.Sender, env.Body)
		}
	}
}

// Close stops pending timers. Expiry callbacks no longer fire.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.pending {
		timer.Stop()
		delete(c.pending, id)
	}
}
