package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/placement-chat/pkg/model"
	"github.com/mahaj/placement-chat/pkg/protocol"
)

type uiRecorder struct {
	mu        sync.Mutex
	rendered  []string
	pendings  []bool
	resolved  []string
	expired   []string
	typing    []string
	unread    []int
	notified  []string
	connected []bool
	expireCh  chan string
}

func newUIRecorder() *uiRecorder {
	return &uiRecorder{expireCh: make(chan string, 8)}
}

func (u *uiRecorder) callbacks() Callbacks {
	return Callbacks{
		OnMessage: func(env protocol.Envelope, pending bool) {
			u.mu.Lock()
			u.rendered = append(u.rendered, env.Body)
			u.pendings = append(u.pendings, pending)
			u.mu.Unlock()
		},
		OnPendingResolved: func(id string) {
			u.mu.Lock()
			u.resolved = append(u.resolved, id)
			u.mu.Unlock()
		},
		OnPendingExpired: func(id string) {
			u.mu.Lock()
			u.expired = append(u.expired, id)
			u.mu.Unlock()
			u.expireCh <- id
		},
		OnTyping: func(sender string, typing bool) {
			u.mu.Lock()
			u.typing = append(u.typing, sender)
			u.mu.Unlock()
		},
		OnUnread: func(count int) {
			u.mu.Lock()
			u.unread = append(u.unread, count)
			u.mu.Unlock()
		},
		OnNotify: func(sender, body string) {
			u.mu.Lock()
			u.notified = append(u.notified, body)
			u.mu.Unlock()
		},
		OnConnection: func(up bool) {
			u.mu.Lock()
			u.connected = append(u.connected, up)
			u.mu.Unlock()
		},
	}
}

func (u *uiRecorder) renderedBodies() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.rendered...)
}

func stored(body string, role model.SenderRole, seq int64) model.StoredMessage {
	return model.StoredMessage{
		Message: model.Message{
			ConversationID: "conv-1",
			Sender:         "someone",
			Role:           role,
			Body:           body,
		},
		Seq:       seq,
		CreatedAt: time.Now().UTC(),
	}
}

func staffChat(body string) protocol.Envelope {
	return protocol.Envelope{
		Event:          protocol.EventChatMessage,
		ConversationID: "conv-1",
		Sender:         "support",
		Role:           model.RoleStaff,
		Body:           body,
	}
}

func TestComposeRendersOptimistically(t *testing.T) {
	ui := newUIRecorder()
	c := NewController("conv-1", "alice", time.Hour, ui.callbacks())
	defer c.Close()
	c.LoadHistory(nil)

	env := c.Compose("hello", nil)
	require.NotEmpty(t, env.CorrelationID)
	assert.Equal(t, protocol.EventChatMessage, env.Event)
	assert.Equal(t, "alice", env.Sender)
	assert.Equal(t, model.RoleUser, env.Role)

	ui.mu.Lock()
	require.Equal(t, []string{"hello"}, ui.rendered)
	assert.Equal(t, []bool{true}, ui.pendings)
	ui.mu.Unlock()
}

func TestEchoResolvesPendingWithoutSecondRender(t *testing.T) {
	ui := newUIRecorder()
	c := NewController("conv-1", "alice", time.Hour, ui.callbacks())
	defer c.Close()
	c.LoadHistory(nil)

	env := c.Compose("hello", nil)

	// The server echo carries the same correlation id, now with seq set.
	echo := env
	echo.Seq = 101
	echo.CreatedAt = time.Now().UTC()
	c.Apply(echo)

	ui.mu.Lock()
	assert.Equal(t, []string{"hello"}, ui.rendered, "echo must not re-render")
	assert.Equal(t, []string{env.CorrelationID}, ui.resolved)
	assert.Empty(t, ui.expired)
	ui.mu.Unlock()
}

func TestPendingExpiresWhenEchoNeverArrives(t *testing.T) {
	ui := newUIRecorder()
	c := NewController("conv-1", "alice", 30*time.Millisecond, ui.callbacks())
	defer c.Close()
	c.LoadHistory(nil)

	env := c.Compose("lost", nil)

	select {
	case id := <-ui.expireCh:
		assert.Equal(t, env.CorrelationID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("pending message never expired")
	}

	// A late echo after expiry renders as a normal message instead.
	c.Apply(env)
	ui.mu.Lock()
	assert.Equal(t, []string{"lost", "lost"}, ui.rendered)
	assert.Empty(t, ui.resolved)
	ui.mu.Unlock()
}

func TestHistoryRendersBeforeBufferedLiveEvents(t *testing.T) {
	ui := newUIRecorder()
	c := NewController("conv-1", "alice", time.Hour, ui.callbacks())
	defer c.Close()

	// Live events land while the history fetch is still in flight.
	c.Apply(staffChat("live 1"))
	c.Apply(staffChat("live 2"))
	assert.Empty(t, ui.renderedBodies(), "nothing renders before history")

	c.LoadHistory([]model.StoredMessage{
		stored("old 1", model.RoleUser, 1),
		stored("old 2", model.RoleStaff, 2),
	})

	assert.Equal(t, []string{"old 1", "old 2", "live 1", "live 2"}, ui.renderedBodies())

	// A second replay is ignored.
	c.LoadHistory([]model.StoredMessage{stored("old 1", model.RoleUser, 1)})
	assert.Len(t, ui.renderedBodies(), 4)
}

func TestUnreadBadgeAndNotification(t *testing.T) {
	ui := newUIRecorder()
	c := NewController("conv-1", "alice", time.Hour, ui.callbacks())
	defer c.Close()
	c.LoadHistory(nil)

	// Backgrounded: staff messages raise the badge and a notification.
	c.SetForeground(false)
	c.Apply(staffChat("are you there?"))
	c.Apply(staffChat("hello?"))

	assert.Equal(t, 2, c.Unread())
	ui.mu.Lock()
	assert.Equal(t, []int{1, 2}, ui.unread)
	assert.Equal(t, []string{"are you there?", "hello?"}, ui.notified)
	ui.mu.Unlock()

	// Opening the chat clears the badge.
	c.SetForeground(true)
	assert.Zero(t, c.Unread())
	ui.mu.Lock()
	assert.Equal(t, []int{1, 2, 0}, ui.unread)
	ui.mu.Unlock()

	// Foregrounded staff messages render without counting.
	c.Apply(staffChat("welcome back"))
	assert.Zero(t, c.Unread())
	ui.mu.Lock()
	assert.Len(t, ui.notified, 2)
	ui.mu.Unlock()
}

func TestTypingIndicatorSkipsOwnEvents(t *testing.T) {
	ui := newUIRecorder()
	c := NewController("conv-1", "alice", time.Hour, ui.callbacks())
	defer c.Close()
	c.LoadHistory(nil)

	c.Apply(protocol.TypingEvent("conv-1", "support", true))
	c.Apply(protocol.TypingEvent("conv-1", "alice", true))
	c.Apply(protocol.TypingEvent("conv-1", "support", false))

	ui.mu.Lock()
	assert.Equal(t, []string{"support", "support"}, ui.typing)
	ui.mu.Unlock()
}

func TestConnectionStateCallback(t *testing.T) {
	ui := newUIRecorder()
	c := NewController("conv-1", "alice", time.Hour, ui.callbacks())
	defer c.Close()

	c.SetConnected(true)
	assert.True(t, c.Connected())
	c.SetConnected(false)
	assert.False(t, c.Connected())

	ui.mu.Lock()
	assert.Equal(t, []bool{true, false}, ui.connected)
	ui.mu.Unlock()
}

func TestCloseStopsPendingTimers(t *testing.T) {
	ui := newUIRecorder()
	c := NewController("conv-1", "alice", 30*time.Millisecond, ui.callbacks())
	c.LoadHistory(nil)

	c.Compose("about to close", nil)
	c.Close()

	time.Sleep(80 * time.Millisecond)
	ui.mu.Lock()
	assert.Empty(t, ui.expired, "closed controller must not fire expiry")
	ui.mu.Unlock()
}
