// Package relay binds one realtime connection to the router, the store and
// the typing tracker: it decodes envelopes, enforces the persist-before-
// broadcast rule and keeps membership bookkeeping tied to the connection
// lifecycle.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/mahaj/placement-chat/pkg/model"
	"github.com/mahaj/placement-chat/pkg/presence"
	"github.com/mahaj/placement-chat/pkg/protocol"
	"github.com/mahaj/placement-chat/pkg/room"
	"github.com/mahaj/placement-chat/pkg/session"
	"github.com/mahaj/placement-chat/pkg/store"
)

// Fanout delivers a normalized event to every live subscriber of a
// conversation. The router satisfies this directly; the Kafka bridge
// satisfies it for multi-instance deployments.
type Fanout interface {
	Broadcast(conversationID string, payload []byte)
}

// Identity is the authenticated principal behind a connection. Users are
// bound to their own conversation; staff may join any.
type Identity struct {
	Name           string
	Role           model.SenderRole
	ConversationID string
}

// Session is the server-side state machine for one connection. All Handle*
// calls happen on the connection's read goroutine, so joined needs no lock.
type Session struct {
	endpoint *room.Endpoint
	router   *room.Router
	messages store.Store
	fanout   Fanout
	presence *presence.Tracker
	typing   *session.TypingTracker
	identity Identity
	joined   map[string]bool
	log      *slog.Logger
}

func NewSession(
	endpoint *room.Endpoint,
	router *room.Router,
	messages store.Store,
	fanout Fanout,
	pres *presence.Tracker,
	typingWindow time.Duration,
	identity Identity,
	log *slog.Logger,
) *Session {
	s := &Session{
		endpoint: endpoint,
		router:   router,
		messages: messages,
		fanout:   fanout,
		presence: pres,
		identity: identity,
		joined:   make(map[string]bool),
		log:      log.With("endpoint", endpoint.ID, "identity", identity.Name),
	}
	s.typing = session.NewTypingTracker(typingWindow,
		func(conversationID string) { s.broadcastTyping(conversationID, true) },
		func(conversationID string) { s.broadcastTyping(conversationID, false) },
	)
	return s
}

// HandleRaw decodes one inbound frame and dispatches it. Invalid envelopes
// are dropped silently: no persistence, no broadcast, no error to the room.
func (s *Session) HandleRaw(ctx context.Context, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		s.log.Debug("dropping invalid envelope", "err", err)
		return
	}
	if !s.mayAccess(env.ConversationID) {
		s.log.Warn("conversation access denied", "conversation", env.ConversationID)
		return
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		s.handleJoin(ctx, env.ConversationID)
	case protocol.EventChatMessage:
		s.handleChat(ctx, env)
	case protocol.EventUserTyping:
		s.typing.Keystroke(env.ConversationID)
	case protocol.EventStoppedTyping:
		s.typing.Stop(env.ConversationID)
	}
}

// mayAccess mirrors the handshake rule: a user token is scoped to its own
// conversation, staff tokens are not.
func (s *Session) mayAccess(conversationID string) bool {
	if s.identity.Role == model.RoleStaff {
		return true
	}
	return conversationID == s.identity.ConversationID
}

func (s *Session) handleJoin(ctx context.Context, conversationID string) {
	s.router.Join(s.endpoint, conversationID)
	s.joined[conversationID] = true
	s.presence.Join(ctx, conversationID, s.identity.Name)
}

func (s *Session) handleChat(ctx context.Context, env protocol.Envelope) {
	// Sending a message ends the typing burst.
	s.typing.Stop(env.ConversationID)

	// The authenticated identity wins over whatever the client claimed.
	msg := env.Message()
	msg.Sender = s.identity.Name
	msg.Role = s.identity.Role

	// Persist before broadcast: if the append fails the event must not reach
	// the room, so the durable log stays authoritative. The sender sees the
	// missing echo and treats it as a send failure.
	stored, err := s.messages.Append(ctx, msg)
	if err != nil {
		s.log.Error("append failed, suppressing broadcast",
			"conversation", env.ConversationID, "err", err)
		return
	}

	payload, err := protocol.ChatEvent(stored, env.CorrelationID).Encode()
	if err != nil {
		s.log.Error("encode chat event", "err", err)
		return
	}
	s.fanout.Broadcast(stored.ConversationID, payload)
}

func (s *Session) broadcastTyping(conversationID string, typing bool) {
	payload, err := protocol.TypingEvent(conversationID, s.identity.Name, typing).Encode()
	if err != nil {
		s.log.Error("encode typing event", "err", err)
		return
	}
	s.fanout.Broadcast(conversationID, payload)
}

// Close tears down everything tied to the connection: room memberships,
// presence entries and pending typing timers. Safe to call once the read
// pump exits.
func (s *Session) Close(ctx context.Context) {
	s.typing.Close()
	s.router.Drop(s.endpoint)
	for conversationID := range s.joined {
		s.presence.Leave(ctx, conversationID, s.identity.Name)
	}
}
