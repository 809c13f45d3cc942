// Package protocol defines the envelope exchanged over the realtime channel.
// Every event is one JSON object tagged by an event name; arbitrary client
// payload shapes are rejected at this boundary.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mahaj/placement-chat/pkg/model"
)

type EventType string

const (
	EventJoinRoom      EventType = "join-room"
	EventChatMessage   EventType = "chat-message"
	EventUserTyping    EventType = "user-typing"
	EventStoppedTyping EventType = "user-stopped-typing"
)

var (
	// ErrInvalid marks an envelope that must be dropped silently: no
	// persistence, no broadcast, no error to the room.
	ErrInvalid = errors.New("invalid envelope")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Envelope is the wire payload for one event. Client-to-server chat messages
// carry sender fields and an optional correlation id; the server echoes the
// correlation id back on the normalized copy so the sender's optimistic UI
// can reconcile deterministically.
type Envelope struct {
	Event          EventType         `json:"event" validate:"required,oneof=join-room chat-message user-typing user-stopped-typing"`
	ConversationID string            `json:"conversationId" validate:"required"`
	Sender         string            `json:"senderIdentity,omitempty" validate:"required_if=Event chat-message"`
	Role           model.SenderRole  `json:"senderRole,omitempty" validate:"omitempty,oneof=user staff"`
	Body           string            `json:"body,omitempty"`
	Attachment     *model.Attachment `json:"attachmentRef,omitempty"`
	CorrelationID  string            `json:"correlationId,omitempty"`

	// Server-assigned on the normalized copy; ignored on input.
	Seq       int64     `json:"seq,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Decode parses and validates a raw frame. Chat messages additionally require
// a non-blank body and a sender role.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validate.Struct(env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if env.Event == EventChatMessage {
		if strings.TrimSpace(env.Body) == "" {
			return Envelope{}, fmt.Errorf("%w: blank body", ErrInvalid)
		}
		if env.Role != model.RoleUser && env.Role != model.RoleStaff {
			return Envelope{}, fmt.Errorf("%w: missing sender role", ErrInvalid)
		}
	}
	return env, nil
}

// Message converts an inbound chat envelope into the record handed to the
// store. Client-supplied seq/timestamps never survive this step.
func (e Envelope) Message() model.Message {
	msg := model.Message{
		ConversationID: e.ConversationID,
		Sender:         e.Sender,
		Role:           e.Role,
		Body:           e.Body,
	}
	if e.Attachment != nil {
		msg.Attachments = []model.Attachment{*e.Attachment}
	}
	return msg
}

// ChatEvent builds the normalized server-to-client copy of a stored message.
func ChatEvent(stored model.StoredMessage, correlationID string) Envelope {
	env := Envelope{
		Event:          EventChatMessage,
		ConversationID: stored.ConversationID,
		Sender:         stored.Sender,
		Role:           stored.Role,
		Body:           stored.Body,
		CorrelationID:  correlationID,
		Seq:            stored.Seq,
		CreatedAt:      stored.CreatedAt,
	}
	if len(stored.Attachments) > 0 {
		env.Attachment = &stored.Attachments[0]
	}
	return env
}

// TypingEvent builds the started/stopped indicator broadcast for a room.
func TypingEvent(conversationID, sender string, typing bool) Envelope {
	event := EventStoppedTyping
	if typing {
		event = EventUserTyping
	}
	return Envelope{
		Event:          event,
		ConversationID: conversationID,
		Sender:         sender,
	}
}

// Encode marshals an envelope for the wire. Envelopes built by this package
// always marshal; the error path exists for hand-rolled values.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
