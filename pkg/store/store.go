// Package store is the durable, append-only message log. It is the single
// source of truth for conversation history: live delivery only happens after
// an append has succeeded, so catch-up reads never lag behind fan-out.
package store

import (
	"context"
	"errors"

	"github.com/mahaj/placement-chat/pkg/model"
)

// ErrPersistence wraps any backend failure. A message that fails to append
// must not be broadcast.
var ErrPersistence = errors.New("message store unavailable")

// Store is the persistence contract consumed by the relay and the HTTP
// handlers. Implementations must guarantee that Seq values assigned by
// Append are strictly increasing across all conversations and that a single
// Append is atomic.
type Store interface {
	// Append assigns Seq and CreatedAt, persists the message and returns the
	// canonical record.
	Append(ctx context.Context, msg model.Message) (model.StoredMessage, error)

	// ListByConversation returns the full history in ascending Seq order.
	// Unknown conversation ids yield an empty slice, not an error.
	ListByConversation(ctx context.Context, conversationID string) ([]model.StoredMessage, error)

	// MarkUserMessagesRead flips IsRead on every user-authored message in the
	// conversation. Idempotent.
	MarkUserMessagesRead(ctx context.Context, conversationID string) error

	// CountUnread reports how many user-authored messages are still unread.
	CountUnread(ctx context.Context, conversationID string) (int64, error)

	// Conversations lists a digest of every known conversation for the staff
	// console, most recently active first. UnreadCount is left at zero; the
	// caller fills it via CountUnread.
	Conversations(ctx context.Context) ([]model.ConversationDigest, error)
}
