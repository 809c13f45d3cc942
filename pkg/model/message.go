package model

import "time"

// SenderRole determines rendering and read-tracking rules for a message.
type SenderRole string

const (
	RoleUser  SenderRole = "user"
	RoleStaff SenderRole = "staff"
)

// Attachment references a file previously accepted by the upload endpoint.
type Attachment struct {
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	SizeBytes    int64  `json:"sizeBytes"`
}

// Message is a chat message as submitted by a client. Immutable once stored,
// except for the IsRead flag which is only meaningful for RoleUser messages.
type Message struct {
	ConversationID string       `json:"conversationId"`
	Sender         string       `json:"senderIdentity"`
	Role           SenderRole   `json:"senderRole"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	IsRead         bool         `json:"isRead"`
}

// StoredMessage is the canonical record after persistence. Seq is the
// server-assigned monotonic sort key: CreatedAt never regresses within a
// conversation, but Seq is the tiebreak under concurrent writers.
type StoredMessage struct {
	Message
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationDigest is the staff-facing summary of one conversation:
// the latest message plus how many user messages are still unread.
type ConversationDigest struct {
	ConversationID string     `json:"conversationId"`
	LastSender     string     `json:"lastSender"`
	LastRole       SenderRole `json:"lastRole"`
	LastBody       string     `json:"lastBody"`
	LastAt         time.Time  `json:"lastAt"`
	UnreadCount    int64      `json:"unreadCount"`
}
