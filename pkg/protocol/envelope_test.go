package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/placement-chat/pkg/model"
)

func TestDecodeChatMessage(t *testing.T) {
	raw := []byte(`{
		"event": "chat-message",
		"conversationId": "conv-1",
		"senderIdentity": "alice",
		"senderRole": "user",
		"body": "hello there",
		"correlationId": "abc-123"
	}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EventChatMessage, env.Event)
	assert.Equal(t, "conv-1", env.ConversationID)
	assert.Equal(t, "alice", env.Sender)
	assert.Equal(t, model.RoleUser, env.Role)
	assert.Equal(t, "abc-123", env.CorrelationID)
}

func TestDecodeRejectsBlankBody(t *testing.T) {
	for name, body := range map[string]string{
		"empty":      `""`,
		"spaces":     `"   "`,
		"whitespace": `"\n\t  "`,
	} {
		t.Run(name, func(t *testing.T) {
			raw := []byte(`{
				"event": "chat-message",
				"conversationId": "conv-1",
				"senderIdentity": "alice",
				"senderRole": "user",
				"body": ` + body + `
			}`)
			_, err := Decode(raw)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	cases := map[string]string{
		"not json":            `{]`,
		"unknown event":       `{"event":"shrug","conversationId":"c"}`,
		"missing event":       `{"conversationId":"c"}`,
		"missing conversation": `{"event":"join-room"}`,
		"chat without sender": `{"event":"chat-message","conversationId":"c","senderRole":"user","body":"hi"}`,
		"chat without role":   `{"event":"chat-message","conversationId":"c","senderIdentity":"a","body":"hi"}`,
		"chat with bad role":  `{"event":"chat-message","conversationId":"c","senderIdentity":"a","senderRole":"root","body":"hi"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDecodeJoinRoomNeedsOnlyConversation(t *testing.T) {
	env, err := Decode([]byte(`{"event":"join-room","conversationId":"conv-1"}`))
	require.NoError(t, err)
	assert.Equal(t, EventJoinRoom, env.Event)
}

func TestMessageDropsClientAssignedFields(t *testing.T) {
	env := Envelope{
		Event:          EventChatMessage,
		ConversationID: "conv-1",
		Sender:         "alice",
		Role:           model.RoleUser,
		Body:           "hi",
		Attachment:     &model.Attachment{StoredName: "f.png", OriginalName: "cv.png", MimeType: "image/png", SizeBytes: 10},
		Seq:            999,
		CreatedAt:      time.Now(),
	}

	msg := env.Message()
	assert.Equal(t, "conv-1", msg.ConversationID)
	assert.False(t, msg.IsRead)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "cv.png", msg.Attachments[0].OriginalName)
}

func TestChatEventEchoesCorrelationID(t *testing.T) {
	stored := model.StoredMessage{
		Message: model.Message{
			ConversationID: "conv-1",
			Sender:         "alice",
			Role:           model.RoleUser,
			Body:           "hi",
		},
		Seq:       42,
		CreatedAt: time.Now().UTC(),
	}

	env := ChatEvent(stored, "corr-7")
	assert.Equal(t, EventChatMessage, env.Event)
	assert.Equal(t, "corr-7", env.CorrelationID)
	assert.Equal(t, int64(42), env.Seq)

	// And the normalized copy survives the wire.
	raw, err := env.Encode()
	require.NoError(t, err)
	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.Seq, back.Seq)
	assert.Equal(t, env.CorrelationID, back.CorrelationID)
}

func TestTypingEvent(t *testing.T) {
	started := TypingEvent("conv-1", "alice", true)
	assert.Equal(t, EventUserTyping, started.Event)
	assert.Equal(t, "alice", started.Sender)

	stopped := TypingEvent("conv-1", "alice", false)
	assert.Equal(t, EventStoppedTyping, stopped.Event)
}
