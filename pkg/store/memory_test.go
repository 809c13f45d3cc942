package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/placement-chat/pkg/model"
)

func userMsg(conversationID, body string) model.Message {
	return model.Message{
		ConversationID: conversationID,
		Sender:         "alice",
		Role:           model.RoleUser,
		Body:           body,
	}
}

func staffMsg(conversationID, body string) model.Message {
	return model.Message{
		ConversationID: conversationID,
		Sender:         "support",
		Role:           model.RoleStaff,
		Body:           body,
	}
}

func TestAppendAssignsIncreasingSeq(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var last int64
	for i := 0; i < 10; i++ {
		stored, err := s.Append(ctx, userMsg("conv-1", fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
		require.Greater(t, stored.Seq, last)
		require.False(t, stored.CreatedAt.IsZero())
		last = stored.Seq
	}
}

func TestListPreservesAppendOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, userMsg("conv-1", fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
	}

	messages, err := s.ListByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("msg %d", i), msg.Body)
		if i > 0 {
			assert.Greater(t, msg.Seq, messages[i-1].Seq)
			assert.False(t, msg.CreatedAt.Before(messages[i-1].CreatedAt))
		}
	}

	// Restartable: an identical second read.
	again, err := s.ListByConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, messages, again)
}

func TestConcurrentAppendsStayOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Append(ctx, userMsg("conv-1", fmt.Sprintf("w%d-%d", w, i)))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	messages, err := s.ListByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, writers*perWriter)
	for i := 1; i < len(messages); i++ {
		assert.Greater(t, messages[i].Seq, messages[i-1].Seq,
			"seq must be strictly increasing in list order")
	}
}

func TestUnknownConversationIsEmptyNotError(t *testing.T) {
	messages, err := NewMemory().ListByConversation(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMarkUserMessagesReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Append(ctx, userMsg("conv-1", "hello"))
	require.NoError(t, err)
	_, err = s.Append(ctx, staffMsg("conv-1", "hi there"))
	require.NoError(t, err)
	_, err = s.Append(ctx, userMsg("conv-1", "thanks"))
	require.NoError(t, err)

	n, err := s.CountUnread(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "staff messages are not read-tracked")

	require.NoError(t, s.MarkUserMessagesRead(ctx, "conv-1"))
	require.NoError(t, s.MarkUserMessagesRead(ctx, "conv-1"))

	n, err = s.CountUnread(ctx, "conv-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	messages, err := s.ListByConversation(ctx, "conv-1")
	require.NoError(t, err)
	for _, msg := range messages {
		if msg.Role == model.RoleUser {
			assert.True(t, msg.IsRead)
		} else {
			assert.False(t, msg.IsRead)
		}
	}

	// A new user message makes the conversation unread again.
	_, err = s.Append(ctx, userMsg("conv-1", "one more thing"))
	require.NoError(t, err)
	n, err = s.CountUnread(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConversationsDigest(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Append(ctx, userMsg("conv-a", "first"))
	require.NoError(t, err)
	_, err = s.Append(ctx, staffMsg("conv-a", "reply"))
	require.NoError(t, err)
	_, err = s.Append(ctx, userMsg("conv-b", "other thread"))
	require.NoError(t, err)

	digests, err := s.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, digests, 2)

	// Most recently active first.
	assert.Equal(t, "conv-b", digests[0].ConversationID)
	assert.Equal(t, "conv-a", digests[1].ConversationID)
	assert.Equal(t, "reply", digests[1].LastBody)
	assert.Equal(t, model.RoleStaff, digests[1].LastRole)
}
