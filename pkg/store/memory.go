package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mahaj/placement-chat/pkg/model"
	"github.com/mahaj/placement-chat/pkg/snowflake"
)

// Memory is an in-process Store used by tests and dependency-free dev runs.
// It honors the same ordering contract as the Scylla backend.
type Memory struct {
	mu       sync.RWMutex
	messages map[string][]model.StoredMessage
	seq      *snowflake.Node
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	node, _ := snowflake.NewNode(0)
	return &Memory{
		messages: make(map[string][]model.StoredMessage),
		seq:      node,
	}
}

func (m *Memory) Append(_ context.Context, msg model.Message) (model.StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := model.StoredMessage{
		Message:   msg,
		Seq:       m.seq.Generate(),
		CreatedAt: time.Now().UTC(),
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], stored)
	return stored, nil
}

func (m *Memory) ListByConversation(_ context.Context, conversationID string) ([]model.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.StoredMessage, len(m.messages[conversationID]))
	copy(out, m.messages[conversationID])
	return out, nil
}

func (m *Memory) MarkUserMessagesRead(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[conversationID]
	for i := range msgs {
		if msgs[i].Role == model.RoleUser {
			msgs[i].IsRead = true
		}
	}
	return nil
}

func (m *Memory) CountUnread(_ context.Context, conversationID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, msg := range m.messages[conversationID] {
		if msg.Role == model.RoleUser && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Conversations(_ context.Context) ([]model.ConversationDigest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type entry struct {
		digest model.ConversationDigest
		seq    int64
	}
	entries := make([]entry, 0, len(m.messages))
	for id, msgs := range m.messages {
		if len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]
		entries = append(entries, entry{
			digest: model.ConversationDigest{
				ConversationID: id,
				LastSender:     last.Sender,
				LastRole:       last.Role,
				LastBody:       last.Body,
				LastAt:         last.CreatedAt,
			},
			seq: last.Seq,
		})
	}
	// Seq, not wall clock, decides recency: it is the strictly monotonic key.
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	digests := make([]model.ConversationDigest, len(entries))
	for i, e := range entries {
		digests[i] = e.digest
	}
	return digests, nil
}
