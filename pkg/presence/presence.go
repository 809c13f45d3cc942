// Package presence tracks which identities are currently connected to each
// conversation. Backed by Redis sets so several server instances agree on
// who is online; without Redis it degrades to an in-process map.
//
// Presence is best effort: a Redis failure is logged and never blocks a
// join, a leave or message delivery.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

type Tracker struct {
	rdb *redis.Client
	log *slog.Logger

	mu    sync.Mutex
	local map[string]map[string]int // conversation -> identity -> connection count
}

// NewTracker returns a Redis-backed tracker, or a purely local one when rdb
// is nil.
func NewTracker(rdb *redis.Client, log *slog.Logger) *Tracker {
	return &Tracker{
		rdb:   rdb,
		log:   log,
		local: make(map[string]map[string]int),
	}
}

func key(conversationID string) string {
	return "conversation:" + conversationID + ":members"
}

func (t *Tracker) Join(ctx context.Context, conversationID, identity string) {
	if t.rdb != nil {
		if err := t.rdb.SAdd(ctx, key(conversationID), identity).Err(); err != nil {
			t.log.Warn("presence join failed", "conversation", conversationID, "identity", identity, "err", err)
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.local[conversationID] == nil {
		t.local[conversationID] = make(map[string]int)
	}
	t.local[conversationID][identity]++
}

func (t *Tracker) Leave(ctx context.Context, conversationID, identity string) {
	if t.rdb != nil {
		if err := t.rdb.SRem(ctx, key(conversationID), identity).Err(); err != nil {
			t.log.Warn("presence leave failed", "conversation", conversationID, "identity", identity, "err", err)
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	members := t.local[conversationID]
	if members == nil {
		return
	}
	members[identity]--
	if members[identity] <= 0 {
		delete(members, identity)
	}
	if len(members) == 0 {
		delete(t.local, conversationID)
	}
}

// Members returns the identities currently connected to the conversation,
// sorted for stable output.
func (t *Tracker) Members(ctx context.Context, conversationID string) ([]string, error) {
	if t.rdb != nil {
		members, err := t.rdb.SMembers(ctx, key(conversationID)).Result()
		if err != nil {
			return nil, err
		}
		sort.Strings(members)
		return members, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	members := make([]string, 0, len(t.local[conversationID]))
	for identity := range t.local[conversationID] {
		members = append(members, identity)
	}
	sort.Strings(members)
	return members, nil
}
