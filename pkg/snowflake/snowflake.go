// Package snowflake generates 64-bit, strictly increasing sequence numbers:
// 41 bits of millisecond timestamp, 10 bits of node id, 12 bits of
// per-millisecond step. Messages within a conversation sort by this value.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
}

// NewNode returns a generator for the given node id. Node ids must be unique
// per server instance (0..1023); set SNOWFLAKE_NODE accordingly in deployments
// with more than one instance.
func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("snowflake: node id must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

// Generate returns the next sequence number. Safe for concurrent use.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < n.time {
		// Clock moved backwards; hold the last observed time so the
		// sequence never regresses.
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}
