// Package session holds per-connection conversation state, currently the
// typing-indicator debounce. Typing state is per (endpoint, conversation)
// and never persisted.
package session

import (
	"sync"
	"time"
)

// DefaultTypingWindow matches the 2-second inactivity window the web client
// has always used.
const DefaultTypingWindow = 2 * time.Second

// TypingTracker debounces keystroke events into exactly one started/stopped
// pair per typing burst:
//
//	idle -> typing   first keystroke, emits started
//	typing -> typing keystrokes inside the window reset the timer, no event
//	typing -> idle   window elapses or a message is sent, emits stopped
//
// One tracker serves one endpoint; the conversation id keys the state.
// Callbacks may fire from the timer goroutine.
type TypingTracker struct {
	mu      sync.Mutex
	window  time.Duration
	timers  map[string]*time.Timer
	started func(conversationID string)
	stopped func(conversationID string)
	closed  bool
}

func NewTypingTracker(window time.Duration, started, stopped func(conversationID string)) *TypingTracker {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingTracker{
		window:  window,
		timers:  make(map[string]*time.Timer),
		started: started,
		stopped: stopped,
	}
}

// Keystroke records typing activity. The first keystroke after idle emits
// started; later ones only push the inactivity deadline out.
func (t *TypingTracker) Keystroke(conversationID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if timer, ok := t.timers[conversationID]; ok {
		timer.Reset(t.window)
		t.mu.Unlock()
		return
	}
	t.timers[conversationID] = time.AfterFunc(t.window, func() { t.expire(conversationID) })
	t.mu.Unlock()

	t.started(conversationID)
}

// Stop forces the idle transition, emitting stopped if a burst was active.
// Used on explicit stopped-typing events and on message send.
func (t *TypingTracker) Stop(conversationID string) {
	t.mu.Lock()
	timer, ok := t.timers[conversationID]
	if ok {
		timer.Stop()
		delete(t.timers, conversationID)
	}
	t.mu.Unlock()

	if ok {
		t.stopped(conversationID)
	}
}

func (t *TypingTracker) expire(conversationID string) {
	t.mu.Lock()
	_, ok := t.timers[conversationID]
	if ok {
		delete(t.timers, conversationID)
	}
	closed := t.closed
	t.mu.Unlock()

	if ok && !closed {
		t.stopped(conversationID)
	}
}

// Close cancels all pending timers without emitting stopped events. Called on
// disconnect, where room membership is already gone and a stopped broadcast
// would go nowhere.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
