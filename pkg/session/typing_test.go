package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	started []string
	stopped []string
	done    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 16)}
}

func (r *recorder) onStarted(conversationID string) {
	r.mu.Lock()
	r.started = append(r.started, conversationID)
	r.mu.Unlock()
}

func (r *recorder) onStopped(conversationID string) {
	r.mu.Lock()
	r.stopped = append(r.stopped, conversationID)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) counts() (started, stopped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), len(r.stopped)
}

func (r *recorder) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped event never fired")
	}
}

func TestBurstEmitsOnePair(t *testing.T) {
	rec := newRecorder()
	tr := NewTypingTracker(80*time.Millisecond, rec.onStarted, rec.onStopped)
	defer tr.Close()

	// Keystrokes inside the window: one started, timer keeps resetting.
	tr.Keystroke("conv-1")
	time.Sleep(20 * time.Millisecond)
	tr.Keystroke("conv-1")
	time.Sleep(20 * time.Millisecond)
	tr.Keystroke("conv-1")

	started, stopped := rec.counts()
	assert.Equal(t, 1, started)
	assert.Zero(t, stopped)

	// Silence lets the window elapse exactly once.
	rec.waitStopped(t)
	started, stopped = rec.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
}

func TestSendStopsBurstImmediately(t *testing.T) {
	rec := newRecorder()
	tr := NewTypingTracker(time.Hour, rec.onStarted, rec.onStopped)
	defer tr.Close()

	tr.Keystroke("conv-1")
	tr.Stop("conv-1")

	started, stopped := rec.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)

	// Idle stop is a no-op.
	tr.Stop("conv-1")
	_, stopped = rec.counts()
	assert.Equal(t, 1, stopped)
}

func TestNewBurstAfterStop(t *testing.T) {
	rec := newRecorder()
	tr := NewTypingTracker(time.Hour, rec.onStarted, rec.onStopped)
	defer tr.Close()

	tr.Keystroke("conv-1")
	tr.Stop("conv-1")
	tr.Keystroke("conv-1")
	tr.Stop("conv-1")

	started, stopped := rec.counts()
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, stopped)
}

func TestConversationsAreIndependent(t *testing.T) {
	rec := newRecorder()
	tr := NewTypingTracker(time.Hour, rec.onStarted, rec.onStopped)
	defer tr.Close()

	tr.Keystroke("conv-1")
	tr.Keystroke("conv-2")

	started, _ := rec.counts()
	require.Equal(t, 2, started)

	tr.Stop("conv-1")
	_, stopped := rec.counts()
	assert.Equal(t, 1, stopped)

	rec.mu.Lock()
	assert.Equal(t, []string{"conv-1"}, rec.stopped)
	rec.mu.Unlock()
}

func TestCloseCancelsWithoutStoppedEvents(t *testing.T) {
	rec := newRecorder()
	tr := NewTypingTracker(30*time.Millisecond, rec.onStarted, rec.onStopped)

	tr.Keystroke("conv-1")
	tr.Close()

	time.Sleep(80 * time.Millisecond)
	_, stopped := rec.counts()
	assert.Zero(t, stopped, "disconnect must not emit stopped broadcasts")

	// Events after close are ignored.
	tr.Keystroke("conv-1")
	started, _ := rec.counts()
	assert.Equal(t, 1, started)
}
