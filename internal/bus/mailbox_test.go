package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(priority Priority) *Message {
	msg := NewMessage(TypeSystemEvent, "test", map[string]interface{}{})
	msg.Priority = priority
	return msg
}

func TestMailboxPriorityOrdering(t *testing.T) {
	tests := []struct {
		name     string
		enqueue  []Priority
		expected []Priority
	}{
		{
			name:     "mixed priorities pop critical first",
			enqueue:  []Priority{PriorityLow, PriorityCritical, PriorityHigh},
			expected: []Priority{PriorityCritical, PriorityHigh, PriorityLow},
		},
		{
			name:     "reverse enqueue order",
			enqueue:  []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow},
			expected: []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow},
		},
		{
			name:     "all equal stay in arrival order",
			enqueue:  []Priority{PriorityNormal, PriorityNormal, PriorityNormal},
			expected: []Priority{PriorityNormal, PriorityNormal, PriorityNormal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := newMailbox(10)
			for _, p := range tt.enqueue {
				require.NoError(t, mb.Push(newTestMessage(p)))
			}
			for i, want := range tt.expected {
				msg := mb.Pop(time.Millisecond)
				require.NotNil(t, msg, "pop %d", i)
				assert.Equal(t, want, msg.Priority, "pop %d", i)
			}
		})
	}
}

func TestMailboxFIFOWithinPriority(t *testing.T) {
	mb := newMailbox(10)

	first := newTestMessage(PriorityNormal)
	second := newTestMessage(PriorityNormal)
	third := newTestMessage(PriorityNormal)
	require.NoError(t, mb.Push(first))
	require.NoError(t, mb.Push(second))
	require.NoError(t, mb.Push(third))

	assert.Equal(t, first.ID, mb.Pop(time.Millisecond).ID)
	assert.Equal(t, second.ID, mb.Pop(time.Millisecond).ID)
	assert.Equal(t, third.ID, mb.Pop(time.Millisecond).ID)
}

func TestMailboxCapacity(t *testing.T) {
	mb := newMailbox(2)

	require.NoError(t, mb.Push(newTestMessage(PriorityNormal)))
	require.NoError(t, mb.Push(newTestMessage(PriorityNormal)))

	err := mb.Push(newTestMessage(PriorityCritical))
	assert.ErrorIs(t, err, ErrMailboxFull)

	// Consuming one frees a slot
	require.NotNil(t, mb.Pop(time.Millisecond))
	assert.NoError(t, mb.Push(newTestMessage(PriorityNormal)))
}

func TestMailboxPopTimeout(t *testing.T) {
	mb := newMailbox(5)

	start := time.Now()
	msg := mb.Pop(20 * time.Millisecond)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMailboxPopUnblocksOnPush(t *testing.T) {
	mb := newMailbox(5)

	done := make(chan *Message, 1)
	go func() {
		done <- mb.Pop(2 * time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mb.Push(newTestMessage(PriorityNormal)))

	select {
	case msg := <-done:
		assert.NotNil(t, msg)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestMailboxExpiredMessageNeverReturned(t *testing.T) {
	mb := newMailbox(5)

	msg := newTestMessage(PriorityNormal)
	msg.ExpiresAt = msg.CreatedAt // ttl=0
	require.NoError(t, mb.Push(msg))

	time.Sleep(time.Millisecond)
	assert.Nil(t, mb.Pop(10*time.Millisecond))
}

func TestMailboxExpiredSkippedForLiveMessage(t *testing.T) {
	mb := newMailbox(5)

	dead := newTestMessage(PriorityCritical)
	dead.ExpiresAt = dead.CreatedAt
	live := newTestMessage(PriorityLow)
	require.NoError(t, mb.Push(dead))
	require.NoError(t, mb.Push(live))

	time.Sleep(time.Millisecond)
	got := mb.Pop(10 * time.Millisecond)
	require.NotNil(t, got)
	assert.Equal(t, live.ID, got.ID)
}

func TestMailboxSweep(t *testing.T) {
	mb := newMailbox(10)

	expired := newTestMessage(PriorityNormal)
	expired.ExpiresAt = expired.CreatedAt
	keep := newTestMessage(PriorityNormal)
	require.NoError(t, mb.Push(expired))
	require.NoError(t, mb.Push(keep))

	dropped := mb.sweep(time.Now().Add(time.Millisecond))
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, mb.Len())
	assert.Equal(t, keep.ID, mb.Pop(time.Millisecond).ID)
}

func TestMailboxCloseRejectsPush(t *testing.T) {
	mb := newMailbox(5)
	require.NoError(t, mb.Push(newTestMessage(PriorityNormal)))

	mb.close()
	assert.ErrorIs(t, mb.Push(newTestMessage(PriorityNormal)), ErrUnknownAgent)
	assert.Nil(t, mb.Pop(time.Millisecond))
	assert.Equal(t, 0, mb.Len())
}
