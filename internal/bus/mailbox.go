package bus

import (
	"container/heap"
	"sync"
	"time"
)

// mailboxItem wraps a message with the arrival sequence number that breaks
// ties between equal priorities.
type mailboxItem struct {
	msg *Message
	seq uint64
}

// messageHeap orders items by priority (critical first), then arrival order
type messageHeap []*mailboxItem

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x interface{}) {
	*h = append(*h, x.(*mailboxItem))
}

func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Mailbox is a bounded, priority-ordered message queue owned by exactly one
// registered agent. Push fails fast when the box is at capacity; it never
// grows beyond it. Expiry is checked lazily on Pop and eagerly by the bus's
// periodic sweep.
type Mailbox struct {
	mu       sync.Mutex
	items    messageHeap
	capacity int
	seq      uint64
	closed   bool
	notify   chan struct{} // Signals waiting Pop callers, capacity 1
}

func newMailbox(capacity int) *Mailbox {
	mb := &Mailbox{
		capacity: capacity,
		items:    make(messageHeap, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
	heap.Init(&mb.items)
	return mb
}

// Push enqueues a message. Returns ErrMailboxFull when at capacity and
// ErrUnknownAgent when the mailbox has been destroyed.
func (mb *Mailbox) Push(msg *Message) error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return ErrUnknownAgent
	}
	if len(mb.items) >= mb.capacity {
		mb.mu.Unlock()
		return ErrMailboxFull
	}
	mb.seq++
	heap.Push(&mb.items, &mailboxItem{msg: msg, seq: mb.seq})
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the highest-priority non-expired message, blocking
// up to timeout. Returns nil on timeout or when the mailbox is destroyed.
// Expired messages encountered on the way out are dropped, not returned.
func (mb *Mailbox) Pop(timeout time.Duration) *Message {
	deadline := time.Now().Add(timeout)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if msg, closed := mb.tryPop(); msg != nil || closed {
			return msg
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if timer == nil {
			timer = time.NewTimer(remaining)
		} else {
			timer.Reset(remaining)
		}
		select {
		case <-mb.notify:
		case <-timer.C:
			// One final check in case a push raced the timeout
			msg, _ := mb.tryPop()
			return msg
		}
	}
}

// tryPop pops the first non-expired message without blocking.
// The second return is true when the mailbox is closed.
func (mb *Mailbox) tryPop() (*Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return nil, true
	}
	now := time.Now()
	for mb.items.Len() > 0 {
		item := heap.Pop(&mb.items).(*mailboxItem)
		if item.msg.Expired(now) {
			continue
		}
		return item.msg, false
	}
	return nil, false
}

// sweep drops every expired message and returns how many were removed
func (mb *Mailbox) sweep(now time.Time) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return 0
	}
	kept := make(messageHeap, 0, len(mb.items))
	dropped := 0
	for _, item := range mb.items {
		if item.msg.Expired(now) {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	if dropped > 0 {
		mb.items = kept
		heap.Init(&mb.items)
	}
	return dropped
}

// Len returns the current queue depth
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.items)
}

// close drains the mailbox and wakes any blocked Pop caller
func (mb *Mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.items = nil
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
}
