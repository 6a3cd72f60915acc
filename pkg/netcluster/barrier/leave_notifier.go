package barrier

import "sync"

// LeaveNotifier is a monotonic counter with wait-for-equal semantics: a
// thread entering the barrier blocks on WaitEqual(target) until some other
// thread has incremented the counter up to target.
//
// Concurrent Enter calls on the same barrier replica are disallowed, so a
// waiter's target is never skipped past by an unrelated increment.
type LeaveNotifier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value uint64
}

// NewLeaveNotifier creates a notifier starting at 0.
func NewLeaveNotifier() *LeaveNotifier {
	n := &LeaveNotifier{}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Value returns the current counter value.
func (n *LeaveNotifier) Value() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// Increment advances the counter by one and wakes any waiters.
func (n *LeaveNotifier) Increment() {
	n.mu.Lock()
	n.value++
	n.mu.Unlock()
	n.cond.Broadcast()
}

// WaitEqual blocks until the counter reaches exactly target.
func (n *LeaveNotifier) WaitEqual(target uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.value != target {
		n.cond.Wait()
	}
}
