// Package broadcast fans out the latest value of a stream to any number of
// subscribers. New subscribers receive the current value first.
package broadcast

import "sync"

// Value holds the most recently published value and the set of subscribers
// waiting for the next one.
//
// Every subscriber channel buffers a single value. When a subscriber falls
// behind, an unread value is replaced by the newer one, so the publisher
// never blocks and a subscriber always ends up observing the latest value.
type Value[T any] struct {
	mu          sync.RWMutex
	latest      T
	hasLatest   bool
	subscribers map[chan T]struct{}
	closed      bool
	clone       func(T) T
}

// New constructs an empty Value. Subscribers receive nothing until the first
// Publish.
func New[T any]() *Value[T] {
	return &Value[T]{subscribers: make(map[chan T]struct{})}
}

// NewWith constructs a Value that already holds initial.
func NewWith[T any](initial T) *Value[T] {
	v := New[T]()
	v.latest = initial
	v.hasLatest = true
	return v
}

// NewWithClone is NewWith for values that share memory, such as slices.
// Every subscriber and every Latest caller gets its own clone of the value.
func NewWithClone[T any](initial T, clone func(T) T) *Value[T] {
	v := NewWith(initial)
	v.clone = clone
	return v
}

func (v *Value[T]) copyOf(x T) T {
	if v.clone == nil {
		return x
	}
	return v.clone(x)
}

// Publish records x as the latest value and offers it to every subscriber.
func (v *Value[T]) Publish(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.latest = x
	v.hasLatest = true
	for ch := range v.subscribers {
		offer(ch, v.copyOf(x))
	}
}

// Subscribe returns a channel that yields the latest value (if any) followed
// by every subsequent one, and a cleanup func that closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		empty := make(chan T)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan T, 1)
	if v.hasLatest {
		ch <- v.copyOf(v.latest)
	}
	v.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.subscribers[ch]; ok {
			delete(v.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Latest returns the most recently published value.
func (v *Value[T]) Latest() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.hasLatest {
		return v.latest, false
	}
	return v.copyOf(v.latest), true
}

// Subscribers reports how many subscribers are attached.
func (v *Value[T]) Subscribers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subscribers)
}

// Close unsubscribes everyone and drops future publications.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for ch := range v.subscribers {
		close(ch)
		delete(v.subscribers, ch)
	}
}

// offer must be called with the write lock held; it is the only sender.
func offer[T any](ch chan T, x T) {
	select {
	case ch <- x:
		return
	default:
	}
	// Replace the value the subscriber has not read yet.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- x:
	default:
	}
}
