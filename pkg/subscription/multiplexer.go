// Package subscription shares one underlying subscription per key between any
// number of logical subscribers using reference counting.
package subscription

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrClosed is returned by Attach once the Multiplexer has been closed.
var ErrClosed = errors.New("multiplexer closed")

// Handle is an open underlying subscription. bus.Subscription satisfies it.
type Handle interface {
	Unsubscribe() error
}

// ActivateFunc opens the underlying subscription for key.
type ActivateFunc func(key string) (Handle, error)

// Observer is notified when an underlying subscription opens or closes.
type Observer interface {
	Activated(key string)
	Released(key string)
}

type record struct {
	count  int
	handle Handle
}

// Multiplexer keeps exactly one Handle per key while at least one subscriber
// is attached. It is safe for concurrent use; activate and release run with
// the table lock held so that attach/detach pairs for one key never overlap.
type Multiplexer struct {
	mu       sync.Mutex
	activate ActivateFunc
	records  map[string]*record
	observer Observer
	closed   bool
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithObserver registers o for activation and release notifications.
func WithObserver(o Observer) Option {
	return func(m *Multiplexer) { m.observer = o }
}

// NewMultiplexer constructs a Multiplexer around activate.
func NewMultiplexer(activate ActivateFunc, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		activate: activate,
		records:  make(map[string]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach registers a subscriber for key. The first subscriber opens the
// underlying subscription; later ones only increment the count.
func (m *Multiplexer) Attach(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if rec, ok := m.records[key]; ok {
		rec.count++
		return nil
	}

	handle, err := m.activate(key)
	if err != nil {
		return fmt.Errorf("activate %q: %w", key, err)
	}
	m.records[key] = &record{count: 1, handle: handle}
	if m.observer != nil {
		m.observer.Activated(key)
	}
	return nil
}

// Detach unregisters a subscriber for key. When the last one leaves, the
// underlying subscription is released. Unknown keys are ignored.
func (m *Multiplexer) Detach(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil
	}
	rec.count--
	if rec.count > 0 {
		return nil
	}

	delete(m.records, key)
	if m.observer != nil {
		m.observer.Released(key)
	}
	if rec.handle == nil {
		return nil
	}
	if err := rec.handle.Unsubscribe(); err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	return nil
}

// Count returns the number of subscribers attached to key.
func (m *Multiplexer) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		return rec.count
	}
	return 0
}

// Keys returns the keys with an open underlying subscription, sorted.
func (m *Multiplexer) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close releases every underlying subscription regardless of counts. Later
// Attach calls fail with ErrClosed.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	var firstErr error
	for key, rec := range m.records {
		delete(m.records, key)
		if m.observer != nil {
			m.observer.Released(key)
		}
		if rec.handle == nil {
			continue
		}
		if err := rec.handle.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release %q: %w", key, err)
		}
	}
	return firstErr
}
