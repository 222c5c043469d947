package resvfs

import (
	"sync"
	"sync/atomic"
)

// Cancelable is a contract to cancel something in-flight: a pending async
// read, a queued decompression job, or a whole LoadState. Cancellation
// composes: cancelling a parent cancels every child registered with it,
// immediately if it happened before the parent was cancelled, or
// retroactively if the parent already was.
type Cancelable interface {
	// Cancel marks this Cancelable cancelled and cancels every registered
	// child. Idempotent: calling it again has no further effect.
	Cancel()

	// IsCancelled reports whether Cancel has been called.
	IsCancelled() bool

	// Add registers a child to be cancelled when this Cancelable is. If
	// this instance is already cancelled, child is cancelled immediately.
	Add(child Cancelable)
}

// DefaultCancelable implements Cancelable with a CAS-guarded one-shot
// cancellation and a list of children. Used directly by load tickets:
// cancelling a ticket whose read has not yet started must prevent the read
// from ever starting.
type DefaultCancelable struct {
	mutex     sync.Mutex
	children  []Cancelable
	cancelled int32
	onCancel  func()
}

// NewCancelable returns a Cancelable that additionally invokes onCancel
// (once, under no lock) the first time it transitions to cancelled. onCancel
// may be nil.
func NewCancelable(onCancel func()) *DefaultCancelable {
	return &DefaultCancelable{onCancel: onCancel}
}

// Cancel executes immediately all registered children, or does nothing if
// already cancelled.
func (c *DefaultCancelable) Cancel() {
	c.mutex.Lock()
	// Compare-and-swap gets the memory barrier right and keeps IsCancelled
	// fast in the hot path; the mutex only serializes the children slice.
	if !atomic.CompareAndSwapInt32(&c.cancelled, 0, 1) {
		c.mutex.Unlock()
		return
	}
	children := c.children
	c.children = nil // avoid retaining cancelled children via closures
	c.mutex.Unlock()

	for _, child := range children {
		child.Cancel()
	}
	if c.onCancel != nil {
		c.onCancel()
	}
}

// IsCancelled reports whether Cancel has been called.
func (c *DefaultCancelable) IsCancelled() bool {
	// No mutex: read-mostly hot path (polled by the load state machine).
	return atomic.LoadInt32(&c.cancelled) != 0
}

// Add registers child to be cancelled when c is, or cancels it immediately
// if c already is.
func (c *DefaultCancelable) Add(child Cancelable) {
	c.mutex.Lock()
	if atomic.LoadInt32(&c.cancelled) != 0 {
		c.mutex.Unlock()
		child.Cancel()
		return
	}
	c.children = append(c.children, child)
	c.mutex.Unlock()
}
