// Package reactive provides a value cell with get, set and subscribe.
package reactive

import "sync"

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Cell holds a value and notifies subscribers after every change.
// Notifications run synchronously on the goroutine that changed the value,
// outside the cell's lock, in subscription order.
type Cell[T any] struct {
	mu     sync.RWMutex
	val    T
	subs   []subscriber[T]
	nextID int
}

func NewCell[T any](v T) *Cell[T] {
	return &Cell[T]{val: v}
}

func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.val = v
	subs := c.snapshot()
	c.mu.Unlock()
	notify(subs, v)
}

// Update applies fn to the current value under the lock, so concurrent
// updates never lose writes, then notifies with the result.
func (c *Cell[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	v := fn(c.val)
	c.val = v
	subs := c.snapshot()
	c.mu.Unlock()
	notify(subs, v)
	return v
}

// Subscribe registers fn and returns a func that removes it.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Cell[T]) snapshot() []subscriber[T] {
	out := make([]subscriber[T], len(c.subs))
	copy(out, c.subs)
	return out
}

func notify[T any](subs []subscriber[T], v T) {
	for _, s := range subs {
		s.fn(v)
	}
}
