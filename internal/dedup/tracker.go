// Package dedup remembers which notification ids were already handed off.
package dedup

import (
	"container/list"
	"sync"
)

const (
	DefaultCapacity = 1000
	DefaultRetain   = 500
)

// Tracker is a bounded, insertion-ordered set of ids. Once it holds more than
// capacity ids it drops all but the retain most recently inserted.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	retain   int
	order    *list.List // front = oldest
	index    map[string]*list.Element
}

// New returns a Tracker. Non-positive values select the defaults; retain is
// clamped to capacity.
func New(capacity, retain int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	if retain > capacity {
		retain = capacity
	}
	return &Tracker{
		capacity: capacity,
		retain:   retain,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity+1),
	}
}

// IsNew records id and reports whether it was not seen before.
func (t *Tracker) IsNew(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.index[id]; ok {
		return false
	}
	t.index[id] = t.order.PushBack(id)
	if t.order.Len() > t.capacity {
		t.compactLocked()
	}
	return true
}

// Seen reports whether id is remembered, without recording it.
func (t *Tracker) Seen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[id]
	return ok
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order.Init()
	t.index = make(map[string]*list.Element, t.capacity+1)
}

// Resize applies new bounds, compacting immediately if needed.
func (t *Tracker) Resize(capacity, retain int) {
	fresh := New(capacity, retain)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capacity, t.retain = fresh.capacity, fresh.retain
	if t.order.Len() > t.capacity {
		t.compactLocked()
	}
}

func (t *Tracker) compactLocked() {
	for t.order.Len() > t.retain {
		e := t.order.Front()
		delete(t.index, e.Value.(string))
		t.order.Remove(e)
	}
}
