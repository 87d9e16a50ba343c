// Package housekeeper implements the single-owner cooperative scheduler
// (spec C7/C8): a min-heap of pending Actions keyed by (due, class),
// multiplexed against a bounded inbox channel inside one event loop
// goroutine. Modeled directly on the Rust housekeeper's BinaryHeap-based
// Queue and its wake_up_time()/schedule()/pop() trio.
package housekeeper

import (
	"container/heap"
	"time"
)

// LongSlumber is the wake interval the scheduler falls back to when the
// queue is empty, matching the Rust original's LONG_SLUMBER constant.
const LongSlumber = 24 * time.Hour

// ActionClass identifies one schedulable unit of housekeeping work.
// Equality is by class alone: at most one Action per class may sit in
// the queue at any time, so scheduling a class already present replaces
// its due time rather than adding a second entry.
type ActionClass struct {
	// Kind discriminates the class variant ("session", "account",
	// "store", "acme", "reload_license").
	Kind string
	// ID disambiguates Store and Acme classes (store id / acme provider
	// id); unused by the singleton classes.
	ID string
}

// Action is one scheduled unit of work: fire at Due, doing whatever Class
// identifies.
type Action struct {
	Due   time.Time
	Class ActionClass
}

// actionHeap is a container/heap.Interface min-heap ordered by Due.
type actionHeap []*Action

func (h actionHeap) Len() int            { return len(h) }
func (h actionHeap) Less(i, j int) bool  { return h[i].Due.Before(h[j].Due) }
func (h actionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *actionHeap) Push(x interface{}) { *h = append(*h, x.(*Action)) }
func (h *actionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the scheduler's priority queue of pending Actions, with an
// index by class enforcing the at-most-one-per-class invariant.
type Queue struct {
	heap    actionHeap
	byClass map[ActionClass]*Action
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{byClass: make(map[ActionClass]*Action)}
}

// Schedule inserts or reschedules the Action for class at due. If class
// is already queued, its due time is updated in place rather than adding
// a duplicate entry.
func (q *Queue) Schedule(class ActionClass, due time.Time) {
	if existing, ok := q.byClass[class]; ok {
		existing.Due = due
		heap.Fix(&q.heap, indexOf(q.heap, existing))
		return
	}
	a := &Action{Due: due, Class: class}
	q.byClass[class] = a
	heap.Push(&q.heap, a)
}

// Remove drops class's pending Action, if any; a class with nothing
// queued is ignored.
func (q *Queue) Remove(class ActionClass) {
	a, ok := q.byClass[class]
	if !ok {
		return
	}
	idx := indexOf(q.heap, a)
	if idx >= 0 {
		heap.Remove(&q.heap, idx)
	}
	delete(q.byClass, class)
}

// Peek returns the next Action to fire without removing it, and whether
// the queue is non-empty.
func (q *Queue) Peek() (*Action, bool) {
	if len(q.heap) == 0 {
		return nil, false
	}
	return q.heap[0], true
}

// Pop removes and returns the next Action to fire.
func (q *Queue) Pop() (*Action, bool) {
	if len(q.heap) == 0 {
		return nil, false
	}
	a := heap.Pop(&q.heap).(*Action)
	delete(q.byClass, a.Class)
	return a, true
}

// WakeUpTime returns how long the scheduler should sleep before the next
// Action is due, or LongSlumber if the queue is empty.
func (q *Queue) WakeUpTime(now time.Time) time.Duration {
	a, ok := q.Peek()
	if !ok {
		return LongSlumber
	}
	d := a.Due.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Len reports the number of pending Actions (for metrics: queue depth).
func (q *Queue) Len() int { return len(q.heap) }

func indexOf(h actionHeap, a *Action) int {
	for i, e := range h {
		if e == a {
			return i
		}
	}
	return -1
}
