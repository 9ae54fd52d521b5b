package cache

import (
	"sync"

	"github.com/i474232898/weather-globe-cache/internal/manifest"
)

// Priority controls dequeue order across the queue's tiers.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Request is one queued download: a layer's timestep identified by its index.
// Identity is (LayerID, Index); the step descriptor rides along so the
// executor does not have to look it up again.
type Request struct {
	LayerID string
	Index   int
	Step    manifest.TimeStep
}

// Queue is a three-tier priority queue over download requests: critical is
// always drained before high, high before background, and each tier is FIFO
// by enqueue time. A (layer, index) identity appears at most once per tier.
type Queue struct {
	mu    sync.Mutex
	tiers [3][]Request // indexed by Priority
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends the request to the tail of the given tier. A request with
// the same (layer, index) already in that tier is rejected, returning false.
func (q *Queue) Enqueue(req Request, p Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.tiers[p] {
		if existing.LayerID == req.LayerID && existing.Index == req.Index {
			return false
		}
	}
	q.tiers[p] = append(q.tiers[p], req)
	return true
}

// Dequeue removes and returns the head of the highest non-empty tier.
func (q *Queue) Dequeue() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, _, ok := q.dequeueLocked()
	return req, ok
}

// DequeueWithPriority is Dequeue plus the tier the request came from, taken
// atomically. Callers that want to tag a request with its priority must use
// this rather than PeekPriority followed by Dequeue.
func (q *Queue) DequeueWithPriority() (Request, Priority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueLocked()
}

func (q *Queue) dequeueLocked() (Request, Priority, bool) {
	for p := PriorityCritical; p >= PriorityBackground; p-- {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		req := tier[0]
		q.tiers[p] = tier[1:]
		return req, p, true
	}
	return Request{}, 0, false
}

// PeekPriority reports the tier of the request that would be dequeued next,
// without removing it. The answer is only stable until the next mutation.
func (q *Queue) PeekPriority() (Priority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := PriorityCritical; p >= PriorityBackground; p-- {
		if len(q.tiers[p]) > 0 {
			return p, true
		}
	}
	return 0, false
}

// Contains reports whether any queued request matches the predicate.
func (q *Queue) Contains(match func(Request) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := range q.tiers {
		for _, req := range q.tiers[p] {
			if match(req) {
				return true
			}
		}
	}
	return false
}

// Promote moves the first matching request to the tail of the given tier,
// keeping a single queue entry for its identity. No-op when nothing matches.
func (q *Queue) Promote(match func(Request) bool, p Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for t := range q.tiers {
		for i, req := range q.tiers[t] {
			if match(req) {
				q.tiers[t] = append(q.tiers[t][:i], q.tiers[t][i+1:]...)
				q.tiers[p] = append(q.tiers[p], req)
				return true
			}
		}
	}
	return false
}

// RemoveWhere removes all matching requests from all tiers and returns how
// many were removed.
func (q *Queue) RemoveWhere(match func(Request) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for t := range q.tiers {
		kept := q.tiers[t][:0]
		for _, req := range q.tiers[t] {
			if match(req) {
				removed++
				continue
			}
			kept = append(kept, req)
		}
		q.tiers[t] = kept
	}
	return removed
}

// Len returns the total number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tiers[0]) + len(q.tiers[1]) + len(q.tiers[2])
}

// IsEmpty reports whether all tiers are empty.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// matchKey matches requests by identity.
func matchKey(layerID string, index int) func(Request) bool {
	return func(r Request) bool {
		return r.LayerID == layerID && r.Index == index
	}
}

// matchLayer matches all requests of one layer.
func matchLayer(layerID string) func(Request) bool {
	return func(r Request) bool {
		return r.LayerID == layerID
	}
}
