// Package waiting implements the shared WaitingModel: one FIFO queue per
// (floor, direction) pair holding passengers who have pressed a hall button
// and are not yet aboard a car. It is the only state object touched by both
// the dispatcher (enqueue) and a car's control loop (dequeue), so every
// queue carries its own lock and size counter rather than relying on one
// global mutex.
package waiting

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/elevatorsim/controller/internal/domain"
	"github.com/elevatorsim/controller/metrics"
)

type key struct {
	floor domain.Floor
	dir   domain.Direction
}

type queue struct {
	mu      sync.Mutex
	items   []domain.Passenger
	size    atomic.Int64
}

// Model is the shared waiting-passenger registry keyed by (floor, direction).
type Model struct {
	mu     sync.RWMutex
	queues map[key]*queue
}

// New creates an empty WaitingModel.
func New() *Model {
	return &Model{queues: make(map[key]*queue)}
}

func (m *Model) queueFor(floor domain.Floor, dir domain.Direction, create bool) *queue {
	k := key{floor: floor, dir: dir}

	m.mu.RLock()
	q, ok := m.queues[k]
	m.mu.RUnlock()
	if ok {
		return q
	}
	if !create {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[k]; ok {
		return q
	}
	q = &queue{}
	m.queues[k] = q
	return q
}

// Submit appends p to the queue for (p.StartFloor, p.Direction()) and
// increments its counter. O(1).
func (m *Model) Submit(p domain.Passenger) {
	q := m.queueFor(p.StartFloor, p.Direction(), true)
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	depth := q.size.Add(1)
	metrics.SetWaitingQueueDepth(strconv.Itoa(p.StartFloor.Value()), p.Direction().String(), float64(depth))
}

// Board dequeues up to maxK passengers from (floor, dir) in FIFO order. If
// maxK <= 0 or the floor has never been used, it returns an empty slice.
func (m *Model) Board(floor domain.Floor, dir domain.Direction, maxK int) []domain.Passenger {
	if maxK <= 0 {
		return nil
	}
	q := m.queueFor(floor, dir, false)
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := maxK
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}

	boarded := make([]domain.Passenger, n)
	copy(boarded, q.items[:n])
	q.items = q.items[n:]
	depth := q.size.Add(-int64(n))
	metrics.SetWaitingQueueDepth(strconv.Itoa(floor.Value()), dir.String(), float64(depth))
	return boarded
}

// Count returns the authoritative size of the (floor, dir) queue; it never
// goes negative.
func (m *Model) Count(floor domain.Floor, dir domain.Direction) int {
	q := m.queueFor(floor, dir, false)
	if q == nil {
		return 0
	}
	n := q.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// HasWaiting is a convenience wrapper over Count.
func (m *Model) HasWaiting(floor domain.Floor, dir domain.Direction) bool {
	return m.Count(floor, dir) > 0
}

// Peek returns a best-effort prefix snapshot of up to k waiting passengers
// for visualization; it takes the queue lock only briefly and makes no
// ordering guarantee with concurrent Submit/Board calls.
func (m *Model) Peek(floor domain.Floor, dir domain.Direction, k int) []domain.Passenger {
	if k <= 0 {
		return nil
	}
	q := m.queueFor(floor, dir, false)
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := k
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]domain.Passenger, n)
	copy(out, q.items[:n])
	return out
}

// IsEmpty reports whether every tracked queue is currently empty; used by
// the drain sequence.
func (m *Model) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.queues {
		if q.size.Load() > 0 {
			return false
		}
	}
	return true
}
