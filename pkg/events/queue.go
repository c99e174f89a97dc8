package events

import "sync"

// DefaultQueueCapacity bounds the queue when no explicit capacity is
// configured. The original design left the queue unbounded; a bound with
// drop-oldest keeps memory flat under sustained filesystem churn.
const DefaultQueueCapacity = 10000

// Queue is a mutex-guarded bounded buffer between the producer monitors
// and the engine's single drain loop. Producers append under lock; the
// consumer snapshots and clears the whole buffer under lock, then
// processes the snapshot outside it so producers are never blocked on
// analysis work.
//
// When the queue is full the oldest event is dropped to make room and a
// counter is incremented. Within a single producer, queue order matches
// emission order; across producers there is no global ordering.
type Queue struct {
	mu       sync.Mutex
	buf      []Event
	capacity int
	dropped  uint64
}

// NewQueue creates a bounded queue. A capacity <= 0 selects
// DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		buf:      make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an event to the queue, evicting the oldest entry when the
// queue is at capacity. It reports whether the append happened without an
// eviction.
func (q *Queue) Append(evt Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.buf) >= q.capacity {
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		q.dropped++
		evicted = true
	}
	q.buf = append(q.buf, evt)
	return !evicted
}

// DrainAll atomically takes every queued event and clears the queue. The
// returned slice is owned by the caller.
func (q *Queue) DrainAll() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) == 0 {
		return nil
	}
	out := q.buf
	q.buf = make([]Event, 0, q.capacity)
	return out
}

// Depth returns the number of events currently queued.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns the total number of events evicted since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
