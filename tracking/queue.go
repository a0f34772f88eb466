package tracking

import (
	"container/list"
	"sync"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

// Queue is a thread-safe FIFO queue of buffered events.
type Queue struct {
	mu   sync.Mutex
	list *list.List
}

// NewQueue creates and returns a new empty Queue.
func NewQueue() *Queue {
	return &Queue{list: list.New()}
}

// Enqueue adds an event to the end of the queue.
func (q *Queue) Enqueue(event models.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.list.PushBack(event)
}

// Requeue puts a failed batch back at the front of the queue, preserving
// the batch's internal order, so it is retried before newer events.
func (q *Queue) Requeue(events []models.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(events) - 1; i >= 0; i-- {
		q.list.PushFront(events[i])
	}
}

// Drain removes and returns all queued events in FIFO order.
func (q *Queue) Drain() []models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := make([]models.Event, 0, q.list.Len())
	for e := q.list.Front(); e != nil; e = e.Next() {
		events = append(events, e.Value.(models.Event))
	}
	q.list.Init()
	return events
}

// IsEmpty reports whether the queue has no elements.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Len() == 0
}

// Len returns the number of events currently in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Len()
}
