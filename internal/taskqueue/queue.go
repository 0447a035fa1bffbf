// Package taskqueue holds the in-memory, advisory priority queue of ready
// tasks. Durability belongs to the store; on startup the recovery manager
// rebuilds this queue from status=queued rows rather than trusting
// whatever it held in memory.
package taskqueue

import (
	"container/heap"
	"sync"

	"github.com/haasonsaas/taskd/pkg/domain"
)

func priorityRank(p domain.TaskPriority) int {
	switch p {
	case domain.PriorityP0:
		return 0
	case domain.PriorityP1:
		return 1
	default:
		return 2
	}
}

// entry wraps a queued task and tracks its position in the heap so Remove
// can locate and fix it without a linear scan of the backing slice.
type entry struct {
	task  *domain.Task
	index int
}

// heapSlice is a min-heap ordered by (priority rank, createdAt): P0 before
// P1 before P2, FIFO within a priority.
type heapSlice []*entry

func (h heapSlice) Len() int { return len(h) }

func (h heapSlice) Less(i, j int) bool {
	ri, rj := priorityRank(h[i].task.Priority), priorityRank(h[j].task.Priority)
	if ri != rj {
		return ri < rj
	}
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}

func (h heapSlice) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *heapSlice) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is the ready-task priority heap. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	h       heapSlice
	byID    map[string]*entry
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{byID: make(map[string]*entry)}
}

// Enqueue adds task to the queue. If a task with the same ID is already
// queued, it is replaced.
func (q *Queue) Enqueue(task *domain.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byID[task.ID]; ok {
		existing.task = task
		heap.Fix(&q.h, existing.index)
		return
	}

	e := &entry{task: task}
	heap.Push(&q.h, e)
	q.byID[task.ID] = e
}

// Dequeue removes and returns the highest-priority ready task, or nil if
// the queue is empty.
func (q *Queue) Dequeue() *domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		return nil
	}
	e := heap.Pop(&q.h).(*entry)
	delete(q.byID, e.task.ID)
	return e.task
}

// Peek returns the highest-priority ready task without removing it, or
// nil if the queue is empty.
func (q *Queue) Peek() *domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0].task
}

// Remove removes the task with the given ID, reporting whether it was
// present.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byID, taskID)
	return true
}

// Contains reports whether taskID is currently queued.
func (q *Queue) Contains(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[taskID]
	return ok
}

// Size returns the number of queued tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.h = nil
	q.byID = make(map[string]*entry)
}
