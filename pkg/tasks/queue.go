package tasks

import (
	"container/heap"

	"github.com/droverd/drover/pkg/types"
)

// taskItem is one pending task. seq keeps same-priority tasks in submission
// order.
type taskItem struct {
	taskID string
	rank   int
	seq    uint64
	index  int
}

// taskHeap implements heap.Interface: critical > high > normal > low, FIFO
// within a level.
type taskHeap []*taskItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*taskItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// taskQueue is the pending-task priority queue. Not safe for concurrent
// use; the tracker serializes access under its mutex.
type taskQueue struct {
	heap    taskHeap
	byID    map[string]*taskItem
	nextSeq uint64
}

func newTaskQueue() *taskQueue {
	return &taskQueue{byID: make(map[string]*taskItem)}
}

func (q *taskQueue) Len() int { return q.heap.Len() }

func (q *taskQueue) Contains(taskID string) bool {
	_, ok := q.byID[taskID]
	return ok
}

// Push enqueues a task id at the given priority. A duplicate id is ignored.
func (q *taskQueue) Push(taskID string, priority types.TaskPriority) {
	if _, ok := q.byID[taskID]; ok {
		return
	}
	item := &taskItem{taskID: taskID, rank: priority.Rank(), seq: q.nextSeq}
	q.nextSeq++
	q.byID[taskID] = item
	heap.Push(&q.heap, item)
}

// Pop removes and returns the highest-priority task id.
func (q *taskQueue) Pop() (string, bool) {
	if q.heap.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&q.heap).(*taskItem)
	delete(q.byID, item.taskID)
	return item.taskID, true
}

// Remove deletes a waiting task id, reporting whether it was present.
func (q *taskQueue) Remove(taskID string) bool {
	item, ok := q.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, taskID)
	return true
}
