package scheduler

import "container/heap"

// queueItem is one waiting job. seq is a monotonic submission counter so
// equal-priority jobs dispatch in submission order and the ordering is total.
type queueItem struct {
	jobID    string
	priority int
	seq      uint64
	index    int // heap index, maintained by jobHeap
}

// jobHeap implements heap.Interface: highest priority first, then earliest
// submission.
type jobHeap []*queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// jobQueue is the scheduler's priority queue. Not safe for concurrent use;
// the scheduler serializes access under its mutex.
type jobQueue struct {
	heap    jobHeap
	byID    map[string]*queueItem
	nextSeq uint64
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[string]*queueItem)}
}

func (q *jobQueue) Len() int { return q.heap.Len() }

// Contains reports whether a job id is waiting in the queue.
func (q *jobQueue) Contains(jobID string) bool {
	_, ok := q.byID[jobID]
	return ok
}

// Push enqueues a job id at the given priority. A duplicate id is ignored.
func (q *jobQueue) Push(jobID string, priority int) {
	if _, ok := q.byID[jobID]; ok {
		return
	}
	item := &queueItem{jobID: jobID, priority: priority, seq: q.nextSeq}
	q.nextSeq++
	q.byID[jobID] = item
	heap.Push(&q.heap, item)
}

// Pop removes and returns the highest-priority job id.
func (q *jobQueue) Pop() (string, bool) {
	if q.heap.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&q.heap).(*queueItem)
	delete(q.byID, item.jobID)
	return item.jobID, true
}

// Remove deletes a waiting job id, reporting whether it was present.
func (q *jobQueue) Remove(jobID string) bool {
	item, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, jobID)
	return true
}
