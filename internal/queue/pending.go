package queue

import (
	"container/heap"

	"taskline/internal/domain"
)

// Pending holds tasks waiting for admission, ordered by priority descending
// and, within a priority tier, by push order (FIFO). It replaces a
// database-backed "ORDER BY priority DESC, created_at ASC" lease with an
// in-process heap.
//
// Pending is not safe for concurrent use; the owning scheduler serializes
// access.
type Pending struct {
	h pendingHeap
}

func NewPending() *Pending {
	return &Pending{}
}

// Push appends a task. FIFO order within a tier is preserved across
// arbitrary interleavings of Push and Pop.
func (p *Pending) Push(t domain.Task) {
	p.h.seq++
	heap.Push(&p.h, entry{task: t, seq: p.h.seq})
}

// Pop removes and returns the highest-priority, earliest-pushed task.
// The second return is false when the queue is empty.
func (p *Pending) Pop() (domain.Task, bool) {
	if len(p.h.entries) == 0 {
		return domain.Task{}, false
	}
	e := heap.Pop(&p.h).(entry)
	return e.task, true
}

func (p *Pending) Len() int { return len(p.h.entries) }

type entry struct {
	task domain.Task
	seq  uint64
}

type pendingHeap struct {
	entries []entry
	seq     uint64
}

func (h *pendingHeap) Len() int { return len(h.entries) }

func (h *pendingHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	return a.seq < b.seq
}

func (h *pendingHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

func (h *pendingHeap) Push(x any) {
	h.entries = append(h.entries, x.(entry))
}

func (h *pendingHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}
