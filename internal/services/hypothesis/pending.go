package hypothesis

import (
	"container/heap"
	"time"

	"EdgeLab/internal/domain/models"
)

// PendingEval is one armed prediction waiting for its horizon to elapse.
type PendingEval struct {
	HypothesisID string
	Symbol       string
	Direction    models.Direction
	EntryPrice   float64
	PredictedAt  time.Time
	DueAt        time.Time
}

// PendingQueue orders armed predictions by due timestamp so resolution
// always proceeds in time order, preserving the sequential test's validity.
// One queue per symbol; resolution prices come from that symbol's stream.
type PendingQueue struct {
	h pendingHeap
}

func NewPendingQueue() *PendingQueue {
	q := &PendingQueue{}
	heap.Init(&q.h)
	return q
}

func (q *PendingQueue) Len() int { return q.h.Len() }

// Push arms a prediction.
func (q *PendingQueue) Push(p *PendingEval) {
	heap.Push(&q.h, p)
}

// PopDue removes and returns, in due order, every pending whose horizon has
// elapsed at now. An entry due exactly at now is due.
func (q *PendingQueue) PopDue(now time.Time) []*PendingEval {
	var due []*PendingEval
	for q.h.Len() > 0 && !q.h[0].DueAt.After(now) {
		due = append(due, heap.Pop(&q.h).(*PendingEval))
	}
	return due
}

// Peek returns the earliest pending without removing it.
func (q *PendingQueue) Peek() (*PendingEval, bool) {
	if q.h.Len() == 0 {
		return nil, false
	}
	return q.h[0], true
}

type pendingHeap []*PendingEval

func (h pendingHeap) Len() int { return len(h) }

// Less orders by due time, then prediction time, then id so resolution order
// is total and deterministic.
func (h pendingHeap) Less(i, j int) bool {
	if !h[i].DueAt.Equal(h[j].DueAt) {
		return h[i].DueAt.Before(h[j].DueAt)
	}
	if !h[i].PredictedAt.Equal(h[j].PredictedAt) {
		return h[i].PredictedAt.Before(h[j].PredictedAt)
	}
	return h[i].HypothesisID < h[j].HypothesisID
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(*PendingEval)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}
