package sim

import (
	"container/heap"

	"trialcore/pkg/domain"
)

// eventQueue is a time-ordered min-heap of pending events. Ties on time
// break on sequence number so replays pop in an identical order.
type eventQueue []*domain.Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].Time != q[j].Time {
		return q[i].Time < q[j].Time
	}
	return q[i].Sequence < q[j].Sequence
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*domain.Event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

func (q eventQueue) peek() *domain.Event {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

var _ heap.Interface = (*eventQueue)(nil)
