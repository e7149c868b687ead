package processor

import (
	"container/heap"

	"github.com/luminal-data/luminal/pkg/event"
)

// eventHeap is a min-heap of events ordered by ascending Ts.
type eventHeap []event.Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].Ts.Before(h[j].Ts) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(event.Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = event.Event{}
	*h = old[:n-1]

	return ev
}

func (h *eventHeap) push(ev event.Event) { heap.Push(h, ev) }

func (h *eventHeap) pop() event.Event { return heap.Pop(h).(event.Event) }

// peek returns the earliest buffered event without removing it.
func (h eventHeap) peek() (event.Event, bool) {
	if len(h) == 0 {
		return event.Event{}, false
	}

	return h[0], true
}
