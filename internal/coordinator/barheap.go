package coordinator

import (
	"container/heap"
	"time"

	"github.com/marketdata/sessioncore/internal/models"
)

// queuedBar is one pending base-interval bar waiting to be popped by the
// backtest streaming step, tagged with the symbol it belongs to (models.Bar
// already carries Symbol, but keeping it explicit here makes the heap's
// ordering key self-contained and cheap to read).
type queuedBar struct {
	symbol string
	bar    models.Bar
}

// barHeap is the min-heap keyed on (timestamp, symbol) that replaces a
// naive "peek every per-symbol queue linearly" backtest ordering with a
// logarithmic-cost pop, per spec.md §9's redesign note. One entry per
// symbol's base-interval queue head; Coordinator.runBacktest refills it by
// pushing that symbol's next bar immediately after popping.
type barHeap []queuedBar

func (h barHeap) Len() int { return len(h) }

func (h barHeap) Less(i, j int) bool {
	ti, tj := h[i].bar.Timestamp, h[j].bar.Timestamp
	if ti.Equal(tj) {
		return h[i].symbol < h[j].symbol // tie-break by symbol name, per spec.md §4.5.1
	}
	return ti.Before(tj)
}

func (h barHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *barHeap) Push(x any) { *h = append(*h, x.(queuedBar)) }

func (h *barHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// barQueue holds one symbol's remaining base-interval bars for the current
// session date, sorted chronologically (oldest first) as loaded from the
// data source. popFront removes and returns the earliest bar.
type barQueue struct {
	bars []models.Bar
}

func newBarQueue(bars []models.Bar) *barQueue {
	return &barQueue{bars: bars}
}

func (q *barQueue) empty() bool { return len(q.bars) == 0 }

func (q *barQueue) peek() (models.Bar, bool) {
	if q.empty() {
		return models.Bar{}, false
	}
	return q.bars[0], true
}

func (q *barQueue) popFront() (models.Bar, bool) {
	if q.empty() {
		return models.Bar{}, false
	}
	b := q.bars[0]
	q.bars = q.bars[1:]
	return b, true
}

// popBefore drains every bar with Timestamp < cutoff, in order. Used by
// mid-session catch-up (spec.md §4.5.2 step 5), which must not advance the
// simulated clock while replaying a newly added symbol up to the current
// time.
func (q *barQueue) popBefore(cutoff time.Time) []models.Bar {
	var out []models.Bar
	for !q.empty() {
		b, _ := q.peek()
		if !b.Timestamp.Before(cutoff) {
			break
		}
		q.popFront()
		out = append(out, b)
	}
	return out
}

var _ = heap.Interface(&barHeap{})
