// Package turnqueue provides a deterministic FIFO of pending turns, ordered
// by ingress sequence, per spec §4.2. It offers no concurrency guarantees of
// its own: the session manager serializes access per session.
package turnqueue

import "github.com/loopbackai/agentd/pkg/types"

// Queue is an ingressSeq-ordered FIFO of queued turns for one session.
type Queue struct {
	items []types.Turn
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue inserts t in ingressSeq order. The common case is monotonically
// increasing ingressSeq, so scanning from the tail keeps this O(1) amortized.
func (q *Queue) Enqueue(t types.Turn) {
	i := len(q.items)
	for i > 0 && q.items[i-1].IngressSeq > t.IngressSeq {
		i--
	}
	q.items = append(q.items, types.Turn{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = t
}

// Dequeue removes and returns the oldest turn, or false if empty.
func (q *Queue) Dequeue() (types.Turn, bool) {
	if len(q.items) == 0 {
		return types.Turn{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Len reports the number of queued turns.
func (q *Queue) Len() int {
	return len(q.items)
}

// CancelByTurnID removes the turn with the given ID, if queued. Returns
// whether a turn was removed.
func (q *Queue) CancelByTurnID(id string) bool {
	for i, t := range q.items {
		if t.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// CancelByWriter removes all turns submitted by writerID. Returns the count
// removed.
func (q *Queue) CancelByWriter(writerID string) int {
	out := q.items[:0]
	removed := 0
	for _, t := range q.items {
		if t.WriterID == writerID {
			removed++
			continue
		}
		out = append(out, t)
	}
	q.items = out
	return removed
}

// Peek returns the oldest turn without removing it.
func (q *Queue) Peek() (types.Turn, bool) {
	if len(q.items) == 0 {
		return types.Turn{}, false
	}
	return q.items[0], true
}
