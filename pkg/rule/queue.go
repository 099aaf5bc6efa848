package rule

import (
	"context"
	"sync"
)

// State is the frontier queue state.
type State int

const (
	// StateActive: workers drain the current generation and fill the next.
	StateActive State = iota
	// StateLevelDone: every candidate of the current generation was
	// released; the generations are swapping.
	StateLevelDone
	// StateDone: a swap found the next generation empty. Final.
	StateDone
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateLevelDone:
		return "level_done"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

type generation struct {
	items []*Rule
	head  int
	live  int // dequeued-or-pending candidates not yet released
}

func (g *generation) empty() bool {
	return g.head >= len(g.items)
}

func (g *generation) reset() {
	clear(g.items)
	g.items = g.items[:0]
	g.head = 0
	g.live = 0
}

// Queue is a two-generation FIFO that runs the search breadth-first by
// antecedent length. Children enqueued while level d is processed are
// only dequeued after every level-d candidate has been released.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	cur   *generation
	next  *generation
	state State
	level int

	hookMu   sync.Mutex
	notified int

	// OnLevel, when set, is called with the new level after each swap.
	// It runs outside the queue lock, one call at a time, and never with
	// a level lower than one already reported.
	OnLevel func(level int)
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		cur:      &generation{},
		next:     &generation{},
		level:    -1,
		notified: -1,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends r to the next generation. It is dropped once the queue
// is done.
func (q *Queue) Enqueue(r *Rule) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StateDone {
		return
	}
	q.next.items = append(q.next.items, r)
	q.next.live++
	q.cond.Broadcast()
}

// Start promotes the seeded next generation to current. It is a no-op
// when the current generation still has work.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.state == StateDone || !q.cur.empty() || q.cur.live > 0 || len(q.next.items) == 0 {
		q.mu.Unlock()
		return
	}
	level := q.swapLocked()
	q.mu.Unlock()
	q.notify(level)
}

// Dequeue pops a candidate from the current generation, blocking while
// the generation is empty but still has unreleased candidates. It returns
// ok=false once the queue is done or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (r *Rule, ok bool) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	swapped := -1
	defer func() {
		if swapped >= 0 {
			q.notify(swapped)
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.state == StateDone || ctx.Err() != nil {
			return nil, false
		}
		if !q.cur.empty() {
			r = q.cur.items[q.cur.head]
			q.cur.items[q.cur.head] = nil
			q.cur.head++
			return r, true
		}
		if q.cur.live == 0 {
			q.state = StateLevelDone
			if len(q.next.items) == 0 {
				q.state = StateDone
				q.cond.Broadcast()
				return nil, false
			}
			swapped = q.swapLocked()
			q.cond.Broadcast()
			continue
		}
		q.cond.Wait()
	}
}

// Release marks a dequeued candidate as fully processed. Its children must
// have been enqueued before the call.
func (q *Queue) Release(*Rule) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cur.live == 0 {
		panic("rule: release without a matching dequeue")
	}
	q.cur.live--
	if q.cur.live == 0 {
		q.cond.Broadcast()
	}
}

// Close forces the queue into StateDone and wakes every waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = StateDone
	q.cond.Broadcast()
}

// State returns the current state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Level returns the antecedent length being processed; -1 before Start.
func (q *Queue) Level() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.level
}

// Pending returns the number of queued candidates in both generations.
func (q *Queue) Pending() (current, next int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cur.items) - q.cur.head, len(q.next.items) - q.next.head
}

// swapLocked promotes the next generation and returns the new level.
func (q *Queue) swapLocked() int {
	q.cur.reset()
	q.cur, q.next = q.next, q.cur
	q.level++
	q.state = StateActive
	return q.level
}

func (q *Queue) notify(level int) {
	if q.OnLevel == nil {
		return
	}
	q.hookMu.Lock()
	defer q.hookMu.Unlock()
	if level <= q.notified {
		return
	}
	q.notified = level
	q.OnLevel(level)
}
