// Package merge interleaves independently ordered record streams into one
// globally ordered stream.
//
// Every Source must yield records in non-decreasing (Time, Key) order. The
// Merger never sorts; it keeps one cursor per source in a min-heap and
// always exposes the smallest head. Advancing re-heapifies only the cursor
// that moved, so each step is O(log k) for k live sources.
//
// Example:
//
//	m, err := merge.New(src1, src2, src3)
//	if err != nil {
//		return err
//	}
//	err = m.Drain(ctx, func(r merge.Record[Occurrence]) error {
//		return apply(r)
//	})
package merge

import (
	"container/heap"
	"context"

	"github.com/orneryd/assocminer/pkg/errs"
)

// Record is one element of a stream.
type Record[T any] struct {
	Time    int64
	Key     uint64
	Payload T
}

func (r Record[T]) less(o Record[T]) bool {
	if r.Time != o.Time {
		return r.Time < o.Time
	}
	return r.Key < o.Key
}

// Source produces records in non-decreasing (Time, Key) order. Next
// returns ok=false once the source is exhausted.
type Source[T any] interface {
	Next() (rec Record[T], ok bool, err error)
}

type cursor[T any] struct {
	src   Source[T]
	head  Record[T]
	valid bool
	id    int
}

// pull loads the next record, verifying the source does not go backwards.
func (c *cursor[T]) pull() error {
	prev, hadPrev := c.head, c.valid
	rec, ok, err := c.src.Next()
	if err != nil {
		return err
	}
	if ok && hadPrev && rec.less(prev) {
		return errs.Order("merge", "source %d went backwards: (%d,%d) after (%d,%d)",
			c.id, rec.Time, rec.Key, prev.Time, prev.Key)
	}
	c.head, c.valid = rec, ok
	return nil
}

// cursorHeap orders cursors: valid before exhausted, then Time, then Key.
type cursorHeap[T any] []*cursor[T]

func (h cursorHeap[T]) Len() int { return len(h) }

func (h cursorHeap[T]) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.valid != b.valid {
		return a.valid
	}
	return a.head.less(b.head)
}

func (h cursorHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap[T]) Push(x any) { *h = append(*h, x.(*cursor[T])) }

func (h *cursorHeap[T]) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Merger is a k-way merge over Sources.
type Merger[T any] struct {
	h cursorHeap[T]
}

// New primes one cursor per source. Sources that are empty from the start
// are dropped.
func New[T any](sources ...Source[T]) (*Merger[T], error) {
	m := &Merger[T]{h: make(cursorHeap[T], 0, len(sources))}
	for i, src := range sources {
		c := &cursor[T]{src: src, id: i}
		if err := c.pull(); err != nil {
			return nil, err
		}
		if c.valid {
			m.h = append(m.h, c)
		}
	}
	heap.Init(&m.h)
	return m, nil
}

// Len returns the number of live sources.
func (m *Merger[T]) Len() int {
	return len(m.h)
}

// Peek returns the globally smallest pending record.
func (m *Merger[T]) Peek() (Record[T], bool) {
	if len(m.h) == 0 {
		var zero Record[T]
		return zero, false
	}
	return m.h[0].head, true
}

// Advance consumes the record returned by Peek.
func (m *Merger[T]) Advance() error {
	if len(m.h) == 0 {
		return nil
	}
	top := m.h[0]
	if err := top.pull(); err != nil {
		return err
	}
	if !top.valid {
		heap.Pop(&m.h)
		return nil
	}
	heap.Fix(&m.h, 0)
	return nil
}

// Drain feeds every remaining record to fn in order. It stops at the first
// error from fn, a source, or ctx.
func (m *Merger[T]) Drain(ctx context.Context, fn func(Record[T]) error) error {
	for {
		rec, ok := m.Peek()
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		if err := m.Advance(); err != nil {
			return err
		}
	}
}

// SliceSource serves records from memory. The slice must already be
// ordered.
type SliceSource[T any] struct {
	recs []Record[T]
	pos  int
}

// FromSlice returns a Source over recs.
func FromSlice[T any](recs []Record[T]) *SliceSource[T] {
	return &SliceSource[T]{recs: recs}
}

// Next implements Source.
func (s *SliceSource[T]) Next() (Record[T], bool, error) {
	if s.pos >= len(s.recs) {
		var zero Record[T]
		return zero, false, nil
	}
	r := s.recs[s.pos]
	s.pos++
	return r, true, nil
}
