package recipe

import (
	"slices"
)

type span struct {
	off, n int
}

// EventIndex maps an event id to the indices (into Recipe.Images) of every
// image that includes it. It is built once and read during extraction;
// all image lists share one backing slice.
type EventIndex struct {
	spans  map[uint64]span
	refs   []int
	events []uint64
}

// EventIndex builds the event -> image index relation of r.
func (r *Recipe) EventIndex() *EventIndex {
	type pair struct {
		event uint64
		image int
	}
	var pairs []pair
	for i, img := range r.Images {
		for _, ev := range img.Events {
			pairs = append(pairs, pair{event: ev, image: i})
		}
	}
	slices.SortFunc(pairs, func(a, b pair) int {
		if a.event != b.event {
			if a.event < b.event {
				return -1
			}
			return 1
		}
		return a.image - b.image
	})

	x := &EventIndex{
		spans: make(map[uint64]span),
		refs:  make([]int, len(pairs)),
	}
	for i, p := range pairs {
		x.refs[i] = p.image
		s, ok := x.spans[p.event]
		if !ok {
			s = span{off: i}
			x.events = append(x.events, p.event)
		}
		s.n++
		x.spans[p.event] = s
	}
	return x
}

// Images returns the image indices referencing event. The result must not
// be modified.
func (x *EventIndex) Images(event uint64) []int {
	s, ok := x.spans[event]
	if !ok {
		return nil
	}
	return x.refs[s.off : s.off+s.n : s.off+s.n]
}

// Events returns every referenced event id in ascending order.
func (x *EventIndex) Events() []uint64 {
	return x.events
}

// Len returns the number of distinct events.
func (x *EventIndex) Len() int {
	return len(x.events)
}
