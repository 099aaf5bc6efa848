// Package source adapts raw inputs into the ordered record streams the
// extraction phase consumes.
//
// Occurrences are (event, component, time, count) tuples. They are served
// two ways: grouped per event class (each stream keyed by event id) or
// grouped per component (each stream keyed by component id). Both
// groupings are ordered by time within a stream, which is all the merger
// requires.
package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/merge"
)

// MaxRangeWidth bounds the number of ids an "a-b" range may expand to.
const MaxRangeWidth = 1 << 20

// Occurrence is one observation of an event class on a component.
type Occurrence struct {
	Event uint64
	Comp  uint64
	Sec   int64
	Count uint64
}

// OccurrenceStore serves per-event-class streams.
type OccurrenceStore interface {
	Events() []uint64
	EventStream(event uint64) merge.Source[Occurrence]
}

// HistogramStore serves per-component streams.
type HistogramStore interface {
	Components() []uint64
	ComponentStream(comp uint64) merge.Source[Occurrence]
}

// Filter restricts inputs to a time window and a component set.
type Filter struct {
	// Begin is the inclusive lower time bound; 0 means unbounded.
	Begin int64
	// End is the inclusive upper time bound; 0 means unbounded.
	End int64
	// Components, when non-empty, is the set of accepted component ids.
	Components map[uint64]struct{}
}

// Match reports whether a record at (sec, comp) passes the filter.
func (f Filter) Match(sec int64, comp uint64) bool {
	if f.Begin != 0 && sec < f.Begin {
		return false
	}
	if f.End != 0 && sec > f.End {
		return false
	}
	if len(f.Components) > 0 {
		if _, ok := f.Components[comp]; !ok {
			return false
		}
	}
	return true
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseTime accepts epoch seconds or a local "2006-01-02 15:04:05" style
// timestamp.
func ParseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sec, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unknown time format: %q", s)
}

// ParseComponents parses a comma separated list of ids and "a-b" ranges
// into a set.
func ParseComponents(s string) (map[uint64]struct{}, error) {
	set := make(map[uint64]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := ParseRange(part)
		if err != nil {
			return nil, err
		}
		for id := lo; ; id++ {
			set[id] = struct{}{}
			if id == hi {
				break
			}
		}
	}
	return set, nil
}

// ParseRange parses "n" or "a-b" (inclusive, a <= b). A range wider than
// MaxRangeWidth ids fails with ErrOrder.
func ParseRange(s string) (lo, hi uint64, err error) {
	a, b, isRange := strings.Cut(s, "-")
	lo, err = strconv.ParseUint(strings.TrimSpace(a), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err = strconv.ParseUint(strings.TrimSpace(b), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid id range %q: %w", s, err)
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("invalid id range %q: end before start", s)
	}
	if hi-lo >= MaxRangeWidth {
		return 0, 0, errs.Order("parse range", "%q spans more than %d ids", s, MaxRangeWidth)
	}
	return lo, hi, nil
}
