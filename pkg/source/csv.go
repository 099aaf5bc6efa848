package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/orneryd/assocminer/pkg/merge"
)

// Table is an in-memory occurrence table loaded from CSV. It serves both
// per-event and per-component streams.
//
// Rows are "event,component,time[,count]"; count defaults to 1. A first row
// whose first field is not numeric is taken as a header.
type Table struct {
	byEvent map[uint64][]merge.Record[Occurrence]
	byComp  map[uint64][]merge.Record[Occurrence]
	rows    int
}

// LoadTable reads the occurrence CSV at path.
func LoadTable(path string, f Filter) (*Table, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening occurrences: %w", err)
	}
	defer fh.Close()
	return ReadTable(fh, f)
}

// ReadTable reads occurrence CSV rows from r, keeping those matching f.
func ReadTable(r io.Reader, f Filter) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	t := &Table{
		byEvent: make(map[uint64][]merge.Record[Occurrence]),
		byComp:  make(map[uint64][]merge.Record[Occurrence]),
	}
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading occurrences: %w", err)
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		o, err := parseOccurrence(rec)
		if err != nil {
			return nil, fmt.Errorf("occurrences line %d: %w", line, err)
		}
		if o.Count == 0 || !f.Match(o.Sec, o.Comp) {
			continue
		}
		t.byEvent[o.Event] = append(t.byEvent[o.Event], merge.Record[Occurrence]{Time: o.Sec, Key: o.Event, Payload: o})
		t.byComp[o.Comp] = append(t.byComp[o.Comp], merge.Record[Occurrence]{Time: o.Sec, Key: o.Comp, Payload: o})
		t.rows++
	}

	for _, recs := range t.byEvent {
		sortStream(recs)
	}
	for _, recs := range t.byComp {
		sortStream(recs)
	}
	return t, nil
}

// sortStream orders a stream by time, then by the payload's other id so
// the result is deterministic.
func sortStream(recs []merge.Record[Occurrence]) {
	slices.SortStableFunc(recs, func(a, b merge.Record[Occurrence]) int {
		if a.Time != b.Time {
			return cmpInt(a.Time, b.Time)
		}
		if a.Payload.Comp != b.Payload.Comp {
			return cmpInt(a.Payload.Comp, b.Payload.Comp)
		}
		return cmpInt(a.Payload.Event, b.Payload.Event)
	})
}

func cmpInt[T int64 | uint64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseUint(strings.TrimSpace(rec[0]), 10, 64)
	return err != nil
}

func parseOccurrence(rec []string) (Occurrence, error) {
	if len(rec) < 3 || len(rec) > 4 {
		return Occurrence{}, fmt.Errorf("want 3 or 4 fields, got %d", len(rec))
	}
	var o Occurrence
	var err error
	if o.Event, err = strconv.ParseUint(strings.TrimSpace(rec[0]), 10, 64); err != nil {
		return o, fmt.Errorf("event: %w", err)
	}
	if o.Comp, err = strconv.ParseUint(strings.TrimSpace(rec[1]), 10, 64); err != nil {
		return o, fmt.Errorf("component: %w", err)
	}
	if o.Sec, err = ParseTime(rec[2]); err != nil {
		return o, err
	}
	o.Count = 1
	if len(rec) == 4 {
		if o.Count, err = strconv.ParseUint(strings.TrimSpace(rec[3]), 10, 64); err != nil {
			return o, fmt.Errorf("count: %w", err)
		}
	}
	return o, nil
}

// Len returns the number of rows kept.
func (t *Table) Len() int {
	return t.rows
}

// Events implements OccurrenceStore.
func (t *Table) Events() []uint64 {
	return sortedKeys(t.byEvent)
}

// EventStream implements OccurrenceStore.
func (t *Table) EventStream(event uint64) merge.Source[Occurrence] {
	return merge.FromSlice(t.byEvent[event])
}

// Components implements HistogramStore.
func (t *Table) Components() []uint64 {
	return sortedKeys(t.byComp)
}

// ComponentStream implements HistogramStore.
func (t *Table) ComponentStream(comp uint64) merge.Source[Occurrence] {
	return merge.FromSlice(t.byComp[comp])
}

func sortedKeys(m map[uint64][]merge.Record[Occurrence]) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MetricRow is one metric sample row.
type MetricRow struct {
	Sec    int64
	Comp   uint64
	Values []float64
}

// MetricReader streams metric CSV rows "timestamp,component,m1,m2,...".
// The first row is a header naming the metric columns.
type MetricReader struct {
	cr      *csv.Reader
	columns []string
	filter  Filter
	line    int
}

// NewMetricReader reads the header from r.
func NewMetricReader(r io.Reader, f Filter) (*MetricReader, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &MetricReader{cr: cr, filter: f}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading metric header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("metric header needs timestamp and component columns, got %d fields", len(header))
	}
	cols := make([]string, 0, len(header)-2)
	for _, h := range header[2:] {
		cols = append(cols, strings.TrimSpace(h))
	}
	return &MetricReader{cr: cr, columns: cols, filter: f, line: 1}, nil
}

// Columns returns the metric column names in order.
func (m *MetricReader) Columns() []string {
	return m.columns
}

// Next returns the next row passing the filter.
func (m *MetricReader) Next() (MetricRow, bool, error) {
	for {
		rec, err := m.cr.Read()
		if errors.Is(err, io.EOF) {
			return MetricRow{}, false, nil
		}
		m.line++
		if err != nil {
			return MetricRow{}, false, fmt.Errorf("metrics line %d: %w", m.line, err)
		}

		sec, err := ParseTime(rec[0])
		if err != nil {
			return MetricRow{}, false, fmt.Errorf("metrics line %d: %w", m.line, err)
		}
		comp, err := strconv.ParseUint(strings.TrimSpace(rec[1]), 10, 64)
		if err != nil {
			return MetricRow{}, false, fmt.Errorf("metrics line %d: component: %w", m.line, err)
		}
		if !m.filter.Match(sec, comp) {
			continue
		}

		row := MetricRow{Sec: sec, Comp: comp, Values: make([]float64, len(rec)-2)}
		for i, s := range rec[2:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return MetricRow{}, false, fmt.Errorf("metrics line %d: expecting a number, got %q", m.line, s)
			}
			row.Values[i] = v
		}
		return row, true, nil
	}
}
