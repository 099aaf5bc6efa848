package source

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/merge"
)

func drain(t *testing.T, src merge.Source[Occurrence]) []merge.Record[Occurrence] {
	t.Helper()
	var out []merge.Record[Occurrence]
	for {
		r, ok, err := src.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

const occCSV = `event,comp,sec,count
128,2,7200,3
128,1,3600
129,1,3600,2
# comment
128,1,0,1
130,5,100,0
`

func TestReadTable(t *testing.T) {
	tbl, err := ReadTable(strings.NewReader(occCSV), Filter{})
	require.NoError(t, err)

	assert.Equal(t, 4, tbl.Len(), "zero-count rows are dropped")
	assert.Equal(t, []uint64{128, 129}, tbl.Events())
	assert.Equal(t, []uint64{1, 2}, tbl.Components())

	t.Run("event_stream_sorted_by_time", func(t *testing.T) {
		recs := drain(t, tbl.EventStream(128))
		require.Len(t, recs, 3)
		assert.Equal(t, []int64{0, 3600, 7200}, []int64{recs[0].Time, recs[1].Time, recs[2].Time})
		for _, r := range recs {
			assert.Equal(t, uint64(128), r.Key)
		}
		assert.Equal(t, uint64(1), recs[1].Payload.Count, "count defaults to 1")
		assert.Equal(t, uint64(3), recs[2].Payload.Count)
	})

	t.Run("component_stream_keyed_by_component", func(t *testing.T) {
		recs := drain(t, tbl.ComponentStream(1))
		require.Len(t, recs, 3)
		assert.Equal(t, uint64(1), recs[0].Key)
		assert.Equal(t, int64(0), recs[0].Time)
		// Same time: ordered by event.
		assert.Equal(t, uint64(128), recs[1].Payload.Event)
		assert.Equal(t, uint64(129), recs[2].Payload.Event)
	})

	t.Run("missing_stream_is_empty", func(t *testing.T) {
		assert.Empty(t, drain(t, tbl.EventStream(999)))
	})
}

func TestReadTable_Filter(t *testing.T) {
	tbl, err := ReadTable(strings.NewReader(occCSV), Filter{
		Begin:      1,
		End:        3600,
		Components: map[uint64]struct{}{1: {}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, []uint64{128, 129}, tbl.Events())
	assert.Equal(t, []uint64{1}, tbl.Components())
}

func TestReadTable_Errors(t *testing.T) {
	tests := map[string]string{
		"too_few_fields": "1,2\n",
		"bad_component":  "1,x,3\n",
		"bad_time":       "1,2,yesterday\n",
		"bad_count":      "1,2,3,-1\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadTable(strings.NewReader(in), Filter{})
			assert.Error(t, err)
		})
	}
}

func TestMetricReader(t *testing.T) {
	in := `timestamp,component,MemFree,Load
0,1,5e6,0.5
10,2,2e8,1.5
5000,1,1,2
`
	r, err := NewMetricReader(strings.NewReader(in), Filter{End: 4000})
	require.NoError(t, err)
	assert.Equal(t, []string{"MemFree", "Load"}, r.Columns())

	row, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MetricRow{Sec: 0, Comp: 1, Values: []float64{5e6, 0.5}}, row)

	row, ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), row.Comp)

	_, ok, err = r.Next()
	require.NoError(t, err)
	assert.False(t, ok, "row past End is filtered")

	t.Run("bad_value", func(t *testing.T) {
		r, err := NewMetricReader(strings.NewReader("ts,c,m\n0,1,abc\n"), Filter{})
		require.NoError(t, err)
		_, _, err = r.Next()
		assert.ErrorContains(t, err, "expecting a number")
	})

	t.Run("empty_input", func(t *testing.T) {
		r, err := NewMetricReader(strings.NewReader(""), Filter{})
		require.NoError(t, err)
		_, ok, err := r.Next()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("short_header", func(t *testing.T) {
		_, err := NewMetricReader(strings.NewReader("ts\n"), Filter{})
		assert.Error(t, err)
	})
}

func TestParseTime(t *testing.T) {
	sec, err := ParseTime("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), sec)

	sec, err = ParseTime("2024-01-02 03:04:05")
	require.NoError(t, err)
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local).Unix()
	assert.Equal(t, want, sec)

	_, err = ParseTime("soon")
	assert.Error(t, err)
}

func TestParseComponents(t *testing.T) {
	set, err := ParseComponents("1, 4-6,9")
	require.NoError(t, err)
	assert.Len(t, set, 5)
	for _, id := range []uint64{1, 4, 5, 6, 9} {
		assert.Contains(t, set, id)
	}

	_, err = ParseComponents("6-4")
	assert.Error(t, err)
	_, err = ParseComponents("a")
	assert.Error(t, err)
}

func TestParseRange_Width(t *testing.T) {
	lo, hi, err := ParseRange("10-" + strconv.Itoa(10+MaxRangeWidth-1))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), lo)
	assert.Equal(t, uint64(10+MaxRangeWidth-1), hi)

	for _, in := range []string{
		"0-" + strconv.Itoa(MaxRangeWidth),
		"0-30000000",
		"0-18446744073709551615",
	} {
		t.Run(in, func(t *testing.T) {
			_, _, err := ParseRange(in)
			assert.ErrorIs(t, err, errs.ErrOrder)
		})
	}

	_, err = ParseComponents("1,0-18446744073709551615")
	assert.ErrorIs(t, err, errs.ErrOrder)
}
