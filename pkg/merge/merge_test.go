package merge

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/assocminer/pkg/errs"
)

func recs(key uint64, times ...int64) []Record[string] {
	out := make([]Record[string], len(times))
	for i, t := range times {
		out[i] = Record[string]{Time: t, Key: key, Payload: "p"}
	}
	return out
}

func collect(t *testing.T, m *Merger[string]) []Record[string] {
	t.Helper()
	var out []Record[string]
	require.NoError(t, m.Drain(context.Background(), func(r Record[string]) error {
		out = append(out, r)
		return nil
	}))
	return out
}

type failingSource struct{ err error }

func (f failingSource) Next() (Record[string], bool, error) {
	return Record[string]{}, false, f.err
}

func TestMerger_Order(t *testing.T) {
	t.Run("interleaves_by_time_then_key", func(t *testing.T) {
		m, err := New[string](
			FromSlice(recs(3, 1, 4, 9)),
			FromSlice(recs(1, 1, 2, 9)),
			FromSlice(recs(2, 5)),
		)
		require.NoError(t, err)
		assert.Equal(t, 3, m.Len())

		var got [][2]int64
		for _, r := range collect(t, m) {
			got = append(got, [2]int64{r.Time, int64(r.Key)})
		}
		assert.Equal(t, [][2]int64{
			{1, 1}, {1, 3}, {2, 1}, {4, 3}, {5, 2}, {9, 1}, {9, 3},
		}, got)
		assert.Equal(t, 0, m.Len())
	})

	t.Run("empty_sources_dropped", func(t *testing.T) {
		m, err := New[string](FromSlice[string](nil), FromSlice(recs(1, 7)), FromSlice[string](nil))
		require.NoError(t, err)
		assert.Equal(t, 1, m.Len())

		r, ok := m.Peek()
		require.True(t, ok)
		assert.Equal(t, int64(7), r.Time)
	})

	t.Run("no_sources", func(t *testing.T) {
		m, err := New[string]()
		require.NoError(t, err)
		_, ok := m.Peek()
		assert.False(t, ok)
		assert.NoError(t, m.Advance())
	})

	t.Run("random_streams_no_loss", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		var sources []Source[string]
		total := 0
		for k := 0; k < 20; k++ {
			n := rng.Intn(50)
			times := make([]int64, n)
			for i := range times {
				times[i] = rng.Int63n(1000)
			}
			sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
			sources = append(sources, FromSlice(recs(uint64(k), times...)))
			total += n
		}

		m, err := New(sources...)
		require.NoError(t, err)
		out := collect(t, m)

		require.Len(t, out, total)
		for i := 1; i < len(out); i++ {
			assert.False(t, out[i].less(out[i-1]), "record %d out of order", i)
		}
	})
}

func TestMerger_Errors(t *testing.T) {
	t.Run("backwards_source", func(t *testing.T) {
		m, err := New[string](FromSlice(recs(1, 5, 3)))
		require.NoError(t, err)
		err = m.Advance()
		assert.True(t, errors.Is(err, errs.ErrOrder))
	})

	t.Run("source_error_on_prime", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := New[string](failingSource{err: boom})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("callback_error_stops_drain", func(t *testing.T) {
		m, err := New[string](FromSlice(recs(1, 1, 2, 3)))
		require.NoError(t, err)
		stop := errors.New("stop")
		n := 0
		err = m.Drain(context.Background(), func(Record[string]) error {
			n++
			if n == 2 {
				return stop
			}
			return nil
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 2, n)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		m, err := New[string](FromSlice(recs(1, 1, 2)))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = m.Drain(ctx, func(Record[string]) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
