package imgbin

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/image"
)

func memFree(t *testing.T) *Bin {
	t.Helper()
	b := New("MemFree", 0)
	for _, v := range []float64{1e6, 1e7, 1e8} {
		require.NoError(t, b.AddBoundary(v))
	}
	return b
}

func TestNew(t *testing.T) {
	b := New("m", 0)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []float64{math.Inf(-1), math.Inf(1)}, b.Bounds())
	assert.Equal(t, "m", b.Metric())
}

func TestAddBoundary(t *testing.T) {
	t.Run("splits_last_bin", func(t *testing.T) {
		b := memFree(t)
		assert.Equal(t, 4, b.Len())
		assert.Equal(t, []float64{math.Inf(-1), 1e6, 1e7, 1e8, math.Inf(1)}, b.Bounds())
	})

	t.Run("rejects_non_increasing", func(t *testing.T) {
		b := memFree(t)
		assert.True(t, errors.Is(b.AddBoundary(1e8), errs.ErrOrder))
		assert.True(t, errors.Is(b.AddBoundary(5), errs.ErrOrder))
		assert.Equal(t, 4, b.Len())
	})

	t.Run("rejects_non_finite", func(t *testing.T) {
		b := New("m", 0)
		assert.True(t, errors.Is(b.AddBoundary(math.NaN()), errs.ErrOrder))
		assert.True(t, errors.Is(b.AddBoundary(math.Inf(1)), errs.ErrOrder))
		assert.True(t, errors.Is(b.AddBoundary(math.Inf(-1)), errs.ErrOrder))
	})

	t.Run("capacity", func(t *testing.T) {
		b := New("m", 3)
		require.NoError(t, b.AddBoundary(0))
		err := b.AddBoundary(1)
		assert.True(t, errors.Is(err, errs.ErrCapacity))
	})
}

func TestIndex(t *testing.T) {
	b := memFree(t)

	tests := []struct {
		name  string
		value float64
		want  int
	}{
		{"below_first", -5, 0},
		{"negative_infinity", math.Inf(-1), 0},
		{"on_boundary_goes_up", 1e6, 1},
		{"just_below_boundary", math.Nextafter(1e7, 0), 1},
		{"middle", 5e7, 2},
		{"last_boundary", 1e8, 3},
		{"positive_infinity", math.Inf(1), 3},
		{"nan", math.NaN(), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Index(tt.value))
		})
	}

	t.Run("single_bin_is_total", func(t *testing.T) {
		one := New("m", 0)
		for _, v := range []float64{math.Inf(-1), -1, 0, 1e300, math.Inf(1)} {
			assert.Equal(t, 0, one.Index(v))
		}
	})
}

func TestName(t *testing.T) {
	b := memFree(t)

	names := make([]string, b.Len())
	for i := range names {
		n, err := b.Name(i)
		require.NoError(t, err)
		names[i] = n
	}
	assert.Equal(t, []string{
		"MemFree[-inf,1e+06)",
		"MemFree[1e+06,1e+07)",
		"MemFree[1e+07,1e+08)",
		"MemFree[1e+08,+inf)",
	}, names)

	_, err := b.Name(4)
	assert.True(t, errors.Is(err, errs.ErrOrder))
	_, err = b.Name(-1)
	assert.True(t, errors.Is(err, errs.ErrOrder))

	frac := New("load", 0)
	require.NoError(t, frac.AddBoundary(0.25))
	n, _ := frac.Name(1)
	assert.Equal(t, "load[0.25,+inf)", n)
}

func TestObserveFlush(t *testing.T) {
	c, err := image.OpenCacheInMemory(image.Options{})
	require.NoError(t, err)
	defer c.Close()

	b := memFree(t)
	b.Attach(c)

	require.NoError(t, b.Observe(7, 5e6))
	require.NoError(t, b.Observe(7, 6e6))
	require.NoError(t, b.Observe(2, 5e6))
	require.NoError(t, b.Observe(7, 2e8))
	require.NoError(t, b.Flush(3600))

	require.NoError(t, b.Observe(7, 5e6))
	require.NoError(t, b.Flush(7200))
	require.NoError(t, b.Flush(10800)) // nothing buffered

	assert.True(t, errors.Is(b.Observe(1, math.NaN()), errs.ErrOrder))
	assert.True(t, errors.Is(b.AddBoundary(1e9), errs.ErrOrder), "last bin already backs an image")

	mid, err := b.Image(1)
	require.NoError(t, err)
	assert.Equal(t, []image.Pixel{
		{Sec: 3600, Comp: 2, Count: 1},
		{Sec: 3600, Comp: 7, Count: 2},
		{Sec: 7200, Comp: 7, Count: 1},
	}, mid.Pixels())

	require.NoError(t, b.Close())

	// Bin names are the join key with the cache.
	names, err := c.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"MemFree[1e+06,1e+07)", "MemFree[1e+08,+inf)"}, names)

	top, err := c.Open("MemFree[1e+08,+inf)", false)
	require.NoError(t, err)
	defer top.Put()
	assert.Equal(t, uint64(1), top.Count(image.Key{Sec: 3600, Comp: 7}))
}

func TestImage_NoCache(t *testing.T) {
	b := New("m", 0)
	_, err := b.Image(0)
	assert.True(t, errors.Is(err, errs.ErrStorage))
}
