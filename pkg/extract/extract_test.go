package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/image"
	"github.com/orneryd/assocminer/pkg/logging"
	"github.com/orneryd/assocminer/pkg/metrics"
	"github.com/orneryd/assocminer/pkg/recipe"
	"github.com/orneryd/assocminer/pkg/source"
)

const occurrences = `event,comp,sec,count
128,1,0,2
128,1,1800,1
129,2,3700,1
130,1,0,5
`

const events = `
images:
  ev1: [128, 129]
  ev2: [129]
  silent: [999]
`

func setup(t *testing.T) (*image.Cache, *Extractor, *metrics.Metrics) {
	t.Helper()
	c, err := image.OpenCacheInMemory(image.Options{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	m := metrics.New(prometheus.NewRegistry())
	e := New(c, Options{
		SecondsPerPixel: 3600,
		NodesPerPixel:   1,
		Logger:          logging.Discard(),
		Metrics:         m,
	})
	return c, e, m
}

func pixels(t *testing.T, c *image.Cache, name string) []image.Pixel {
	t.Helper()
	img, err := c.Open(name, false)
	require.NoError(t, err)
	defer img.Put()
	return img.Pixels()
}

func TestQuantize(t *testing.T) {
	e := New(nil, Options{SecondsPerPixel: 3600, NodesPerPixel: 4})
	assert.Equal(t, int64(0), e.QuantizeTime(3599))
	assert.Equal(t, int64(3600), e.QuantizeTime(3600))
	assert.Equal(t, int64(-3600), e.QuantizeTime(-1))
	assert.Equal(t, int64(-3600), e.QuantizeTime(-3600))
	assert.Equal(t, uint64(4), e.QuantizeComp(7))
	assert.Equal(t, uint64(0), e.QuantizeComp(3))
}

func TestFromOccurrences(t *testing.T) {
	c, e, m := setup(t)
	tbl, err := source.ReadTable(strings.NewReader(occurrences), source.Filter{})
	require.NoError(t, err)
	r, err := recipe.Parse([]byte(events))
	require.NoError(t, err)

	n, err := e.FromOccurrences(context.Background(), tbl, r)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "event 130 is in no recipe")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsExtracted))

	assert.Equal(t, []image.Pixel{
		{Sec: 0, Comp: 1, Count: 3},
		{Sec: 3600, Comp: 2, Count: 1},
	}, pixels(t, c, "ev1"))
	assert.Equal(t, []image.Pixel{{Sec: 3600, Comp: 2, Count: 1}}, pixels(t, c, "ev2"))
	assert.Empty(t, pixels(t, c, "silent"))
}

func TestFromHistograms(t *testing.T) {
	c, e, _ := setup(t)
	tbl, err := source.ReadTable(strings.NewReader(occurrences), source.Filter{})
	require.NoError(t, err)
	r, err := recipe.Parse([]byte(events))
	require.NoError(t, err)

	n, err := e.FromHistograms(context.Background(), tbl, r)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Same images as the per-event path.
	assert.Equal(t, []image.Pixel{
		{Sec: 0, Comp: 1, Count: 3},
		{Sec: 3600, Comp: 2, Count: 1},
	}, pixels(t, c, "ev1"))
}

func TestFromOccurrences_Cancelled(t *testing.T) {
	_, e, _ := setup(t)
	tbl, err := source.ReadTable(strings.NewReader(occurrences), source.Filter{})
	require.NoError(t, err)
	r, err := recipe.Parse([]byte(events))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.FromOccurrences(ctx, tbl, r)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromMetrics(t *testing.T) {
	c, e, _ := setup(t)
	in := `ts,comp,MemFree,Other
0,1,5e6,1
100,1,5e6,1
3600,2,2e8,1
3700,1,NaN,1
`
	rd, err := source.NewMetricReader(strings.NewReader(in), source.Filter{})
	require.NoError(t, err)
	r, err := recipe.Parse([]byte("metrics:\n  MemFree: [1e6, 1e7, 1e8]\n"))
	require.NoError(t, err)

	n, err := e.FromMetrics(context.Background(), rd, r)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, []image.Pixel{{Sec: 0, Comp: 1, Count: 2}}, pixels(t, c, "MemFree[1e+06,1e+07)"))
	assert.Equal(t, []image.Pixel{{Sec: 3600, Comp: 2, Count: 1}}, pixels(t, c, "MemFree[1e+08,+inf)"))

	names, err := c.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"MemFree[1e+06,1e+07)", "MemFree[1e+08,+inf)"}, names)
}

func TestFromMetrics_LastRowIsFlushed(t *testing.T) {
	c, e, _ := setup(t)
	rd, err := source.NewMetricReader(strings.NewReader("ts,comp,m\n7200,3,0.5\n"), source.Filter{})
	require.NoError(t, err)
	r, err := recipe.Parse([]byte("metrics:\n  m: [1]\n"))
	require.NoError(t, err)

	_, err = e.FromMetrics(context.Background(), rd, r)
	require.NoError(t, err)
	assert.Equal(t, []image.Pixel{{Sec: 7200, Comp: 3, Count: 1}}, pixels(t, c, "m[-inf,1)"))
}

func TestFromMetrics_StorageErrorStops(t *testing.T) {
	c, e, _ := setup(t)
	require.NoError(t, c.Close())

	rd, err := source.NewMetricReader(strings.NewReader("ts,comp,m\n0,1,NaN\n60,1,0.5\n"), source.Filter{})
	require.NoError(t, err)
	r, err := recipe.Parse([]byte("metrics:\n  m: [1]\n"))
	require.NoError(t, err)

	// The NaN row is skipped; the next sample needs storage and aborts.
	n, err := e.FromMetrics(context.Background(), rd, r)
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, 2, n)
}
