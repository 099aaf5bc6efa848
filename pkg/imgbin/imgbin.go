// Package imgbin maps continuous metric values onto a fixed set of
// half-open bins, each bin backed by a lazily opened image.
//
// A Bin starts with the boundaries [-Inf, +Inf], one catch-all bin.
// Every AddBoundary splits the last bin in two:
//
//	b := imgbin.New("MemFree", 0)
//	b.AddBoundary(1e6) // [-inf,1e+06) [1e+06,+inf)
//	b.AddBoundary(1e7) // [-inf,1e+06) [1e+06,1e+07) [1e+07,+inf)
//
// Bins are inclusive on the lower edge and exclusive on the upper edge.
// Bin names double as image names, so Name must produce exactly the string
// the image was opened under.
package imgbin

import (
	"errors"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/image"
	"github.com/orneryd/assocminer/pkg/pool"
)

// Bin is the ordered boundary set of one metric.
//
// A Bin is owned by a single goroutine; it is not safe for concurrent use.
type Bin struct {
	metric   string
	bounds   []float64
	capacity int

	cache   *image.Cache
	images  []*image.Image
	pending []map[uint64]uint64 // per bin: comp -> count in the current time bucket
}

// New creates a bin set for metric. capacity bounds the number of
// boundaries, infinities included; 0 means unlimited.
func New(metric string, capacity int) *Bin {
	if capacity > 0 && capacity < 2 {
		capacity = 2
	}
	return &Bin{
		metric:   metric,
		bounds:   []float64{math.Inf(-1), math.Inf(1)},
		capacity: capacity,
		images:   make([]*image.Image, 1),
		pending:  make([]map[uint64]uint64, 1),
	}
}

// Metric returns the metric name.
func (b *Bin) Metric() string {
	return b.metric
}

// Len returns the number of bins.
func (b *Bin) Len() int {
	return len(b.bounds) - 1
}

// Bounds returns a copy of the boundaries.
func (b *Bin) Bounds() []float64 {
	return slices.Clone(b.bounds)
}

// AddBoundary splits the last bin at v. v must be finite and strictly
// greater than the current second-to-last boundary.
func (b *Bin) AddBoundary(v float64) error {
	n := len(b.bounds)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errs.Order("add boundary", "%s: boundary %v is not finite", b.metric, v)
	}
	if v <= b.bounds[n-2] {
		return errs.Order("add boundary", "%s: boundary %v <= %v", b.metric, v, b.bounds[n-2])
	}
	if b.capacity > 0 && n >= b.capacity {
		return errs.Capacity("add boundary", errors.New(b.metric+": bin capacity exhausted"))
	}
	if b.images[n-2] != nil {
		return errs.Order("add boundary", "%s: last bin is already in use", b.metric)
	}
	b.bounds = append(b.bounds[:n-1], v, math.Inf(1))
	b.images = append(b.images, nil)
	b.pending = append(b.pending, nil)
	return nil
}

// Index returns the bin i with bounds[i] <= v < bounds[i+1]. -Inf maps to
// the first bin, +Inf to the last, NaN to -1.
func (b *Bin) Index(v float64) int {
	if math.IsNaN(v) {
		return -1
	}
	// First boundary strictly above v.
	i := sort.Search(len(b.bounds), func(j int) bool { return b.bounds[j] > v }) - 1
	return min(max(i, 0), b.Len()-1)
}

// Name returns the image name of bin i, "<metric>[lower,upper)".
func (b *Bin) Name(i int) (string, error) {
	if i < 0 || i >= b.Len() {
		return "", errs.Order("bin name", "%s: bin %d out of range [0,%d)", b.metric, i, b.Len())
	}
	buf := make([]byte, 0, len(b.metric)+32)
	buf = append(buf, b.metric...)
	buf = append(buf, '[')
	buf = appendBound(buf, b.bounds[i])
	buf = append(buf, ',')
	buf = appendBound(buf, b.bounds[i+1])
	buf = append(buf, ')')
	return string(buf), nil
}

func appendBound(dst []byte, v float64) []byte {
	switch {
	case math.IsInf(v, -1):
		return append(dst, "-inf"...)
	case math.IsInf(v, 1):
		return append(dst, "+inf"...)
	}
	return strconv.AppendFloat(dst, v, 'g', -1, 64)
}

// Attach binds the bins to the cache their images are opened in.
func (b *Bin) Attach(c *image.Cache) {
	b.cache = c
}

// Image returns bin i's image, opening (and creating) it on first use.
func (b *Bin) Image(i int) (*image.Image, error) {
	name, err := b.Name(i)
	if err != nil {
		return nil, err
	}
	if b.images[i] != nil {
		return b.images[i], nil
	}
	if b.cache == nil {
		return nil, errs.Storage("open bin image", errors.New(b.metric+": no cache attached"))
	}
	img, err := b.cache.Open(name, true)
	if err != nil {
		return nil, err
	}
	b.images[i] = img
	return img, nil
}

// Observe counts one occurrence of v at component comp in the current
// time bucket. Counts are buffered until Flush.
func (b *Bin) Observe(comp uint64, v float64) error {
	i := b.Index(v)
	if i < 0 {
		return errs.Order("observe", "%s: value is NaN", b.metric)
	}
	if _, err := b.Image(i); err != nil {
		return err
	}
	if b.pending[i] == nil {
		b.pending[i] = make(map[uint64]uint64)
	}
	b.pending[i][comp]++
	return nil
}

// Flush writes every buffered count as a pixel at time sec and clears the
// buffer.
func (b *Bin) Flush(sec int64) error {
	comps := pool.GetUint64Slice()
	defer func() { pool.PutUint64Slice(comps) }()

	for i, counts := range b.pending {
		if len(counts) == 0 {
			continue
		}
		comps = comps[:0]
		for comp := range counts {
			comps = append(comps, comp)
		}
		slices.Sort(comps)

		img := b.images[i]
		for _, comp := range comps {
			if err := img.AddCount(image.Pixel{Sec: sec, Comp: comp, Count: counts[comp]}); err != nil {
				return err
			}
		}
		clear(counts)
	}
	return nil
}

// Close drops every image reference held by the bins.
func (b *Bin) Close() error {
	var errList []error
	for i, img := range b.images {
		if img == nil {
			continue
		}
		if err := img.Put(); err != nil {
			errList = append(errList, err)
		}
		b.images[i] = nil
	}
	return errors.Join(errList...)
}
