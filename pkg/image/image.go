// Package image provides the sparse spatio-temporal image store.
//
// An Image is a named, sparse collection of pixels keyed by
// (time bucket, component bucket). Each pixel carries an occurrence count
// that is always >= 1; zero-count pixels are never materialized. Two
// aggregates are maintained incrementally and read in O(1):
//
//   - PixelCount: number of distinct (time, component) keys
//   - OccurrenceCount: sum of all counts
//
// Pixels are held sorted by (Sec, Comp). Intersection is therefore a
// linear merge-join, and a time shift preserves order, so neither needs
// a sort.
//
// Images live in a Cache (see cache.go) that persists them to BadgerDB
// and hands out reference-counted handles. Images created with New are
// unbacked scratch images used by the miner's hot loop.
//
// Example:
//
//	c, err := image.OpenCache("./ws/img", image.Options{Create: true})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	ev1, _ := c.Open("ev1", true)
//	defer ev1.Put()
//	ev1.AddCount(image.Pixel{Sec: 3600, Comp: 12, Count: 4})
//
//	scratch := image.New("scratch")
//	image.Intersect(ev1, ev2, scratch)
//	fmt.Println(scratch.OccurrenceCount())
package image

import (
	"math"
	"sort"
	"sync"

	"github.com/orneryd/assocminer/pkg/errs"
)

// Pixel is one (time bucket, component bucket, count) entry. Sec and Comp
// are already quantized by the caller; the store never re-quantizes.
type Pixel struct {
	Sec   int64
	Comp  uint64
	Count uint64
}

// Key identifies a pixel position.
type Key struct {
	Sec  int64
	Comp uint64
}

// Key returns the position of p.
func (p Pixel) Key() Key {
	return Key{Sec: p.Sec, Comp: p.Comp}
}

// Less orders keys by time, then component.
func (k Key) Less(o Key) bool {
	if k.Sec != o.Sec {
		return k.Sec < o.Sec
	}
	return k.Comp < o.Comp
}

// Image is a named sparse (time, component) -> count matrix.
//
// Pixel data has a single-writer contract: AddCount, Intersect (as dst),
// ShiftTime (as dst) and Reset must not run concurrently with any other
// access to the same image. Read-only access from many goroutines is safe.
type Image struct {
	name      string
	pix       []Pixel
	occ       uint64
	maxPixels int

	cache *Cache

	mu    sync.Mutex // guards refs and dirty
	refs  int
	dirty bool
}

// New creates an unbacked scratch image. Flush and Put are no-ops on it.
func New(name string) *Image {
	return &Image{name: name}
}

// NewWithLimit creates an unbacked scratch image that refuses to grow past
// maxPixels distinct keys.
func NewWithLimit(name string, maxPixels int) *Image {
	return &Image{name: name, maxPixels: maxPixels}
}

// Name returns the image name.
func (img *Image) Name() string {
	return img.name
}

// PixelCount returns the number of distinct (time, component) keys.
func (img *Image) PixelCount() uint64 {
	return uint64(len(img.pix))
}

// OccurrenceCount returns the sum of all pixel counts.
func (img *Image) OccurrenceCount() uint64 {
	return img.occ
}

// Count returns the count stored at k, or 0 when k is absent.
func (img *Image) Count(k Key) uint64 {
	i := img.search(k)
	if i < len(img.pix) && img.pix[i].Key() == k {
		return img.pix[i].Count
	}
	return 0
}

// Pixels returns a copy of the pixels in (Sec, Comp) order.
func (img *Image) Pixels() []Pixel {
	out := make([]Pixel, len(img.pix))
	copy(out, img.pix)
	return out
}

// Each calls fn for every pixel in order until fn returns false.
func (img *Image) Each(fn func(Pixel) bool) {
	for _, p := range img.pix {
		if !fn(p) {
			return
		}
	}
}

// Equal reports whether both images hold exactly the same pixels.
func (img *Image) Equal(o *Image) bool {
	if len(img.pix) != len(o.pix) || img.occ != o.occ {
		return false
	}
	for i := range img.pix {
		if img.pix[i] != o.pix[i] {
			return false
		}
	}
	return true
}

// AddCount inserts p, or adds p.Count to the pixel already stored at p's
// key. A zero count is a no-op.
func (img *Image) AddCount(p Pixel) error {
	if p.Count == 0 {
		return nil
	}
	k := p.Key()
	n := len(img.pix)

	// Build streams arrive time-ordered, so appending is the common case.
	i := n
	if n > 0 && !img.pix[n-1].Key().Less(k) {
		i = img.search(k)
	}

	if i < n && img.pix[i].Key() == k {
		if img.pix[i].Count > math.MaxUint64-p.Count {
			return errs.Capacity("add count", errOverflow)
		}
		img.pix[i].Count += p.Count
	} else {
		if img.maxPixels > 0 && n >= img.maxPixels {
			return errs.Capacity("add count", errPixelLimit(img.name, img.maxPixels))
		}
		img.pix = append(img.pix, Pixel{})
		copy(img.pix[i+1:], img.pix[i:n])
		img.pix[i] = p
	}
	img.occ += p.Count
	img.markDirty()
	return nil
}

// Reset removes every pixel while keeping the allocation for reuse.
func (img *Image) Reset() {
	img.pix = img.pix[:0]
	img.occ = 0
	img.markDirty()
}

// Get takes an additional reference on a cached image.
func (img *Image) Get() *Image {
	img.mu.Lock()
	img.refs++
	img.mu.Unlock()
	return img
}

// Put drops a reference. When the last reference of a cached image is
// dropped the image is flushed and parked in the cache's idle set.
func (img *Image) Put() error {
	if img.cache == nil {
		return nil
	}
	return img.cache.release(img)
}

// Refs returns the current reference count.
func (img *Image) Refs() int {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.refs
}

// Flush persists a dirty cached image.
func (img *Image) Flush() error {
	if img.cache == nil {
		return nil
	}
	return img.cache.flush(img)
}

func (img *Image) markDirty() {
	img.mu.Lock()
	img.dirty = true
	img.mu.Unlock()
}

// search returns the index of the first pixel whose key is >= k.
func (img *Image) search(k Key) int {
	return sort.Search(len(img.pix), func(j int) bool {
		return !img.pix[j].Key().Less(k)
	})
}
