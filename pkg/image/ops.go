package image

import (
	"errors"
	"fmt"
	"math"

	"github.com/orneryd/assocminer/pkg/errs"
)

var errOverflow = errors.New("pixel count overflow")

func errPixelLimit(name string, limit int) error {
	return fmt.Errorf("image %q exceeds %d pixels", name, limit)
}

// Intersect overwrites dst with the pixel-wise minimum of a and b over the
// keys present in both. dst must be distinct from a and b; its previous
// content is discarded and its allocation reused.
//
// Intersect is commutative and idempotent, and for every key
// dst.Count(k) <= min(a.Count(k), b.Count(k)).
func Intersect(a, b, dst *Image) error {
	if dst == a || dst == b {
		return errs.Order("intersect", "destination %q aliases an operand", dst.name)
	}

	out := dst.pix[:0]
	var occ uint64
	i, j := 0, 0
	for i < len(a.pix) && j < len(b.pix) {
		ka, kb := a.pix[i].Key(), b.pix[j].Key()
		switch {
		case ka.Less(kb):
			i++
		case kb.Less(ka):
			j++
		default:
			c := min(a.pix[i].Count, b.pix[j].Count)
			if dst.maxPixels > 0 && len(out) >= dst.maxPixels {
				dst.pix = out[:0]
				dst.occ = 0
				return errs.Capacity("intersect", errPixelLimit(dst.name, dst.maxPixels))
			}
			out = append(out, Pixel{Sec: ka.Sec, Comp: ka.Comp, Count: c})
			occ += c
			i++
			j++
		}
	}

	dst.pix = out
	dst.occ = occ
	dst.markDirty()
	return nil
}

// ShiftTime overwrites dst with src's pixels, every Sec offset by delta.
// Counts are unchanged. dst may be src, in which case the shift happens in
// place. A shift that would overflow int64 fails with ErrCapacity and
// leaves dst untouched.
func ShiftTime(src *Image, delta int64, dst *Image) error {
	if n := len(src.pix); n > 0 && delta != 0 {
		// Pixels are sorted, so only the extremes can overflow.
		first, last := src.pix[0].Sec, src.pix[n-1].Sec
		if delta > 0 && last > math.MaxInt64-delta {
			return errs.Capacity("shift time", fmt.Errorf("sec %d + %d overflows", last, delta))
		}
		if delta < 0 && first < math.MinInt64-delta {
			return errs.Capacity("shift time", fmt.Errorf("sec %d %d overflows", first, delta))
		}
	}
	if dst.maxPixels > 0 && len(src.pix) > dst.maxPixels {
		return errs.Capacity("shift time", errPixelLimit(dst.name, dst.maxPixels))
	}

	if dst != src {
		dst.pix = append(dst.pix[:0], src.pix...)
		dst.occ = src.occ
	}
	for i := range dst.pix {
		dst.pix[i].Sec += delta
	}
	dst.markDirty()
	return nil
}

// Measure returns the black-white measure of img (pixel count) when bw is
// set, otherwise its occurrence count.
func Measure(img *Image, bw bool) uint64 {
	if bw {
		return img.PixelCount()
	}
	return img.OccurrenceCount()
}
