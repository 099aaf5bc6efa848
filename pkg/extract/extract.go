// Package extract builds images from occurrence and metric inputs.
//
// Occurrence extraction merges one time-ordered stream per event class
// (or per component, for histogram input) into a single time-ordered
// stream and adds each record to every image whose recipe names its event.
// Metric extraction routes each sample through the bin set of its metric
// and writes the buffered bin counts whenever the time bucket changes.
//
// Times and components are quantized to the workspace pixel size before
// they reach an image.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/image"
	"github.com/orneryd/assocminer/pkg/imgbin"
	"github.com/orneryd/assocminer/pkg/merge"
	"github.com/orneryd/assocminer/pkg/metrics"
	"github.com/orneryd/assocminer/pkg/recipe"
	"github.com/orneryd/assocminer/pkg/source"
)

// Options configures an Extractor.
type Options struct {
	SecondsPerPixel int64
	NodesPerPixel   uint64

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// ProgressEvery throttles progress logging. Defaults to 5s.
	ProgressEvery time.Duration
}

// Extractor writes extracted pixels into an image cache.
type Extractor struct {
	cache    *image.Cache
	spp      int64
	npp      uint64
	log      *slog.Logger
	metrics  *metrics.Metrics
	progress *rate.Limiter
}

// New creates an Extractor over c.
func New(c *image.Cache, opts Options) *Extractor {
	if opts.SecondsPerPixel <= 0 {
		opts.SecondsPerPixel = 1
	}
	if opts.NodesPerPixel == 0 {
		opts.NodesPerPixel = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 5 * time.Second
	}
	return &Extractor{
		cache:    c,
		spp:      opts.SecondsPerPixel,
		npp:      opts.NodesPerPixel,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		progress: rate.NewLimiter(rate.Every(opts.ProgressEvery), 1),
	}
}

// QuantizeTime floors sec to a multiple of the pixel width.
func (e *Extractor) QuantizeTime(sec int64) int64 {
	q := sec / e.spp
	if sec%e.spp != 0 && sec < 0 {
		q--
	}
	return q * e.spp
}

// QuantizeComp floors comp to a multiple of the pixel height.
func (e *Extractor) QuantizeComp(comp uint64) uint64 {
	return comp / e.npp * e.npp
}

// FromOccurrences merges every per-event stream of store and applies it to
// the recipe's event-class images. It returns the number of records
// applied.
func (e *Extractor) FromOccurrences(ctx context.Context, store source.OccurrenceStore, r *recipe.Recipe) (int, error) {
	idx := r.EventIndex()
	sources := make([]merge.Source[source.Occurrence], 0, idx.Len())
	for _, ev := range idx.Events() {
		sources = append(sources, store.EventStream(ev))
	}
	return e.apply(ctx, "occurrences", sources, r, idx)
}

// FromHistograms merges every per-component stream of store and applies
// it to the recipe's event-class images.
func (e *Extractor) FromHistograms(ctx context.Context, store source.HistogramStore, r *recipe.Recipe) (int, error) {
	idx := r.EventIndex()
	comps := store.Components()
	sources := make([]merge.Source[source.Occurrence], 0, len(comps))
	for _, comp := range comps {
		sources = append(sources, store.ComponentStream(comp))
	}
	return e.apply(ctx, "histograms", sources, r, idx)
}

func (e *Extractor) apply(ctx context.Context, kind string, sources []merge.Source[source.Occurrence], r *recipe.Recipe, idx *recipe.EventIndex) (n int, err error) {
	// Every recipe image exists afterwards, even when nothing matched it.
	imgs := make([]*image.Image, len(r.Images))
	defer func() {
		for _, img := range imgs {
			if img == nil {
				continue
			}
			if perr := img.Put(); perr != nil && err == nil {
				err = perr
			}
		}
	}()
	for i, ir := range r.Images {
		img, err := e.cache.Open(ir.Name, true)
		if err != nil {
			return 0, err
		}
		imgs[i] = img
	}

	m, err := merge.New(sources...)
	if err != nil {
		return 0, fmt.Errorf("merging %s: %w", kind, err)
	}
	e.log.Info("extracting", "input", kind, "streams", m.Len(), "images", len(imgs))

	err = m.Drain(ctx, func(rec merge.Record[source.Occurrence]) error {
		o := rec.Payload
		targets := idx.Images(o.Event)
		if len(targets) == 0 {
			return nil
		}
		px := image.Pixel{Sec: e.QuantizeTime(o.Sec), Comp: e.QuantizeComp(o.Comp), Count: o.Count}
		for _, i := range targets {
			if err := imgs[i].AddCount(px); err != nil {
				return fmt.Errorf("adding to %q: %w", imgs[i].Name(), err)
			}
		}
		n++
		if e.progress.Allow() {
			e.log.Info("extraction progress", "input", kind, "records", n, "time", time.Unix(o.Sec, 0).UTC())
		}
		return nil
	})
	e.metrics.Extracted(n)
	if err != nil {
		return n, err
	}
	e.log.Info("extraction done", "input", kind, "records", n)
	return n, nil
}

// FromMetrics routes every metric sample of rd through the bin set of its
// column's metric recipe. Columns without a recipe are ignored. Bin counts
// are written whenever the quantized time changes and once more at the
// end. It returns the number of rows read.
func (e *Extractor) FromMetrics(ctx context.Context, rd *source.MetricReader, r *recipe.Recipe) (n int, err error) {
	cols := rd.Columns()
	bins := make([]*imgbin.Bin, len(cols))
	byName := make(map[string]*imgbin.Bin)
	var owned []*imgbin.Bin
	defer func() {
		for _, b := range owned {
			if cerr := b.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	for j, col := range cols {
		if b, ok := byName[col]; ok {
			bins[j] = b
			continue
		}
		mr, ok := r.Metric(col)
		if !ok {
			e.log.Debug("metric column has no recipe", "column", col)
			continue
		}
		b, err := mr.Bin(0)
		if err != nil {
			return 0, err
		}
		b.Attach(e.cache)
		bins[j], byName[col] = b, b
		owned = append(owned, b)
	}

	flush := func(sec int64) error {
		for _, b := range owned {
			if err := b.Flush(sec); err != nil {
				return fmt.Errorf("flushing %s at %d: %w", b.Metric(), sec, err)
			}
		}
		return nil
	}

	var (
		cur     int64
		started bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		row, ok, err := rd.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++

		sec := e.QuantizeTime(row.Sec)
		if started && sec != cur {
			if err := flush(cur); err != nil {
				return n, err
			}
		}
		cur, started = sec, true

		comp := e.QuantizeComp(row.Comp)
		for j, v := range row.Values {
			if j >= len(bins) || bins[j] == nil {
				continue
			}
			if err := bins[j].Observe(comp, v); err != nil {
				if !errs.IsFatal(err) {
					e.log.Debug("metric sample skipped", "column", cols[j], "time", row.Sec, "comp", row.Comp, "error", err)
					continue
				}
				return n, err
			}
		}
		if e.progress.Allow() {
			e.log.Info("extraction progress", "input", "metrics", "rows", n, "time", time.Unix(row.Sec, 0).UTC())
		}
	}
	if started {
		if err := flush(cur); err != nil {
			return n, err
		}
	}
	e.metrics.Extracted(n)
	e.log.Info("extraction done", "input", "metrics", "rows", n, "metrics", len(owned))
	return n, nil
}
