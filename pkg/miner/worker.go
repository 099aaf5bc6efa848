package miner

import (
	"context"
	"fmt"

	"github.com/orneryd/assocminer/pkg/image"
	"github.com/orneryd/assocminer/pkg/pool"
	"github.com/orneryd/assocminer/pkg/rule"
)

// worker expands one parent candidate at a time.
//
// stack[d] holds the intersection of the images of recipe[0..d]. stack[0]
// is the universe image itself; deeper levels live in the worker's own
// scratch images, so no two workers ever write the same image.
type worker struct {
	id int
	m  *Miner

	recipe  []int
	stack   []*image.Image
	scratch []*image.Image
	aimg    *image.Image
	cimg    *image.Image

	// cand is reused for every child; escape copies it through Extend.
	cand rule.Rule
	buf  []int
}

func newWorker(id int, m *Miner) *worker {
	w := &worker{
		id:      id,
		m:       m,
		recipe:  make([]int, 0, m.cfg.MaxDepth),
		stack:   make([]*image.Image, m.cfg.MaxDepth),
		scratch: make([]*image.Image, m.cfg.MaxDepth),
		aimg:    image.NewWithLimit(fmt.Sprintf("worker%d/a", id), m.cfg.MaxPixels),
		cimg:    image.NewWithLimit(fmt.Sprintf("worker%d/c", id), m.cfg.MaxPixels),
		buf:     pool.GetIntSlice(),
	}
	return w
}

func (w *worker) close() {
	pool.PutIntSlice(w.buf)
	w.buf = nil
}

func (w *worker) run(ctx context.Context) error {
	for {
		parent, ok := w.m.queue.Dequeue(ctx)
		if !ok {
			return ctx.Err()
		}
		err := w.expand(ctx, parent)
		w.m.queue.Release(parent)
		if err != nil {
			return fmt.Errorf("worker %d expanding %s: %w", w.id, w.m.format(parent), err)
		}
		w.m.reportProgress()
	}
}

// rebuild makes stack[len(ante)-1] the intersection of the images in ante,
// keeping the levels whose recipe prefix already matches.
func (w *worker) rebuild(ante []int) error {
	keep := 0
	for keep < len(w.recipe) && keep < len(ante) && w.recipe[keep] == ante[keep] {
		keep++
	}
	w.recipe = w.recipe[:keep]

	for _, idx := range ante[keep:] {
		img := w.m.u.Images[idx]
		d := len(w.recipe)
		if d == 0 {
			w.stack[0] = img
		} else {
			if w.scratch[d] == nil {
				w.scratch[d] = image.NewWithLimit(fmt.Sprintf("worker%d/stack%d", w.id, d), w.m.cfg.MaxPixels)
			}
			if err := w.m.intersect(w.stack[d-1], img, w.scratch[d]); err != nil {
				w.recipe = w.recipe[:d]
				return err
			}
			w.stack[d] = w.scratch[d]
		}
		w.recipe = append(w.recipe, idx)
	}
	return nil
}

func (w *worker) expand(ctx context.Context, parent *rule.Rule) error {
	m := w.m
	if err := parent.Valid(); err != nil {
		return err
	}
	if err := w.rebuild(parent.Antecedent); err != nil {
		return err
	}

	var (
		bimg   *image.Image
		countB uint64
	)
	if n := len(w.recipe); n > 0 {
		bimg = w.stack[n-1]
		countB = m.measure(bimg)
	}
	timg := m.u.Targets[parent.Target]
	countT := m.measure(timg)

	w.buf = append(w.buf[:0], parent.Antecedent...)
	w.buf = append(w.buf, 0)
	w.cand = rule.Rule{Target: parent.Target, Antecedent: w.buf}
	child := &w.cand

	for i := parent.Last() + 1; i < len(m.u.Images); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		child.Antecedent[len(child.Antecedent)-1] = i
		child.Confidence, child.Significance = 0, 0
		m.evaluate(child)

		if m.index.IsSubsumed(child) {
			m.prune(ctx, child, prunedSubsumed)
			continue
		}

		aimg := m.u.Images[i]
		if bimg != nil {
			if err := m.intersect(bimg, aimg, w.aimg); err != nil {
				return err
			}
			aimg = w.aimg
		}
		if err := m.intersect(aimg, timg, w.cimg); err != nil {
			return err
		}
		countA, countC := m.measure(aimg), m.measure(w.cimg)
		if countA == 0 || countC == 0 {
			m.prune(ctx, child, prunedEmpty)
			continue
		}

		child.Confidence = float64(countC) / float64(countA)
		child.Significance = float64(countC) / float64(countT)
		if child.Significance < m.cfg.Significance {
			m.prune(ctx, child, prunedSignificance)
			continue
		}
		if child.Confidence > m.cfg.Confidence {
			if err := m.accept(escape(parent, child)); err != nil {
				return err
			}
			continue
		}
		// countA <= countB since A is B narrowed by one more image.
		if bimg != nil && float64(countB-countA)/float64(countB) < m.cfg.Difference {
			m.prune(ctx, child, prunedDifference)
			continue
		}
		if child.Depth() >= m.cfg.MaxDepth {
			m.prune(ctx, child, prunedDepth)
			continue
		}
		m.queue.Enqueue(escape(parent, child))
	}
	return nil
}

// escape turns the reused candidate into an owned child of parent.
func escape(parent, cand *rule.Rule) *rule.Rule {
	c := parent.Extend(cand.Last())
	c.Confidence = cand.Confidence
	c.Significance = cand.Significance
	return c
}
