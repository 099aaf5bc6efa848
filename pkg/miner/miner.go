// Package miner searches for association rules "B -> T" between images.
//
// For every target T the miner starts from the empty antecedent and grows
// antecedents breadth-first, one image index at a time and always in
// increasing index order, so every itemset is generated at most once.
// A candidate is scored by intersecting its antecedent images with each
// other and with the target:
//
//	confidence   = |B ∩ T| / |B|
//	significance = |B ∩ T| / |T|
//
// where |X| is the occurrence count of X, or its pixel count in
// black-white mode. A candidate whose confidence exceeds the threshold is
// emitted and never expanded. Any later candidate that contains an
// emitted antecedent for the same target is subsumed and discarded
// without computing an intersection.
//
// Workers share one frontier queue and one subsumption index; each owns a
// stack of partial intersections that is reused across candidates sharing
// an antecedent prefix.
//
// Example:
//
//	m, err := miner.New(universe, miner.Config{
//		Confidence:   0.75,
//		Significance: 0.10,
//		Difference:   0.15,
//		MaxDepth:     8,
//		Threads:      4,
//	}, miner.NewWriterSink(os.Stdout), miner.Options{Logger: log})
//	if err != nil {
//		return err
//	}
//	m.SeedAll()
//	if err := m.Run(ctx); err != nil {
//		return err
//	}
package miner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/orneryd/assocminer/pkg/config"
	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/image"
	"github.com/orneryd/assocminer/pkg/metrics"
	"github.com/orneryd/assocminer/pkg/rule"
)

// Config holds the search thresholds.
type Config struct {
	// Confidence: a rule is accepted when its confidence is strictly
	// greater.
	Confidence float64
	// Significance: candidates below it are discarded.
	Significance float64
	// Difference: a child whose antecedent shrinks the parent's by a
	// smaller relative amount is discarded.
	Difference float64
	BlackWhite bool
	// MaxDepth bounds antecedent length.
	MaxDepth int
	Threads  int
	// MaxPixels bounds every scratch image; 0 means unlimited.
	MaxPixels int
}

// ConfigFrom converts the user-facing mining configuration.
func ConfigFrom(mc config.MineConfig) Config {
	return Config{
		Confidence:   mc.Confidence,
		Significance: mc.Significance,
		Difference:   mc.Difference,
		BlackWhite:   mc.BlackWhite,
		MaxDepth:     mc.MaxDepth,
		Threads:      mc.Threads,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	thresholds := []struct {
		name string
		v    float64
	}{
		{"confidence", c.Confidence},
		{"significance", c.Significance},
		{"difference", c.Difference},
	}
	for _, th := range thresholds {
		if th.v < 0 || th.v > 1 || th.v != th.v {
			return errs.Order("miner", "%s %g outside [0,1]", th.name, th.v)
		}
	}
	if c.MaxDepth < 1 || c.MaxDepth > rule.MaxDepth {
		return errs.Order("miner", "max depth %d outside [1,%d]", c.MaxDepth, rule.MaxDepth)
	}
	if c.Threads < 1 {
		return errs.Order("miner", "threads must be at least 1, got %d", c.Threads)
	}
	return nil
}

// Universe is the search space: antecedent images by index, and the
// target images. Images must not change while a Miner runs.
type Universe struct {
	Images  []*image.Image
	Targets []*image.Image
}

// Observer receives every candidate before it is checked. The rule is
// only valid for the duration of the call.
type Observer interface {
	OnEvaluate(r *rule.Rule)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r *rule.Rule)

// OnEvaluate calls f(r).
func (f ObserverFunc) OnEvaluate(r *rule.Rule) { f(r) }

// Options carries the optional collaborators of a Miner.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Observer Observer
	// RunID tags every log line of the run. Generated when empty.
	RunID string
	// ProgressEvery throttles progress logging. Defaults to 10s.
	ProgressEvery time.Duration
}

// Stats counts what happened to the candidates of a run.
type Stats struct {
	Evaluated     uint64
	Accepted      uint64
	Intersections uint64
	Pruned        map[string]uint64
}

var reasons = [...]string{
	metrics.ReasonSubsumed,
	metrics.ReasonEmpty,
	metrics.ReasonSignificance,
	metrics.ReasonDifference,
	metrics.ReasonDepth,
}

type reason int

const (
	prunedSubsumed reason = iota
	prunedEmpty
	prunedSignificance
	prunedDifference
	prunedDepth
)

// Miner runs the rule search over a Universe.
type Miner struct {
	cfg      Config
	u        Universe
	sink     Sink
	log      *slog.Logger
	metrics  *metrics.Metrics
	observer Observer
	runID    string
	progress *rate.Limiter

	queue *rule.Queue
	index *rule.Index

	evaluated     atomic.Uint64
	accepted      atomic.Uint64
	intersections atomic.Uint64
	pruned        [len(reasons)]atomic.Uint64
}

// New creates a Miner. Nothing is searched until targets are seeded and
// Run is called.
func New(u Universe, cfg Config, sink Sink, opts Options) (*Miner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errs.Order("miner", "no rule sink")
	}
	for i, img := range u.Images {
		if img == nil {
			return nil, errs.Order("miner", "image %d is nil", i)
		}
	}
	for i, img := range u.Targets {
		if img == nil {
			return nil, errs.Order("miner", "target %d is nil", i)
		}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10 * time.Second
	}

	m := &Miner{
		cfg:      cfg,
		u:        u,
		sink:     sink,
		log:      opts.Logger.With("run", opts.RunID),
		metrics:  opts.Metrics,
		observer: opts.Observer,
		runID:    opts.RunID,
		progress: rate.NewLimiter(rate.Every(opts.ProgressEvery), 1),
		queue:    rule.NewQueue(),
		index:    rule.NewIndex(),
	}
	m.queue.OnLevel = func(level int) {
		m.metrics.Level(level)
		m.log.Info("frontier level", "level", level, "rules", m.index.Len())
	}
	return m, nil
}

// RunID returns the identifier attached to the run's log lines.
func (m *Miner) RunID() string {
	return m.runID
}

// Seed enqueues the empty-antecedent candidate of target t.
func (m *Miner) Seed(t int) error {
	if t < 0 || t >= len(m.u.Targets) {
		return errs.Order("miner", "target index %d outside [0,%d)", t, len(m.u.Targets))
	}
	m.queue.Enqueue(rule.Seed(t))
	return nil
}

// SeedAll seeds every target.
func (m *Miner) SeedAll() {
	for t := range m.u.Targets {
		m.queue.Enqueue(rule.Seed(t))
	}
}

// Run searches until the frontier is exhausted, ctx is cancelled or a
// worker fails. Rules are emitted to the sink as they are accepted.
func (m *Miner) Run(ctx context.Context) error {
	start := time.Now()
	m.log.Info("mining started",
		"images", len(m.u.Images),
		"targets", len(m.u.Targets),
		"threads", m.cfg.Threads,
		"max_depth", m.cfg.MaxDepth,
		"black_white", m.cfg.BlackWhite)

	m.queue.Start()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, m.queue.Close)
	defer stop()

	for id := 0; id < m.cfg.Threads; id++ {
		w := newWorker(id, m)
		g.Go(func() error {
			defer w.close()
			return w.run(gctx)
		})
	}
	err := g.Wait()
	m.queue.Close()
	if err == nil {
		err = ctx.Err()
	}

	st := m.Stats()
	attrs := []any{
		"rules", st.Accepted,
		"evaluated", st.Evaluated,
		"intersections", st.Intersections,
		"duration", time.Since(start),
	}
	for _, r := range reasons {
		attrs = append(attrs, "pruned_"+r, st.Pruned[r])
	}
	if err != nil {
		m.log.Error("mining stopped", append(attrs, "error", err)...)
		return err
	}
	m.log.Info("mining done", attrs...)
	return nil
}

// Stats returns a snapshot of the run counters.
func (m *Miner) Stats() Stats {
	st := Stats{
		Evaluated:     m.evaluated.Load(),
		Accepted:      m.accepted.Load(),
		Intersections: m.intersections.Load(),
		Pruned:        make(map[string]uint64, len(reasons)),
	}
	for i, r := range reasons {
		st.Pruned[r] = m.pruned[i].Load()
	}
	return st
}

// Rules returns the number of accepted rules.
func (m *Miner) Rules() int {
	return m.index.Len()
}

func (m *Miner) measure(img *image.Image) uint64 {
	return image.Measure(img, m.cfg.BlackWhite)
}

func (m *Miner) intersect(a, b, dst *image.Image) error {
	start := time.Now()
	err := image.Intersect(a, b, dst)
	m.intersections.Add(1)
	m.metrics.Intersected(start)
	return err
}

func (m *Miner) evaluate(r *rule.Rule) {
	m.evaluated.Add(1)
	m.metrics.Evaluated()
	if m.observer != nil {
		m.observer.OnEvaluate(r)
	}
}

func (m *Miner) prune(ctx context.Context, r *rule.Rule, why reason) {
	m.pruned[why].Add(1)
	m.metrics.Pruned(reasons[why])
	if m.log.Enabled(ctx, slog.LevelDebug) {
		m.log.Debug("candidate discarded",
			"rule", m.format(r),
			"reason", reasons[why],
			"confidence", r.Confidence,
			"significance", r.Significance)
	}
}

func (m *Miner) accept(r *rule.Rule) error {
	m.index.Insert(r)
	m.accepted.Add(1)
	m.metrics.Accepted()
	rec := m.record(r)
	m.log.Info("rule accepted",
		"rule", rec.String(),
		"confidence", r.Confidence,
		"significance", r.Significance)
	if err := m.sink.Emit(rec); err != nil {
		return fmt.Errorf("emitting %s: %w", rec.String(), err)
	}
	return nil
}

func (m *Miner) record(r *rule.Rule) RuleRecord {
	rec := RuleRecord{
		Target:       m.u.Targets[r.Target].Name(),
		Antecedent:   make([]string, len(r.Antecedent)),
		Confidence:   r.Confidence,
		Significance: r.Significance,
	}
	for i, a := range r.Antecedent {
		rec.Antecedent[i] = m.u.Images[a].Name()
	}
	return rec
}

func (m *Miner) format(r *rule.Rule) string {
	return m.record(r).String()
}

func (m *Miner) reportProgress() {
	if !m.progress.Allow() {
		return
	}
	cur, next := m.queue.Pending()
	m.log.Info("mining progress",
		"level", m.queue.Level(),
		"evaluated", m.evaluated.Load(),
		"rules", m.accepted.Load(),
		"pending", cur,
		"next", next)
}
