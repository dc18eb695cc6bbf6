// Package explain attributes a single prediction to human readable feature
// conditions by fitting a weighted linear surrogate to perturbed neighbours.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/codec"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Defaults.
const (
	DefaultReferenceSize = 100
	DefaultNumSamples    = 5000
	DefaultNumFeatures   = 10
	DefaultSeed          = 42

	selectionAlpha = 0.01
	surrogateAlpha = 1.0
)

// DefaultKernelWidth is 0.75 * sqrt(number of raw features).
var DefaultKernelWidth = 0.75 * math.Sqrt(codec.NumFeatures)

// Scorer is the black box being explained.
type Scorer interface {
	Ready() bool
	Codec() *codec.Codec
	Probability(in codec.Instance) (float64, error)
}

// Options configures an Explainer. Zero values select the defaults.
type Options struct {
	ReferenceSize int
	NumSamples    int
	NumFeatures   int
	Seed          int64
	Workers       int
	KernelWidth   float64
}

func (o Options) withDefaults() Options {
	if o.ReferenceSize <= 0 {
		o.ReferenceSize = DefaultReferenceSize
	}
	if o.NumSamples <= 1 {
		o.NumSamples = DefaultNumSamples
	}
	if o.NumFeatures <= 0 {
		o.NumFeatures = DefaultNumFeatures
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.KernelWidth <= 0 {
		o.KernelWidth = DefaultKernelWidth
	}
	return o
}

// Explainer builds its reference sample on first use and reuses it for every
// later call. It is safe for concurrent use.
type Explainer struct {
	scorer Scorer
	opts   Options

	mu     sync.Mutex
	ref    *reference
	builds atomic.Int64
}

// New creates an explainer over scorer.
func New(scorer Scorer, opts Options) *Explainer {
	return &Explainer{scorer: scorer, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (e *Explainer) Options() Options {
	return e.opts
}

// ReferenceBuilds returns how many times the reference sample was built.
func (e *Explainer) ReferenceBuilds() int64 {
	return e.builds.Load()
}

// Init builds the reference sample if it does not exist yet.
func (e *Explainer) Init() error {
	_, err := e.reference()
	return err
}

// Reset drops the reference sample so the next call rebuilds it against the
// scorer's current codec.
func (e *Explainer) Reset() {
	e.mu.Lock()
	e.ref = nil
	e.mu.Unlock()
}

func (e *Explainer) reference() (*reference, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ref != nil {
		return e.ref, nil
	}
	if !e.scorer.Ready() {
		return nil, domain.ErrModelUnavailable
	}

	seed := uint64(e.opts.Seed)
	rng := rand.New(rand.NewPCG(seed, seed))
	e.ref = newReference(e.scorer.Codec(), e.opts.ReferenceSize, rng)
	e.builds.Add(1)

	slog.Info("explainer reference sample built",
		"rows", e.opts.ReferenceSize,
		"seed", e.opts.Seed,
	)
	return e.ref, nil
}

// Explain attributes pred to its top feature conditions. Repeated calls for
// the same prediction return the same attributions.
func (e *Explainer) Explain(ctx context.Context, pred *domain.Prediction) (*domain.Explanation, error) {
	if pred == nil {
		return nil, fmt.Errorf("%w: prediction is required", domain.ErrInvalidInput)
	}
	if e.scorer == nil || !e.scorer.Ready() {
		return nil, domain.ErrModelUnavailable
	}

	ref, err := e.reference()
	if err != nil {
		return nil, err
	}

	sur, err := e.explain(ctx, ref, &pred.Application)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExplanationFailed, err)
	}

	exp := &domain.Explanation{
		Prediction:      *pred,
		Attributions:    sur.attrs,
		Positive:        []domain.Attribution{},
		Negative:        []domain.Attribution{},
		Intercept:       sur.fit.intercept,
		Score:           sur.fit.score,
		LocalPrediction: sur.local,
		ExplainedAt:     time.Now().UTC(),
	}
	for _, a := range sur.attrs {
		switch {
		case a.Weight > 0:
			exp.Positive = append(exp.Positive, a)
		case a.Weight < 0:
			exp.Negative = append(exp.Negative, a)
		}
	}
	return exp, nil
}

// surrogate is the local linear model fitted around one instance.
type surrogate struct {
	attrs []domain.Attribution
	fit   *ridgeFit
	// local is the surrogate's prediction at the instance.
	local float64
}

func (e *Explainer) explain(ctx context.Context, ref *reference, app *domain.Application) (*surrogate, error) {
	c := e.scorer.Codec()
	row, err := c.Raw(codec.FromApplication(app))
	if err != nil {
		return nil, err
	}

	seed := uint64(e.opts.Seed)
	rng := rand.New(rand.NewPCG(seed, seed+1))
	nb := ref.sample(row, e.opts.NumSamples, rng)

	labels, err := e.score(ctx, c, nb.inverse)
	if err != nil {
		return nil, err
	}
	scaled := ref.standardize(nb.binary)
	weights := kernelWeights(scaled, e.opts.KernelWidth)

	all := make([]int, codec.NumFeatures)
	for i := range all {
		all[i] = i
	}
	selection, err := fitRidge(scaled, all, labels, weights, selectionAlpha)
	if err != nil {
		return nil, fmt.Errorf("feature selection: %w", err)
	}
	// Features are ranked by their contribution at the instance itself.
	contrib := make([]float64, len(all))
	for j := range contrib {
		contrib[j] = selection.coef[j] * scaled[0][j]
	}
	used := topK(contrib, e.opts.NumFeatures)

	fit, err := fitRidge(scaled, used, labels, weights, surrogateAlpha)
	if err != nil {
		return nil, fmt.Errorf("surrogate fit: %w", err)
	}

	order := make([]int, len(used))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return compareMagnitude(fit.coef[a], fit.coef[b])
	})

	attrs := make([]domain.Attribution, 0, len(order))
	for _, j := range order {
		desc, err := describe(c, ref.disc, used[j], row)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, domain.Attribution{Feature: desc, Weight: fit.coef[j]})
	}
	return &surrogate{attrs: attrs, fit: fit, local: fit.predict(scaled[0], used)}, nil
}

// score runs every neighbour through the scorer. The first failure cancels
// the remaining work.
func (e *Explainer) score(ctx context.Context, c *codec.Codec, rows [][]float64) ([]float64, error) {
	labels := make([]float64, len(rows))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	chunk := (len(rows) + e.opts.Workers - 1) / e.opts.Workers
	for lo := 0; lo < len(rows); lo += chunk {
		hi := min(lo+chunk, len(rows))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				in, err := c.Decode(rows[i])
				if err != nil {
					return err
				}
				p, err := e.scorer.Probability(in)
				if err != nil {
					return fmt.Errorf("scoring neighbour %d: %w", i, err)
				}
				labels[i] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return labels, nil
}

// topK returns the indices of the k largest coefficients by magnitude.
// Ties keep index order.
func topK(coef []float64, k int) []int {
	idx := make([]int, len(coef))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return compareMagnitude(coef[a], coef[b])
	})
	return idx[:min(k, len(idx))]
}

// compareMagnitude orders by descending absolute value.
func compareMagnitude(a, b float64) int {
	ma, mb := math.Abs(a), math.Abs(b)
	switch {
	case ma > mb:
		return -1
	case ma < mb:
		return 1
	}
	return 0
}

// describe phrases feature pos of the target row as a condition.
func describe(c *codec.Codec, d *discretizer, pos int, row []float64) (string, error) {
	f := codec.Features[pos]
	if d.continuous(pos) {
		return d.name(pos, bin(d.quartiles[pos], row[pos])), nil
	}
	v, err := c.CategoryValue(pos, int(row[pos]))
	if err != nil {
		return "", err
	}
	return f.Name + "=" + v, nil
}
