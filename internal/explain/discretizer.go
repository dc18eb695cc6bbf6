package explain

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-finance/kestrel/internal/codec"
)

// stdEpsilon keeps per-bin standard deviations strictly positive.
const stdEpsilon = 1e-11

// discretizer bins every continuous feature at its quartiles.
// Bin i of a feature covers (q[i-1], q[i]].
type discretizer struct {
	quartiles [codec.NumFeatures][]float64
	names     [codec.NumFeatures][]string
	means     [codec.NumFeatures][]float64
	stds      [codec.NumFeatures][]float64
	mins      [codec.NumFeatures][]float64
	maxs      [codec.NumFeatures][]float64
}

func newDiscretizer(data [][]float64) *discretizer {
	d := &discretizer{}
	for pos, f := range codec.Features {
		if f.Categorical {
			continue
		}

		column := make([]float64, len(data))
		for i, row := range data {
			column[i] = row[pos]
		}
		sorted := slices.Clone(column)
		slices.Sort(sorted)

		qts := slices.Compact([]float64{
			percentile(sorted, 25),
			percentile(sorted, 50),
			percentile(sorted, 75),
		})
		d.quartiles[pos] = qts

		names := []string{fmt.Sprintf("%s <= %.2f", f.Name, qts[0])}
		for i := 0; i < len(qts)-1; i++ {
			names = append(names, fmt.Sprintf("%.2f < %s <= %.2f", qts[i], f.Name, qts[i+1]))
		}
		names = append(names, fmt.Sprintf("%s > %.2f", f.Name, qts[len(qts)-1]))
		d.names[pos] = names

		bins := make([][]float64, len(qts)+1)
		for _, v := range column {
			b := bin(qts, v)
			bins[b] = append(bins[b], v)
		}
		for _, selection := range bins {
			var mean, std float64
			if len(selection) > 0 {
				mean, std = stat.PopMeanStdDev(selection, nil)
			}
			d.means[pos] = append(d.means[pos], mean)
			d.stds[pos] = append(d.stds[pos], std+stdEpsilon)
		}

		d.mins[pos] = append([]float64{sorted[0]}, qts...)
		d.maxs[pos] = append(slices.Clone(qts), sorted[len(sorted)-1])
	}
	return d
}

// bin returns the number of quartiles strictly below v.
func bin(qts []float64, v float64) int {
	return sort.SearchFloat64s(qts, v)
}

// percentile interpolates linearly between closest ranks of sorted data.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func (d *discretizer) continuous(pos int) bool {
	return d.quartiles[pos] != nil
}

// discretize maps continuous features of a raw row to bin indices.
// Categorical features are copied.
func (d *discretizer) discretize(row []float64) []float64 {
	out := slices.Clone(row)
	for pos := range out {
		if d.continuous(pos) {
			out[pos] = float64(bin(d.quartiles[pos], row[pos]))
		}
	}
	return out
}

// name describes the bin a value of a continuous feature falls in.
func (d *discretizer) name(pos int, b int) string {
	return d.names[pos][b]
}

// undiscretize draws a value inside bin b of a continuous feature from a
// normal distribution fitted to the reference values of the bin and
// truncated to the bin edges.
func (d *discretizer) undiscretize(pos int, b int, rng *rand.Rand) float64 {
	lo, hi := d.mins[pos][b], d.maxs[pos][b]
	mean, std := d.means[pos][b], d.stds[pos][b]

	a, z := (lo-mean)/std, (hi-mean)/std
	if a == z {
		return lo
	}

	pa, pz := distuv.UnitNormal.CDF(a), distuv.UnitNormal.CDF(z)
	if !(pz > pa) {
		return clamp(mean, lo, hi)
	}
	u := pa + rng.Float64()*(pz-pa)
	if u <= 0 || u >= 1 {
		return clamp(mean, lo, hi)
	}
	return clamp(mean+std*distuv.UnitNormal.Quantile(u), lo, hi)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
