package explain

import (
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/codec"
)

// span is a half-open integer range [lo, hi).
type span struct{ lo, hi int }

// referenceRanges are the plausible ranges the synthetic reference sample
// is drawn from. Categorical features are drawn uniformly from their domain.
var referenceRanges = map[int]span{
	codec.Age:                 {18, 70},
	codec.Income:              {20000, 150000},
	codec.EmpExp:              {0, 30},
	codec.LoanAmount:          {1000, 50000},
	codec.CreditHistoryLength: {0, 30},
	codec.CreditScore:         {300, 850},
}

// reference is the sample the perturbation distribution is estimated from.
// It is read-only once built.
type reference struct {
	data   [][]float64
	disc   *discretizer
	values [codec.NumFeatures][]float64
	freqs  [codec.NumFeatures][]float64

	// mean and scale are the column means and population standard
	// deviations of the discretized sample. A constant column has scale 1.
	mean  [codec.NumFeatures]float64
	scale [codec.NumFeatures]float64
}

// sampleReference draws n synthetic rows in the raw layout.
func sampleReference(c *codec.Codec, n int, rng *rand.Rand) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, codec.NumFeatures)
		for pos, f := range codec.Features {
			switch {
			case f.Categorical:
				row[pos] = float64(rng.IntN(len(c.Domain(pos))))
			case pos == codec.LoanPercentIncome:
				// derived below
			default:
				r := referenceRanges[pos]
				row[pos] = float64(r.lo + rng.IntN(r.hi-r.lo))
			}
		}
		row[codec.LoanPercentIncome] = row[codec.LoanAmount] / row[codec.Income]
		rows[i] = row
	}
	return rows
}

func newReference(c *codec.Codec, n int, rng *rand.Rand) *reference {
	return buildReference(sampleReference(c, n, rng))
}

func buildReference(data [][]float64) *reference {
	ref := &reference{data: data}
	ref.disc = newDiscretizer(ref.data)

	discretized := make([][]float64, len(ref.data))
	for i, row := range ref.data {
		discretized[i] = ref.disc.discretize(row)
	}

	for pos := range codec.Features {
		column := make([]float64, len(discretized))
		counts := make(map[float64]int)
		for i, row := range discretized {
			column[i] = row[pos]
			counts[row[pos]]++
		}

		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 {
			std = 1
		}
		ref.mean[pos], ref.scale[pos] = mean, std

		values := make([]float64, 0, len(counts))
		for v := range counts {
			values = append(values, v)
		}
		slices.Sort(values)

		freqs := make([]float64, len(values))
		for i, v := range values {
			freqs[i] = float64(counts[v]) / float64(len(discretized))
		}
		ref.values[pos] = values
		ref.freqs[pos] = freqs
	}
	return ref
}

// standardize centres and scales each column of binary with the statistics
// of the discretized reference sample.
func (r *reference) standardize(binary [][]float64) [][]float64 {
	scaled := make([][]float64, len(binary))
	for i, row := range binary {
		out := make([]float64, len(row))
		for j, v := range row {
			out[j] = (v - r.mean[j]) / r.scale[j]
		}
		scaled[i] = out
	}
	return scaled
}
