package explain

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-finance/kestrel/internal/codec"
)

// neighbourhood is the perturbed sample around one instance. Row 0 is the
// instance itself in both representations.
type neighbourhood struct {
	// binary[i][j] is 1 when row i shares the target's bin or category for
	// feature j.
	binary [][]float64
	// inverse holds the rows in the raw layout.
	inverse [][]float64
}

// sample draws n rows around the raw instance row.
// Bins and categories are drawn with their reference frequencies, then
// continuous bins are mapped back to values.
func (r *reference) sample(row []float64, n int, rng *rand.Rand) *neighbourhood {
	first := r.disc.discretize(row)

	nb := &neighbourhood{
		binary:  make([][]float64, n),
		inverse: make([][]float64, n),
	}
	for i := range n {
		nb.binary[i] = make([]float64, codec.NumFeatures)
		nb.inverse[i] = make([]float64, codec.NumFeatures)
	}

	for pos := range codec.Features {
		values := r.values[pos]
		dist := distuv.NewCategorical(r.freqs[pos], rng)
		for i := range n {
			v := values[int(dist.Rand())]
			nb.inverse[i][pos] = v
			if v == first[pos] {
				nb.binary[i][pos] = 1
			}
		}
		nb.binary[0][pos] = 1
	}

	for pos := range codec.Features {
		if !r.disc.continuous(pos) {
			continue
		}
		for i := 1; i < n; i++ {
			b := int(nb.inverse[i][pos])
			nb.inverse[i][pos] = r.disc.undiscretize(pos, b, rng)
		}
	}
	copy(nb.inverse[0], row)

	return nb
}

// kernelWeights converts the Euclidean distance of each row from row 0 into
// an exponential kernel weight.
func kernelWeights(rows [][]float64, width float64) []float64 {
	weights := make([]float64, len(rows))
	for i, row := range rows {
		var d2 float64
		for j, v := range row {
			d := v - rows[0][j]
			d2 += d * d
		}
		weights[i] = math.Sqrt(math.Exp(-d2 / (width * width)))
	}
	return weights
}
