package explain

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/codec"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/predictor"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/testutil"
)

var testOptions = Options{NumSamples: 1000, Workers: 4}

func newTestPredictor(t *testing.T) *predictor.Predictor {
	t.Helper()
	bundle, err := model.FromBytes(testutil.ModelJSON, testutil.EncoderJSON)
	require.NoError(t, err)
	engine, err := rules.NewDefaultEngine()
	require.NoError(t, err)
	return predictor.FromBundle(bundle, engine, decision.NewProcessor(0.5))
}

func predict(t *testing.T, p *predictor.Predictor, app *domain.Application) *domain.Prediction {
	t.Helper()
	pred, err := p.Predict(context.Background(), app)
	require.NoError(t, err)
	return pred
}

// flakyScorer fails once it has been called more than failAfter times.
type flakyScorer struct {
	*predictor.Predictor
	calls     atomic.Int64
	failAfter int64
	err       error
}

func (s *flakyScorer) Probability(in codec.Instance) (float64, error) {
	if s.calls.Add(1) > s.failAfter {
		return 0, s.err
	}
	return s.Predictor.Probability(in)
}

func TestExplain(t *testing.T) {
	p := newTestPredictor(t)
	ex := New(p, testOptions)
	ctx := context.Background()

	t.Run("RankedAttributions", func(t *testing.T) {
		pred := predict(t, p, testutil.RiskyApplication())
		exp, err := ex.Explain(ctx, pred)
		require.NoError(t, err)

		assert.Equal(t, pred.ID, exp.ID)
		assert.Len(t, exp.Attributions, DefaultNumFeatures)
		for i := 1; i < len(exp.Attributions); i++ {
			assert.GreaterOrEqual(t, math.Abs(exp.Attributions[i-1].Weight), math.Abs(exp.Attributions[i].Weight))
		}

		var negative []string
		for _, a := range exp.Negative {
			negative = append(negative, a.Feature)
		}
		assert.Contains(t, negative, "previous_loan_defaults_on_file=Yes")
	})

	t.Run("PartitionBySign", func(t *testing.T) {
		exp, err := ex.Explain(ctx, predict(t, p, testutil.ApprovedApplication()))
		require.NoError(t, err)

		for _, a := range exp.Positive {
			assert.Greater(t, a.Weight, 0.0)
		}
		for _, a := range exp.Negative {
			assert.Less(t, a.Weight, 0.0)
		}
		var zero int
		for _, a := range exp.Attributions {
			if a.Weight == 0 {
				zero++
			}
		}
		assert.Equal(t, len(exp.Attributions), len(exp.Positive)+len(exp.Negative)+zero)
	})

	t.Run("DescriptionFormat", func(t *testing.T) {
		exp, err := ex.Explain(ctx, predict(t, p, testutil.ApprovedApplication()))
		require.NoError(t, err)

		pattern := regexp.MustCompile(`^([a-z_]+ (<=|>) -?\d+\.\d{2}|-?\d+\.\d{2} < [a-z_]+ <= -?\d+\.\d{2}|[a-z_]+=[A-Za-z ]+)$`)
		for _, a := range exp.Attributions {
			assert.Regexp(t, pattern, a.Feature)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		pred := predict(t, p, testutil.ApprovedApplication())
		first, err := ex.Explain(ctx, pred)
		require.NoError(t, err)
		second, err := New(p, testOptions).Explain(ctx, pred)
		require.NoError(t, err)

		assert.Equal(t, first.Attributions, second.Attributions)
		assert.Equal(t, first.Intercept, second.Intercept)
		assert.Equal(t, first.Score, second.Score)
	})

	t.Run("NilPrediction", func(t *testing.T) {
		_, err := ex.Explain(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestExplainLazyInit(t *testing.T) {
	p := newTestPredictor(t)
	ex := New(p, testOptions)
	pred := predict(t, p, testutil.ApprovedApplication())

	assert.Equal(t, int64(0), ex.ReferenceBuilds())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ex.Explain(context.Background(), pred)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), ex.ReferenceBuilds())

	ex.Reset()
	require.NoError(t, ex.Init())
	assert.Equal(t, int64(2), ex.ReferenceBuilds())
}

func TestExplainFailures(t *testing.T) {
	p := newTestPredictor(t)
	pred := predict(t, p, testutil.ApprovedApplication())

	t.Run("ScorerFails", func(t *testing.T) {
		cause := errors.New("scorer exploded")
		ex := New(&flakyScorer{Predictor: p, failAfter: 10, err: cause}, testOptions)

		exp, err := ex.Explain(context.Background(), pred)
		assert.Nil(t, exp)
		assert.ErrorIs(t, err, domain.ErrExplanationFailed)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("ModelUnavailable", func(t *testing.T) {
		ex := New(predictor.New(nil, nil, nil, nil, ""), testOptions)
		_, err := ex.Explain(context.Background(), pred)
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
		assert.Equal(t, int64(0), ex.ReferenceBuilds())
	})
}

func TestPercentile(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, percentile(data, 25), 1e-12)
	assert.InDelta(t, 2.5, percentile(data, 50), 1e-12)
	assert.InDelta(t, 3.25, percentile(data, 75), 1e-12)
	assert.Equal(t, 7.0, percentile([]float64{7}, 50))
}

func TestDiscretizer(t *testing.T) {
	data := make([][]float64, 8)
	for i := range data {
		row := make([]float64, codec.NumFeatures)
		for pos := range row {
			row[pos] = float64(i)
		}
		data[i] = row
	}
	d := newDiscretizer(data)

	assert.True(t, d.continuous(codec.CreditScore))
	assert.False(t, d.continuous(codec.Gender))
	assert.Equal(t, []float64{1.75, 3.5, 5.25}, d.quartiles[codec.CreditScore])
	assert.Equal(t, "credit_score <= 1.75", d.name(codec.CreditScore, 0))
	assert.Equal(t, "1.75 < credit_score <= 3.50", d.name(codec.CreditScore, 1))
	assert.Equal(t, "credit_score > 5.25", d.name(codec.CreditScore, 3))

	// Values on a quartile belong to the lower bin.
	assert.Equal(t, 0, bin(d.quartiles[codec.CreditScore], 1.75))
	assert.Equal(t, 1, bin(d.quartiles[codec.CreditScore], 1.76))

	row := d.discretize(data[7])
	assert.Equal(t, 3.0, row[codec.CreditScore])
	assert.Equal(t, 7.0, row[codec.Gender])
}

func TestFitRidge(t *testing.T) {
	x := [][]float64{{0, 1}, {1, 0}, {2, 1}, {3, 0}, {4, 1}}
	y := make([]float64, len(x))
	w := make([]float64, len(x))
	for i, row := range x {
		y[i] = 2*row[0] + 1
		w[i] = 1
	}

	fit, err := fitRidge(x, []int{0}, y, w, 1e-9)
	require.NoError(t, err)
	assert.InDelta(t, 2, fit.coef[0], 1e-6)
	assert.InDelta(t, 1, fit.intercept, 1e-6)
	assert.InDelta(t, 1, fit.score, 1e-9)

	_, err = fitRidge(nil, []int{0}, nil, nil, 1)
	assert.Error(t, err)
}

func TestKernelWeights(t *testing.T) {
	w := kernelWeights([][]float64{{1, 1}, {0, 1}, {0, 0}}, 1)
	assert.Equal(t, 1.0, w[0])
	assert.InDelta(t, math.Exp(-0.5), w[1], 1e-12)
	assert.InDelta(t, math.Exp(-1), w[2], 1e-12)
}

func TestTopK(t *testing.T) {
	assert.Equal(t, []int{2, 0}, topK([]float64{0.5, 0.1, -0.9, 0.5}, 2))
	assert.Equal(t, []int{2, 0, 3, 1}, topK([]float64{0.5, 0.1, -0.9, 0.5}, 10))
}

func TestReferenceStandardize(t *testing.T) {
	data := make([][]float64, 4)
	for i := range data {
		row := make([]float64, codec.NumFeatures)
		row[codec.Gender] = float64(i % 2)
		row[codec.LoanIntent] = 3
		row[codec.CreditScore] = float64(300 + 100*i)
		data[i] = row
	}
	ref := buildReference(data)

	assert.InDelta(t, 0.5, ref.mean[codec.Gender], 1e-12)
	assert.InDelta(t, 0.5, ref.scale[codec.Gender], 1e-12)
	// Constant columns keep unit scale.
	assert.Equal(t, 3.0, ref.mean[codec.LoanIntent])
	assert.Equal(t, 1.0, ref.scale[codec.LoanIntent])
	// Continuous columns are measured on their bin indices 0..3.
	assert.InDelta(t, 1.5, ref.mean[codec.CreditScore], 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), ref.scale[codec.CreditScore], 1e-12)

	binary := make([][]float64, 2)
	for i := range binary {
		binary[i] = make([]float64, codec.NumFeatures)
		for j := range binary[i] {
			binary[i][j] = float64(1 - i)
		}
	}
	scaled := ref.standardize(binary)
	assert.InDelta(t, 1.0, scaled[0][codec.Gender], 1e-12)
	assert.InDelta(t, -1.0, scaled[1][codec.Gender], 1e-12)
	assert.InDelta(t, -2.0, scaled[0][codec.LoanIntent], 1e-12)
	assert.InDelta(t, -3.0, scaled[1][codec.LoanIntent], 1e-12)

	// A mismatch on gender (scale 0.5) moves twice as far as one on a
	// unit scale column.
	target := []float64{scaled[0][codec.Gender], scaled[0][codec.LoanIntent]}
	w := kernelWeights([][]float64{
		target,
		{scaled[1][codec.Gender], target[1]},
		{target[0], scaled[1][codec.LoanIntent]},
	}, 1)
	assert.Equal(t, 1.0, w[0])
	assert.InDelta(t, math.Exp(-2), w[1], 1e-12)
	assert.InDelta(t, math.Exp(-0.5), w[2], 1e-12)
}

func TestExplainStandardizedSurrogate(t *testing.T) {
	p := newTestPredictor(t)
	ex := New(p, Options{NumSamples: 5000, Workers: 4})

	exp, err := ex.Explain(context.Background(), predict(t, p, testutil.RiskyApplication()))
	require.NoError(t, err)
	require.Len(t, exp.Attributions, DefaultNumFeatures)

	top := exp.Attributions[0]
	assert.Equal(t, "previous_loan_defaults_on_file=Yes", top.Feature)
	assert.InDelta(t, -0.2680, top.Weight, 1e-3)

	tail := []string{
		domain.FieldEducation + "=High School",
		domain.FieldCreditHistoryLength,
		domain.FieldLoanIntent + "=VENTURE",
		domain.FieldGender + "=female",
		domain.FieldAge,
	}
	for i, want := range tail {
		got := exp.Attributions[5+i].Feature
		assert.True(t, strings.Contains(got, want), "rank %d: expected %q, got %q", 6+i, want, got)
	}
}
