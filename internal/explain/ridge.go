package explain

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ridgeFit is a weighted ridge regression with an unpenalized intercept.
type ridgeFit struct {
	coef      []float64
	intercept float64
	score     float64
}

// fitRidge minimizes sum(w*(y - X*b - c)^2) + alpha*|b|^2 over the columns
// of x listed in cols. score is the weighted coefficient of determination
// on the training rows.
func fitRidge(x [][]float64, cols []int, y, w []float64, alpha float64) (*ridgeFit, error) {
	n, p := len(x), len(cols)
	if n == 0 || p == 0 {
		return nil, errors.New("ridge: empty design matrix")
	}
	if len(y) != n || len(w) != n {
		return nil, errors.New("ridge: dimension mismatch")
	}

	var sw float64
	for _, v := range w {
		sw += v
	}
	if !(sw > 0) {
		return nil, errors.New("ridge: sample weights sum to zero")
	}

	xoff := make([]float64, p)
	var yoff float64
	for i, row := range x {
		for j, c := range cols {
			xoff[j] += w[i] * row[c]
		}
		yoff += w[i] * y[i]
	}
	for j := range xoff {
		xoff[j] /= sw
	}
	yoff /= sw

	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range x {
		s := math.Sqrt(w[i])
		for j, c := range cols {
			xc.Set(i, j, s*(row[c]-xoff[j]))
		}
		yc.SetVec(i, s*(y[i]-yoff))
	}

	a := mat.NewSymDense(p, nil)
	a.SymOuterK(1, xc.T())
	for j := range p {
		a.SetSym(j, j, a.At(j, j)+alpha)
	}

	var b mat.VecDense
	b.MulVec(xc.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.New("ridge: normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &b); err != nil {
		return nil, err
	}

	fit := &ridgeFit{coef: make([]float64, p), intercept: yoff}
	for j := range p {
		fit.coef[j] = beta.AtVec(j)
		fit.intercept -= xoff[j] * fit.coef[j]
	}
	fit.score = fit.r2(x, cols, y, w, yoff)
	return fit, nil
}

func (f *ridgeFit) predict(row []float64, cols []int) float64 {
	v := f.intercept
	for j, c := range cols {
		v += f.coef[j] * row[c]
	}
	return v
}

func (f *ridgeFit) r2(x [][]float64, cols []int, y, w []float64, ymean float64) float64 {
	var num, den float64
	for i, row := range x {
		r := y[i] - f.predict(row, cols)
		num += w[i] * r * r
		d := y[i] - ymean
		den += w[i] * d * d
	}
	if den == 0 {
		if num == 0 {
			return 1
		}
		return 0
	}
	return 1 - num/den
}
