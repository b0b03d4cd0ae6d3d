package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// ErrInsufficientData is returned when a fit has fewer samples than
// parameters.
var ErrInsufficientData = errors.New("not enough samples for fit")

// Curve is a parametric model y = f(x; p).
type Curve func(x float64, p []float64) float64

// SidewallModel is the coupling-capacitance model B/(x+C), with x the
// edge-to-edge wire separation.
func SidewallModel(x float64, p []float64) float64 {
	return p[0] / (x + p[1])
}

// AtanModel is the saturating model a + b*(2/pi)*atan(c*(x+d)) used for
// both fringe shielding and partial fringe fractions.
func AtanModel(x float64, p []float64) float64 {
	return p[0] + p[1]*(2/math.Pi)*math.Atan(p[2]*(x+p[3]))
}

// LeastSquares fits curve to the samples by minimizing the residual sum
// of squares with Nelder-Mead, starting from seed. It returns the fitted
// parameters.
func LeastSquares(curve Curve, xs, ys, seed []float64) ([]float64, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d x values, %d y values", ErrInsufficientData, len(xs), len(ys))
	}
	if len(xs) < len(seed) {
		return nil, fmt.Errorf("%w: %d samples for %d parameters", ErrInsufficientData, len(xs), len(seed))
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			var sse float64
			for i, x := range xs {
				r := curve(x, p) - ys[i]
				sse += r * r
			}
			return sse
		},
	}
	result, err := optimize.Minimize(problem, seed, nil, &optimize.NelderMead{})
	if err != nil {
		return nil, err
	}
	if err := result.Status.Err(); err != nil {
		return nil, err
	}
	return result.X, nil
}

// FitSidewall fits coupling-vs-separation samples (separations in um,
// couplings in the solver's F/m units) to the sidewall model and returns
// the multiplier in aF/um and the offset in um. Non-positive couplings
// are outliers from barely converged solves and are dropped first.
func FitSidewall(seps, coups []float64) (mult, offset float64, err error) {
	var xs, ys []float64
	for i, y := range coups {
		if y > 0 {
			xs = append(xs, seps[i])
			ys = append(ys, y)
		}
	}
	p, err := LeastSquares(SidewallModel, xs, ys, []float64{1e-11, 0})
	if err != nil {
		return 0, 0, err
	}
	return p[0] * 1e12, p[1], nil
}

// FitAtan fits fraction-vs-position samples to the saturating atan model
// and returns its four parameters. The seed follows the sample range: the
// first y value for the floor, the overall rise for the amplitude.
func FitAtan(xs, ys []float64) (p []float64, err error) {
	if len(ys) == 0 {
		return nil, ErrInsufficientData
	}
	seed := []float64{ys[0], ys[len(ys)-1] - ys[0], 1, 0}
	return LeastSquares(AtanModel, xs, ys, seed)
}
