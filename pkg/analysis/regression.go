package analysis

import "math"

// LinearRegression fits y = slope*x + intercept by ordinary least squares
// and returns the coefficient of determination as r2.
//
// Mismatched or too short inputs yield all zeros. When x has (near) zero
// variance the slope and r2 are 0 and the intercept is the mean of y.
// A perfectly flat y fitted by a zero slope reports r2 = 1.
func LinearRegression(x, y []float64) (slope, intercept, r2 float64) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, 0, 0
	}

	n := float64(len(x))

	var sx, sy, sxy, sxx float64
	for i := range x {
		sx += x[i]
		sy += y[i]
		sxy += x[i] * y[i]
		sxx += x[i] * x[i]
	}

	denominator := n*sxx - sx*sx
	if math.Abs(denominator) < 1e-12 {
		return 0, sy / n, 0
	}

	slope = (n*sxy - sx*sy) / denominator
	intercept = (sy - slope*sx) / n

	yMean := sy / n
	var ssRes, ssTot float64
	for i := range x {
		pred := slope*x[i] + intercept
		ssRes += (y[i] - pred) * (y[i] - pred)
		ssTot += (y[i] - yMean) * (y[i] - yMean)
	}

	if ssTot < 1e-12 {
		return slope, intercept, 1
	}
	return slope, intercept, 1 - ssRes/ssTot
}
