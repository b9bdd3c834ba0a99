package analysis

import "math"

const (
	minSwingSamples  = 10
	minRunLength     = 3
	noiseFloor       = 1e-12 // A, smoothed currents below this are ignored
	fitFloor         = 1e-15 // A, raw currents below this are left out of the fit
	minDecadeStep    = 0.01  // decades between neighbors
	minDecadesPerV   = 0.5
	minSlopeRatio    = 0.5
	maxSlopeRatio    = 2.0
	minFitR2         = 0.9
	minFitSlope      = 1e-9 // decades/V, flatter fits carry no swing
	minSwingMVPerDec = 60.0
	maxSwingMVPerDec = 2000.0
)

// SSResult is the outcome of SubthresholdSwing.
type SSResult struct {
	SS    float64 // mV/decade
	Valid bool
	R2    float64

	// Fit line endpoints on the Vgs vs log10(|Ids|) plane.
	X1, Y1 float64
	X2, Y2 float64

	// Inclusive sample range the fit was run on.
	RegionStart int
	RegionEnd   int
}

// SubthresholdSwing locates the exponential region of a transfer curve and
// reports the gate voltage needed per decade of current.
//
// Currents are smoothed with a 5-point moving average and the local slope of
// log10(|Ids|) is computed for each interior point. A point is valid when
// both neighbors sit above 1e-12 A, the log step exceeds 0.01 decades and the
// slope exceeds 0.5 decades/V. The longest run of valid points whose
// successive slope ratios stay strictly between 0.5 and 2.0 is fitted by
// linear regression on the raw currents; the first longest run wins ties.
// The result is valid when |slope| > 1e-9, R² > 0.9 and SS lies in
// [60, 2000] mV/dec. Fewer than 10 samples is always invalid.
func SubthresholdSwing(ids, vgs []float64) SSResult {
	var result SSResult

	n := len(ids)
	if n != len(vgs) || n < minSwingSamples {
		return result
	}

	smooth := MovingAverage(ids, 5)

	slopes := make([]float64, n)
	valid := make([]bool, n)

	for i := 1; i < n-1; i++ {
		prev := math.Abs(smooth[i-1])
		next := math.Abs(smooth[i+1])
		if prev < noiseFloor || next < noiseFloor {
			continue
		}

		dv := vgs[i+1] - vgs[i-1]
		dLog := math.Log10(next) - math.Log10(prev)

		if math.Abs(dv) > minDeltaV && dLog > minDecadeStep {
			slopes[i] = dLog / dv
			valid[i] = slopes[i] > minDecadesPerV
		}
	}

	bestStart, bestLen := longestConsistentRun(slopes, valid)
	if bestLen < minRunLength {
		return result
	}

	x := make([]float64, 0, bestLen)
	y := make([]float64, 0, bestLen)
	for i := bestStart; i < bestStart+bestLen && i < n; i++ {
		v := math.Abs(ids[i])
		if v > fitFloor {
			x = append(x, vgs[i])
			y = append(y, math.Log10(v))
		}
	}
	if len(x) < minRunLength {
		return result
	}

	slope, intercept, r2 := LinearRegression(x, y)
	if math.Abs(slope) <= minFitSlope || r2 <= minFitR2 {
		return result
	}

	ss := (1 / math.Abs(slope)) * 1000
	if ss < minSwingMVPerDec || ss > maxSwingMVPerDec {
		return result
	}

	result.SS = ss
	result.Valid = true
	result.R2 = r2
	result.RegionStart = bestStart
	result.RegionEnd = bestStart + bestLen - 1
	result.X1 = x[0]
	result.Y1 = slope*result.X1 + intercept
	result.X2 = x[len(x)-1]
	result.Y2 = slope*result.X2 + intercept

	return result
}

// longestConsistentRun finds the first longest run of valid points whose
// neighboring slopes differ by less than a factor of two.
func longestConsistentRun(slopes []float64, valid []bool) (bestStart, bestLen int) {
	currStart, currLen := 0, 0

	for i := 1; i < len(valid); i++ {
		if !valid[i] {
			if currLen > bestLen {
				bestStart, bestLen = currStart, currLen
			}
			currLen = 0
			currStart = i + 1
			continue
		}

		if currLen == 0 || !valid[i-1] {
			currStart = i
			currLen = 1
			continue
		}

		ratio := slopes[i] / slopes[i-1]
		if ratio > minSlopeRatio && ratio < maxSlopeRatio {
			currLen++
		} else {
			if currLen > bestLen {
				bestStart, bestLen = currStart, currLen
			}
			currStart = i
			currLen = 1
		}
	}
	if currLen > bestLen {
		bestStart, bestLen = currStart, currLen
	}

	return bestStart, bestLen
}
