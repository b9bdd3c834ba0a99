package analysis

import "math"

// minDeltaV is the voltage step below which a derivative is reported as zero.
const minDeltaV = 1e-9

// GmOptions configures smoothing ahead of differentiation.
type GmOptions struct {
	Window int
	Filter Filter
}

// DefaultGmOptions smooths with the 5-point Savitzky-Golay filter.
func DefaultGmOptions() GmOptions {
	return GmOptions{Window: 5, Filter: FilterSavitzkyGolay}
}

// Transconductance computes dIds/dVgs for every sample.
//
// Interior points use a central difference, the two boundary points a
// one-sided difference. Where the voltage delta is below 1e-9 V the value
// is left at zero. Mismatched lengths or fewer than 3 samples return zeros.
func Transconductance(ids, vgs []float64, opts GmOptions) []float64 {
	n := len(ids)
	gm := make([]float64, n)
	if n != len(vgs) || n < 3 {
		return gm
	}

	smooth := Smooth(ids, opts.Window, opts.Filter)

	for i := 1; i < n-1; i++ {
		dv := vgs[i+1] - vgs[i-1]
		if math.Abs(dv) > minDeltaV {
			gm[i] = (smooth[i+1] - smooth[i-1]) / dv
		}
	}

	if dv := vgs[1] - vgs[0]; math.Abs(dv) > minDeltaV {
		gm[0] = (smooth[1] - smooth[0]) / dv
	}
	if dv := vgs[n-1] - vgs[n-2]; math.Abs(dv) > minDeltaV {
		gm[n-1] = (smooth[n-1] - smooth[n-2]) / dv
	}

	return gm
}

// ThresholdMethod records how a threshold voltage was obtained.
type ThresholdMethod int

const (
	ThresholdNone ThresholdMethod = iota
	ThresholdExtrapolated
	ThresholdSecondDerivative
)

// ThresholdResult is the outcome of ThresholdVoltage.
type ThresholdResult struct {
	Vt     float64
	Index  int // Sample the estimate was taken from
	Method ThresholdMethod
	Valid  bool
}

// minThresholdSamples is the shortest curve ThresholdVoltage will consider.
const minThresholdSamples = 5

// ThresholdVoltage estimates Vt by linear extrapolation from the point of
// maximum transconductance: Vt = Vgs[max] - Ids[max]/Gm[max].
//
// The estimate is rejected outright when max Gm is not positive or sits
// within 2 samples of either end. An extrapolation outside 0 < Vt < Vgs[max]
// falls back to the peak of the second derivative, computed by applying
// Transconductance to gm. Curves shorter than 5 samples are invalid.
func ThresholdVoltage(gm, vgs, ids []float64) ThresholdResult {
	n := len(gm)
	if n != len(vgs) || n != len(ids) || n < minThresholdSamples {
		return ThresholdResult{}
	}

	maxIdx := argmax(gm)
	maxGm := gm[maxIdx]
	if maxGm <= 0 || maxIdx < 2 || maxIdx >= n-2 {
		return ThresholdResult{}
	}

	vgsAtMax := vgs[maxIdx]
	if maxGm > 1e-12 {
		vt := vgsAtMax - ids[maxIdx]/maxGm
		if vt > 0 && vt < vgsAtMax {
			return ThresholdResult{Vt: vt, Index: maxIdx, Method: ThresholdExtrapolated, Valid: true}
		}
	}

	d2 := Transconductance(gm, vgs, DefaultGmOptions())
	d2Idx := argmax(d2)
	if d2Idx > 0 {
		return ThresholdResult{Vt: vgs[d2Idx], Index: d2Idx, Method: ThresholdSecondDerivative, Valid: true}
	}

	return ThresholdResult{}
}

// argmax returns the first index of the largest value, 0 for empty input.
func argmax(data []float64) int {
	idx := 0
	for i := 1; i < len(data); i++ {
		if data[i] > data[idx] {
			idx = i
		}
	}
	return idx
}
