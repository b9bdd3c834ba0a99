package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sweepAxis returns n gate voltages starting at start spaced by step.
func sweepAxis(start, step float64, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = start + float64(i)*step
	}
	return v
}

// exponentialCurve models Ids = i0 * exp(Vgs / slopeV).
func exponentialCurve(vgs []float64, i0, slopeV float64) []float64 {
	ids := make([]float64, len(vgs))
	for i, v := range vgs {
		ids[i] = i0 * math.Exp(v/slopeV)
	}
	return ids
}

func TestMovingAverage(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}

	got := MovingAverage(data, 3)
	require.Len(t, got, len(data))
	assert.InDeltaSlice(t, []float64{1.5, 2, 3, 4, 4.5}, got, 1e-12)

	// Even windows are widened to the next odd size
	assert.Equal(t, MovingAverage(data, 3), MovingAverage(data, 2))

	assert.Empty(t, MovingAverage(nil, 5))
}

func TestMovingAverage_WindowOneIdempotent(t *testing.T) {
	data := []float64{3, -1, 4, 1, -5, 9, 2, 6}

	once := MovingAverage(data, 1)
	twice := MovingAverage(once, 1)

	assert.Equal(t, data, once)
	assert.Equal(t, once, twice)
	assert.Len(t, MovingAverage(data, 0), len(data))
}

func TestSavitzkyGolay(t *testing.T) {
	t.Run("preserves linear interior", func(t *testing.T) {
		data := sweepAxis(0, 1, 10)
		got := SavitzkyGolay(data, 5)
		require.Len(t, got, len(data))
		for i := 2; i < len(data)-2; i++ {
			assert.InDelta(t, data[i], got[i], 1e-9, "index %d", i)
		}
	})

	t.Run("clamps edges", func(t *testing.T) {
		data := []float64{0, 1, 2, 3, 4, 5}
		got := SavitzkyGolay(data, 5)
		assert.InDelta(t, 6.0/35.0, got[0], 1e-12)
		assert.InDelta(t, 32.0/35.0, got[1], 1e-12)
	})

	t.Run("short input falls back to moving average", func(t *testing.T) {
		data := []float64{1, 2, 4, 8}
		assert.Equal(t, MovingAverage(data, 3), SavitzkyGolay(data, 3))
	})
}

func TestSmooth_None(t *testing.T) {
	data := []float64{1, 5, 2}
	got := Smooth(data, 5, FilterNone)
	assert.Equal(t, data, got)

	got[0] = 42
	assert.Equal(t, 1.0, data[0], "input must not be aliased")
}

func TestTransconductance_MonotonicCurve(t *testing.T) {
	vgs := sweepAxis(0, 0.1, 11)
	ids := exponentialCurve(vgs, 1e-9, 0.1)

	gm := Transconductance(ids, vgs, GmOptions{Filter: FilterNone})
	require.Len(t, gm, len(ids))
	for i, g := range gm {
		assert.Greater(t, g, 0.0, "index %d", i)
	}
}

func TestTransconductance_LinearCurve(t *testing.T) {
	vgs := sweepAxis(0, 0.1, 11)
	ids := make([]float64, len(vgs))
	for i, v := range vgs {
		ids[i] = 1e-3 * v
	}

	gm := Transconductance(ids, vgs, DefaultGmOptions())
	for i, g := range gm {
		assert.Greater(t, g, 0.0, "index %d", i)
	}
	// Central differences at 2 and n-3 reach into the clamped filter edges
	for i := 3; i < len(gm)-3; i++ {
		assert.InDelta(t, 1e-3, gm[i], 1e-9, "index %d", i)
	}

	exact := Transconductance(ids, vgs, GmOptions{Filter: FilterNone})
	for i, g := range exact {
		assert.InDelta(t, 1e-3, g, 1e-9, "unfiltered index %d", i)
	}
}

func TestTransconductance_ZeroVoltageDelta(t *testing.T) {
	vgs := []float64{0, 0.1, 0.1, 0.1, 0.4}
	ids := []float64{0, 1, 2, 3, 4}

	gm := Transconductance(ids, vgs, GmOptions{Filter: FilterNone})
	assert.Equal(t, 0.0, gm[2], "central delta is zero")
	assert.InDelta(t, 2/0.3, gm[3], 1e-9)
}

func TestTransconductance_ShortInput(t *testing.T) {
	assert.Equal(t, []float64{0, 0}, Transconductance([]float64{1, 2}, []float64{0, 1}, DefaultGmOptions()))
	assert.Equal(t, []float64{0, 0, 0}, Transconductance([]float64{1, 2, 3}, []float64{0, 1}, DefaultGmOptions()))
}

func TestThresholdVoltage_Extrapolated(t *testing.T) {
	vgs := sweepAxis(0, 0.1, 11)
	gm := []float64{0, 1e-4, 2e-4, 4e-4, 7e-4, 9e-4, 1e-3, 9e-4, 8e-4, 7e-4, 6e-4}
	ids := make([]float64, len(vgs))
	ids[6] = 2e-4

	res := ThresholdVoltage(gm, vgs, ids)
	require.True(t, res.Valid)
	assert.Equal(t, ThresholdExtrapolated, res.Method)
	assert.Equal(t, 6, res.Index)
	assert.InDelta(t, 0.4, res.Vt, 1e-9)
}

func TestThresholdVoltage_Rejected(t *testing.T) {
	vgs := sweepAxis(0, 0.1, 8)
	ids := make([]float64, len(vgs))

	tests := []struct {
		name string
		gm   []float64
	}{
		{name: "peak at lower boundary", gm: []float64{1, 9, 3, 2, 1, 0, 0, 0}},
		{name: "peak at upper boundary", gm: []float64{0, 1, 2, 3, 4, 5, 9, 6}},
		{name: "non-positive", gm: []float64{-5, -4, -3, -1, -3, -4, -5, -6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ThresholdVoltage(tt.gm, vgs, ids)
			assert.False(t, res.Valid)
			assert.Equal(t, 0.0, res.Vt)
			assert.Equal(t, ThresholdNone, res.Method)
		})
	}
}

func TestThresholdVoltage_SecondDerivativeFallback(t *testing.T) {
	vgs := sweepAxis(0, 0.1, 11)
	gm := []float64{0, 1e-4, 2e-4, 3e-4, 4e-4, 5e-4, 4e-4, 3e-4, 2e-4, 1e-4, 0}
	ids := make([]float64, len(vgs))
	ids[5] = 1 // extrapolates far below zero

	res := ThresholdVoltage(gm, vgs, ids)
	require.True(t, res.Valid)
	assert.Equal(t, ThresholdSecondDerivative, res.Method)
	assert.Greater(t, res.Index, 0)
	assert.Less(t, res.Index, 5)
	assert.Equal(t, vgs[res.Index], res.Vt)
}

func TestThresholdVoltage_ShortCurve(t *testing.T) {
	// Fewer than five samples never yields a threshold, whatever the data.
	for n := 0; n < 5; n++ {
		vgs := sweepAxis(0, 0.1, n)
		gm := make([]float64, n)
		ids := make([]float64, n)
		for i := range gm {
			gm[i] = float64(i + 1)
		}
		res := ThresholdVoltage(gm, vgs, ids)
		assert.False(t, res.Valid, "n=%d", n)
	}

	res := ThresholdVoltage([]float64{1, 2, 3, 2, 1}, sweepAxis(0, 0.1, 5), make([]float64, 4))
	assert.False(t, res.Valid, "mismatched lengths")
}

func TestSubthresholdSwing_Exponential(t *testing.T) {
	vgs := sweepAxis(0, 0.05, 21)
	ids := exponentialCurve(vgs, 1e-9, 0.1)

	res := SubthresholdSwing(ids, vgs)
	require.True(t, res.Valid)

	want := 0.1 * math.Ln10 * 1000
	assert.InDelta(t, want, res.SS, 0.5)
	assert.Greater(t, res.R2, 0.99)
	assert.Equal(t, 1, res.RegionStart)
	assert.Equal(t, 19, res.RegionEnd)

	assert.InDelta(t, vgs[1], res.X1, 1e-12)
	assert.InDelta(t, vgs[19], res.X2, 1e-12)
	assert.InDelta(t, math.Log10(ids[1]), res.Y1, 1e-6)
	assert.InDelta(t, math.Log10(ids[19]), res.Y2, 1e-6)
}

func TestSubthresholdSwing_Thresholds(t *testing.T) {
	assert.Equal(t, 1e-9, minFitSlope, "fit slope gate in decades/V")
	assert.Equal(t, 1e-9, minDeltaV, "voltage step gate in V")
	assert.Greater(t, 1000/minFitSlope, maxSwingMVPerDec, "slopes at the gate are never a valid swing")
}

func TestSubthresholdSwing_TooFewSamples(t *testing.T) {
	vgs := sweepAxis(0, 0.1, 9)
	ids := exponentialCurve(vgs, 1e-9, 0.1)

	assert.NotPanics(t, func() {
		res := SubthresholdSwing(ids, vgs)
		assert.False(t, res.Valid)
		assert.Equal(t, 0.0, res.SS)
	})
}

func TestSubthresholdSwing_NoRegion(t *testing.T) {
	vgs := sweepAxis(0, 0.1, 20)

	t.Run("flat current", func(t *testing.T) {
		ids := make([]float64, len(vgs))
		for i := range ids {
			ids[i] = 1e-6
		}
		assert.False(t, SubthresholdSwing(ids, vgs).Valid)
	})

	t.Run("below noise floor", func(t *testing.T) {
		ids := exponentialCurve(vgs, 1e-25, 0.1)
		assert.False(t, SubthresholdSwing(ids, vgs).Valid)
	})

	t.Run("swing too steep", func(t *testing.T) {
		// 10 mV/dec is below the physical limit and must be rejected
		ids := exponentialCurve(vgs, 1e-12, 0.01/math.Ln10)
		assert.False(t, SubthresholdSwing(ids, vgs).Valid)
	})
}

func TestLongestConsistentRun_FirstWins(t *testing.T) {
	slopes := []float64{0, 1, 1, 0, 1, 1, 0}
	valid := []bool{false, true, true, false, true, true, false}

	start, length := longestConsistentRun(slopes, valid)
	assert.Equal(t, 1, start)
	assert.Equal(t, 2, length)
}

func TestLongestConsistentRun_RatioBreaks(t *testing.T) {
	slopes := []float64{0, 1, 1.5, 5, 6, 7, 8, 0}
	valid := []bool{false, true, true, true, true, true, true, false}

	start, length := longestConsistentRun(slopes, valid)
	assert.Equal(t, 3, start)
	assert.Equal(t, 4, length)
}

func TestLinearRegression(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := []float64{1, 3, 5, 7, 9}

	slope, intercept, r2 := LinearRegression(x, y)
	assert.InDelta(t, 2.0, slope, 1e-12)
	assert.InDelta(t, 1.0, intercept, 1e-12)
	assert.InDelta(t, 1.0, r2, 1e-12)
}

func TestLinearRegression_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
	}{
		{name: "empty"},
		{name: "single point", x: []float64{1}, y: []float64{2}},
		{name: "mismatched", x: []float64{1, 2, 3}, y: []float64{1, 2}},
		{name: "constant x", x: []float64{2, 2, 2}, y: []float64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slope, _, r2 := LinearRegression(tt.x, tt.y)
			assert.Equal(t, 0.0, slope)
			assert.Equal(t, 0.0, r2)
		})
	}
}

func TestAnalyzeCurve(t *testing.T) {
	vgs := sweepAxis(0, 0.05, 21)
	ids := exponentialCurve(vgs, 1e-9, 0.1)

	res := AnalyzeCurve(vgs, ids)
	assert.Len(t, res.Gm, len(ids))
	assert.Greater(t, res.MaxGm, 0.0)
	assert.True(t, res.SS.Valid)
	assert.InDelta(t, 230.26, res.SS.SS, 0.5)

	empty := AnalyzeCurve(nil, nil)
	assert.Equal(t, 0.0, empty.MaxGm)
	assert.False(t, empty.Vt.Valid)
	assert.False(t, empty.SS.Valid)
}
