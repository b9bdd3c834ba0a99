package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRange_Count(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		want int
	}{
		{name: "three points", r: Range{Start: 0, End: 1, Step: 0.5}, want: 3},
		{name: "single point", r: Range{Start: 0, End: 0, Step: 1}, want: 1},
		{name: "float steps", r: Range{Start: 0, End: 3.3, Step: 0.05}, want: 67},
		{name: "tenths", r: Range{Start: 0, End: 1, Step: 0.1}, want: 11},
		{name: "partial last step", r: Range{Start: 0, End: 1, Step: 0.3}, want: 4},
		{name: "zero step", r: Range{Start: 0, End: 1, Step: 0}, want: 0},
		{name: "negative step", r: Range{Start: 0, End: 1, Step: -0.1}, want: 0},
		{name: "reversed", r: Range{Start: 1, End: 0, Step: 0.1}, want: 0},
		{name: "step too fine", r: Range{Start: 0, End: 3.3, Step: 1e-20}, want: 0},
		{name: "denormal step", r: Range{Start: 0, End: 1, Step: 5e-324}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Count())
		})
	}
}

func TestRange_Values(t *testing.T) {
	r := Range{Start: 0, End: 1, Step: 0.5}
	assert.Equal(t, []float64{0, 0.5, 1}, r.Values())
	assert.InDelta(t, 3.3, Range{Start: 0, End: 3.3, Step: 0.05}.At(66), 1e-12)
}

func TestParseAxis(t *testing.T) {
	axis, err := ParseAxis("GateSweep")
	require.NoError(t, err)
	assert.Equal(t, GateSweep, axis)

	axis, err = ParseAxis("DrainSweep")
	require.NoError(t, err)
	assert.Equal(t, DrainSweep, axis)

	_, err = ParseAxis("diagonal")
	assert.Error(t, err)

	assert.Equal(t, "GateSweep", GateSweep.String())
	assert.Equal(t, "DrainSweep", DrainSweep.String())
}

func TestNewRow(t *testing.T) {
	r := NewRow(12, 0.5, 1.0, 0.01, 100)
	assert.Equal(t, uint64(12), r.Timestamp)
	assert.InDelta(t, 1e-4, r.Ids, 1e-15)

	assert.Equal(t, 1.0, r.Inner(GateSweep))
	assert.Equal(t, 0.5, r.Outer(GateSweep))
	assert.Equal(t, 0.5, r.Inner(DrainSweep))
	assert.Equal(t, 1.0, r.Outer(DrainSweep))

	assert.Equal(t, 0.0, NewRow(0, 0, 0, 1, 0).Ids, "no shunt, no current")
}

func TestCurveBuffer(t *testing.T) {
	b := NewCurveBuffer(GateSweep, 0.5, 4)
	for i := 0; i < 4; i++ {
		b.Add(NewRow(uint64(i), 0.5, float64(i)*0.1, float64(i)*0.01, 100))
	}

	require.Equal(t, 4, b.Len())
	assert.Equal(t, []float64{0, 0.1, 0.2, float64(3) * 0.1}, b.Inner)
	assert.Equal(t, []uint64{0, 1, 2, 3}, b.Timestamps)
	assert.Nil(t, b.Gm())

	res := b.Analyze()
	assert.Len(t, b.Gm(), 4)
	assert.False(t, res.Vt.Valid, "too short for a threshold")
	assert.False(t, res.SS.Valid)

	meta := b.Meta()
	assert.Equal(t, 0.5, meta.Vds)
	assert.Equal(t, res.MaxGm, meta.MaxGm)
}
