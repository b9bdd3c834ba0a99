package sample

import (
	"fmt"
	"math"
)

// Axis selects which voltage is swept in the inner loop.
type Axis int

const (
	// GateSweep sweeps Vgs for every fixed Vds, producing transfer curves.
	GateSweep Axis = iota
	// DrainSweep sweeps Vds for every fixed Vgs, producing output curves.
	DrainSweep
)

func (a Axis) String() string {
	switch a {
	case GateSweep:
		return "GateSweep"
	case DrainSweep:
		return "DrainSweep"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// ParseAxis converts a sweep axis name into an Axis.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "GateSweep", "gate":
		return GateSweep, nil
	case "DrainSweep", "drain":
		return DrainSweep, nil
	}
	return 0, fmt.Errorf("unknown sweep axis %q", s)
}

const (
	// rangeEpsilon absorbs float error when counting steps of a range.
	rangeEpsilon = 1e-9

	// MaxRangePoints bounds a single range so point counts never overflow.
	MaxRangePoints = math.MaxInt32
)

// Range is a linear voltage range, both ends inclusive.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
}

// Count returns the number of points in the range, 0 when it is degenerate
// or would hold more than MaxRangePoints.
func (r Range) Count() int {
	if !finite(r.Start) || !finite(r.End) || !finite(r.Step) {
		return 0
	}
	if r.Step <= 0 || r.End < r.Start {
		return 0
	}
	steps := math.Floor((r.End-r.Start)/r.Step + rangeEpsilon)
	if !finite(steps) || steps >= MaxRangePoints {
		return 0
	}
	return int(steps) + 1
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// At returns the i-th voltage of the range.
// Voltages are computed from the index so steps never accumulate error.
func (r Range) At(i int) float64 {
	return r.Start + float64(i)*r.Step
}

// Values returns every voltage of the range.
func (r Range) Values() []float64 {
	n := r.Count()
	v := make([]float64, n)
	for i := range v {
		v[i] = r.At(i)
	}
	return v
}

// Row is one measurement point.
type Row struct {
	Timestamp uint64  // ms since sweep start
	Vds       float64 // V
	Vgs       float64 // V
	Vsh       float64 // Sense voltage across the shunt (V)
	Ids       float64 // A
}

// NewRow builds a Row deriving the drain current from the sense voltage.
func NewRow(ts uint64, vds, vgs, vsh, rshunt float64) Row {
	var ids float64
	if rshunt > 0 {
		ids = vsh / rshunt
	}
	return Row{
		Timestamp: ts,
		Vds:       vds,
		Vgs:       vgs,
		Vsh:       vsh,
		Ids:       ids,
	}
}

// Inner returns the voltage swept in the inner loop for the given axis.
func (r Row) Inner(axis Axis) float64 {
	if axis == DrainSweep {
		return r.Vds
	}
	return r.Vgs
}

// Outer returns the voltage held fixed per curve for the given axis.
func (r Row) Outer(axis Axis) float64 {
	if axis == DrainSweep {
		return r.Vgs
	}
	return r.Vds
}
