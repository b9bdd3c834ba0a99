package sample

import "github.com/itohio/gofet/pkg/analysis"

// CurveBuffer accumulates the inner loop samples for one outer voltage.
// It lives for a single outer step and is analyzed at most once.
type CurveBuffer struct {
	Axis       Axis
	Outer      float64
	Inner      []float64
	Current    []float64
	Sense      []float64
	Timestamps []uint64

	Result   analysis.CurveResult
	analyzed bool
}

// NewCurveBuffer creates an empty buffer sized for capacity samples.
func NewCurveBuffer(axis Axis, outer float64, capacity int) *CurveBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &CurveBuffer{
		Axis:       axis,
		Outer:      outer,
		Inner:      make([]float64, 0, capacity),
		Current:    make([]float64, 0, capacity),
		Sense:      make([]float64, 0, capacity),
		Timestamps: make([]uint64, 0, capacity),
	}
}

// Add appends a row to the curve.
func (b *CurveBuffer) Add(r Row) {
	b.Inner = append(b.Inner, r.Inner(b.Axis))
	b.Current = append(b.Current, r.Ids)
	b.Sense = append(b.Sense, r.Vsh)
	b.Timestamps = append(b.Timestamps, r.Timestamp)
}

// Len returns the number of samples in the curve.
func (b *CurveBuffer) Len() int {
	return len(b.Inner)
}

// Gm returns the transconductance computed by Analyze, nil before that.
func (b *CurveBuffer) Gm() []float64 {
	return b.Result.Gm
}

// Analyze runs the analysis engine on the curve. Later calls return the
// first result.
func (b *CurveBuffer) Analyze() analysis.CurveResult {
	if !b.analyzed {
		b.Result = analysis.AnalyzeCurve(b.Inner, b.Current)
		b.analyzed = true
	}
	return b.Result
}

// Meta returns the metadata line describing the analyzed curve.
func (b *CurveBuffer) Meta() CurveMeta {
	return MetaFromResult(b.Outer, b.Analyze())
}
