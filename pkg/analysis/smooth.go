// Package analysis derives MOSFET parameters from sampled transfer curves.
//
// All functions are pure: they never modify their inputs and keep no state
// between calls. Inputs are parallel slices already separated by sweep axis.
package analysis

// Filter selects the smoothing applied before differentiation.
type Filter int

const (
	FilterNone Filter = iota
	FilterMovingAverage
	FilterSavitzkyGolay
)

// savitzkyGolay5 holds the 5-point quadratic Savitzky-Golay coefficients.
var savitzkyGolay5 = [5]float64{-3.0 / 35, 12.0 / 35, 17.0 / 35, 12.0 / 35, -3.0 / 35}

// MovingAverage returns a centered moving average of data.
// Even windows are widened by one; near the edges fewer neighbors are averaged.
func MovingAverage(data []float64, window int) []float64 {
	if len(data) == 0 {
		return []float64{}
	}
	if window < 1 {
		window = 1
	}
	if window%2 == 0 {
		window++
	}

	n := len(data)
	half := window / 2
	result := make([]float64, n)

	for i := range n {
		var sum float64
		count := 0
		for k := -half; k <= half; k++ {
			idx := i + k
			if idx >= 0 && idx < n {
				sum += data[idx]
				count++
			}
		}
		result[i] = sum / float64(count)
	}

	return result
}

// SavitzkyGolay applies the fixed 5-point quadratic Savitzky-Golay filter.
// Out of range neighbors are clamped to the nearest edge sample. With fewer
// than 5 samples it falls back to MovingAverage with the given window.
func SavitzkyGolay(data []float64, window int) []float64 {
	if len(data) < 5 {
		return MovingAverage(data, window)
	}

	n := len(data)
	result := make([]float64, n)

	for i := range n {
		var sum float64
		for k := -2; k <= 2; k++ {
			idx := min(max(i+k, 0), n-1)
			sum += data[idx] * savitzkyGolay5[k+2]
		}
		result[i] = sum
	}

	return result
}

// Smooth applies the selected filter. FilterNone returns a copy of data.
func Smooth(data []float64, window int, filter Filter) []float64 {
	switch filter {
	case FilterMovingAverage:
		return MovingAverage(data, window)
	case FilterSavitzkyGolay:
		return SavitzkyGolay(data, window)
	default:
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}
}
