package sample

// Downsample decimates src to at most maxPoints elements for display.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// If len(src) <= maxPoints, all elements are copied.
func Downsample[T any](dst, src []T, maxPoints int) []T {
	if len(src) <= maxPoints {
		if cap(dst) >= len(src) {
			dst = dst[:len(src)]
			copy(dst, src)
			return dst
		}
		result := make([]T, len(src))
		copy(result, src)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(src)) / float64(maxPoints)
	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(src) {
			dst = append(dst, src[idx])
		}
	}

	// Keep the final point so curves end where the sweep ended
	if len(dst) > 0 {
		dst[len(dst)-1] = src[len(src)-1]
	}

	return dst
}

// DownsampleRows downsamples measurement rows.
func DownsampleRows(dst, rows []Row, maxPoints int) []Row {
	return Downsample(dst, rows, maxPoints)
}

// DownsampleValues downsamples a series of values, such as a Gm curve.
func DownsampleValues(dst, values []float64, maxPoints int) []float64 {
	return Downsample(dst, values, maxPoints)
}
