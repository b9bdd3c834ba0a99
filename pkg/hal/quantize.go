package hal

import "github.com/chewxy/math32"

// Converter maps voltages to converter codes for a DAC or ADC of the given
// resolution and reference voltage. Arithmetic is done in float32 as on
// the front-end MCU.
type Converter struct {
	Bits uint8
	VRef float32
}

// NewConverter creates a converter, defaulting to 12 bits at 3.3 V.
func NewConverter(bits uint8, vref float64) Converter {
	if bits == 0 || bits > 16 {
		bits = 12
	}
	if vref <= 0 {
		vref = 3.3
	}
	return Converter{Bits: bits, VRef: float32(vref)}
}

// MaxCode returns the full scale code.
func (c Converter) MaxCode() uint32 {
	return 1<<c.Bits - 1
}

// LSB returns the voltage of one code step.
func (c Converter) LSB() float64 {
	return float64(c.VRef / float32(c.MaxCode()))
}

// Code converts a voltage into the nearest code, clamped to the range.
func (c Converter) Code(v float64) uint32 {
	maxCode := float32(c.MaxCode())
	code := math32.Round(float32(v) / c.VRef * maxCode)
	code = math32.Max(0, math32.Min(code, maxCode))
	return uint32(code)
}

// Voltage converts a code back into volts.
func (c Converter) Voltage(code uint32) float64 {
	if code > c.MaxCode() {
		code = c.MaxCode()
	}
	return float64(float32(code) / float32(c.MaxCode()) * c.VRef)
}

// Average converts a sum of n codes into an averaged voltage.
func (c Converter) Average(sum uint64, n int) float64 {
	if n <= 0 {
		return 0
	}
	avg := float32(float64(sum) / float64(n))
	return float64(avg / float32(c.MaxCode()) * c.VRef)
}

// Quantize rounds v onto the converter grid.
func (c Converter) Quantize(v float64) float64 {
	return c.Voltage(c.Code(v))
}

// EffectiveBits returns the resolution reached by averaging n samples,
// half a bit per doubling.
func (c Converter) EffectiveBits(n int) float64 {
	if n < 1 {
		n = 1
	}
	return float64(float32(c.Bits) + 0.5*math32.Log2(float32(n)))
}
