package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConverter_Code(t *testing.T) {
	dac := NewConverter(8, 3.3)

	tests := []struct {
		name string
		v    float64
		want uint32
	}{
		{name: "zero", v: 0, want: 0},
		{name: "full scale", v: 3.3, want: 255},
		{name: "one volt", v: 1.0, want: 77},
		{name: "negative clamps", v: -1, want: 0},
		{name: "above range clamps", v: 5, want: 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dac.Code(tt.v))
		})
	}
}

func TestConverter_RoundTrip(t *testing.T) {
	adc := NewConverter(12, 3.3)
	assert.Equal(t, uint32(4095), adc.MaxCode())
	assert.InDelta(t, 3.3/4095, adc.LSB(), 1e-9)

	for _, v := range []float64{0, 0.1, 1.234, 2.5, 3.3} {
		assert.InDelta(t, v, adc.Quantize(v), adc.LSB()/2+1e-6, "v=%v", v)
	}
}

func TestConverter_Average(t *testing.T) {
	adc := NewConverter(12, 3.3)
	assert.InDelta(t, adc.Voltage(2048), adc.Average(2048*16, 16), 1e-6)
	assert.Equal(t, 0.0, adc.Average(100, 0))
}

func TestConverter_EffectiveBits(t *testing.T) {
	adc := NewConverter(12, 3.3)
	assert.InDelta(t, 12.0, adc.EffectiveBits(1), 1e-6)
	assert.InDelta(t, 14.0, adc.EffectiveBits(16), 1e-6)
	assert.InDelta(t, 12.0, adc.EffectiveBits(0), 1e-6)
}

func TestNewConverter_Defaults(t *testing.T) {
	c := NewConverter(0, 0)
	assert.Equal(t, uint8(12), c.Bits)
	assert.InDelta(t, 3.3, float64(c.VRef), 1e-6)
}
