package chart

import (
	"bytes"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gofet/pkg/sample"
)

func gateData(t *testing.T) *sample.Data {
	t.Helper()

	var buf bytes.Buffer
	w := sample.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(sample.Header{
		Axis:   sample.GateSweep,
		Rshunt: 100,
		Vgs:    sample.Range{Start: 0, End: 1, Step: 0.05},
		Vds:    sample.Range{Start: 0.5, End: 1, Step: 0.5},
	}))
	for _, vds := range []float64{0.5, 1} {
		curve := sample.NewCurveBuffer(sample.GateSweep, vds, 21)
		for i := 0; i <= 20; i++ {
			vgs := float64(i) * 0.05
			ids := 1e-9 * math.Exp(vgs/0.1) * vds
			row := sample.NewRow(uint64(i), vds, vgs, ids*100, 100)
			require.NoError(t, w.WriteRow(row))
			curve.Add(row)
		}
		require.NoError(t, w.WriteMeta(curve.Meta()))
	}
	require.NoError(t, w.Flush())

	data, err := sample.Parse(&buf)
	require.NoError(t, err)
	return data
}

func TestPNG_GateSweep(t *testing.T) {
	data := gateData(t)

	out, err := PNG(data, DefaultOptions())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
}

func TestBuild_Legend(t *testing.T) {
	data := gateData(t)

	fig, err := Build(data, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "VGS (V)", fig.Plot.X.Label.Text)
	require.Len(t, fig.Labels, 4, "two curves with their tangents")
	assert.Equal(t, "VDS=0.50V", fig.Labels[0])
	assert.True(t, strings.HasPrefix(fig.Labels[1], "SS="))
	assert.Equal(t, "VDS=1.00V", fig.Labels[2])

	opts := DefaultOptions()
	opts.Tangents = false
	fig, err = Build(data, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"VDS=0.50V", "VDS=1.00V"}, fig.Labels)
}

func TestBuild_DrainSweep(t *testing.T) {
	data := &sample.Data{Header: sample.Header{Axis: sample.DrainSweep}}
	for _, vgs := range []float64{1, 2} {
		for _, vds := range []float64{0, 0.5, 1} {
			data.Rows = append(data.Rows, sample.Row{Vgs: vgs, Vds: vds, Ids: 1e-3 * vgs * vds})
		}
	}

	fig, err := Build(data, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "IDS (mA)", fig.Plot.Y.Label.Text)
	assert.Equal(t, []string{"VGS=1.00V", "VGS=2.00V"}, fig.Labels)
}

func TestBuild_NoData(t *testing.T) {
	_, err := Build(&sample.Data{}, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoData)

	// Currents below the log floor leave nothing to draw
	data := &sample.Data{Rows: []sample.Row{{Vgs: 0}, {Vgs: 0.1}}}
	_, err = Build(data, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoData)
}
