// Package chart renders measurement files as PNG plots.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/itohio/gofet/pkg/sample"
)

// ErrNoData is returned when a file holds nothing plottable.
var ErrNoData = errors.New("no data to plot")

// minCurrent is the smallest |Ids| drawn on a log scale.
const minCurrent = 1e-15

// Options controls plot rendering.
type Options struct {
	Width     vg.Length
	Height    vg.Length
	MaxPoints int  // Per curve, after downsampling
	Tangents  bool // Draw subthreshold fit lines from the metadata
}

// DefaultOptions returns an 800x500 point plot.
func DefaultOptions() Options {
	return Options{
		Width:     vg.Points(800),
		Height:    vg.Points(500),
		MaxPoints: 500,
		Tangents:  true,
	}
}

var palette = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 148, G: 103, B: 189, A: 255},
	color.RGBA{R: 140, G: 86, B: 75, A: 255},
	color.RGBA{R: 227, G: 119, B: 194, A: 255},
}

// Figure is a built plot together with its legend labels in drawing order.
type Figure struct {
	Plot   *plot.Plot
	Labels []string
}

func (f *Figure) add(label string, thumb plot.Thumbnailer) {
	f.Plot.Legend.Add(label, thumb)
	f.Labels = append(f.Labels, label)
}

// Build creates the plot for data. Gate sweeps are drawn as log10|Ids|
// against Vgs, drain sweeps as Ids in mA against Vds.
func Build(data *sample.Data, opts Options) (*Figure, error) {
	curves := data.Curves()
	if len(curves) == 0 {
		return nil, ErrNoData
	}

	gate := data.Header.Axis == sample.GateSweep

	p := plot.New()
	fig := &Figure{Plot: p}
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	if gate {
		p.Title.Text = "Transfer characteristics"
		p.X.Label.Text = "VGS (V)"
		p.Y.Label.Text = "log10(|IDS| / A)"
	} else {
		p.Title.Text = "Output characteristics"
		p.X.Label.Text = "VDS (V)"
		p.Y.Label.Text = "IDS (mA)"
	}

	var xs, ys []float64
	plotted := 0
	for i, c := range curves {
		xs = sample.DownsampleValues(xs, c.Inner, opts.MaxPoints)
		ys = sample.DownsampleValues(ys, c.Current, opts.MaxPoints)

		pts := points(xs, ys, gate)
		if len(pts) == 0 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create line for curve %d: %w", i, err)
		}
		line.Color = palette[i%len(palette)]
		line.LineStyle.Width = vg.Points(1.5)
		p.Add(line)

		label := "VDS"
		if !gate {
			label = "VGS"
		}
		fig.add(fmt.Sprintf("%s=%.2fV", label, c.Outer), line)
		plotted++

		if gate && opts.Tangents {
			if err := fig.addTangent(data.Meta, c.Outer, line.Color); err != nil {
				return nil, err
			}
		}
	}

	if plotted == 0 {
		return nil, ErrNoData
	}
	return fig, nil
}

func points(xs, ys []float64, logScale bool) plotter.XYs {
	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		y := ys[i]
		if logScale {
			a := math.Abs(y)
			if a < minCurrent {
				continue
			}
			y = math.Log10(a)
		} else {
			y *= 1000
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: y})
	}
	return pts
}

// addTangent draws the subthreshold fit recorded for the curve at vds.
func (f *Figure) addTangent(meta []sample.CurveMeta, vds float64, c color.Color) error {
	for _, m := range meta {
		if !m.SSValid || math.Abs(m.Vds-vds) > 5e-4 {
			continue
		}

		line, err := plotter.NewLine(plotter.XYs{{X: m.X1, Y: m.Y1}, {X: m.X2, Y: m.Y2}})
		if err != nil {
			return fmt.Errorf("failed to create tangent: %w", err)
		}
		line.Color = c
		line.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
		f.Plot.Add(line)
		f.add(fmt.Sprintf("SS=%.1f mV/dec", m.SS), line)
		return nil
	}
	return nil
}

// WritePNG renders data as a PNG image to w.
func WritePNG(w io.Writer, data *sample.Data, opts Options) error {
	fig, err := Build(data, opts)
	if err != nil {
		return err
	}

	writer, err := fig.Plot.WriterTo(opts.Width, opts.Height, "png")
	if err != nil {
		return fmt.Errorf("failed to create plot writer: %w", err)
	}
	if _, err := writer.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}

// PNG renders data and returns the encoded image.
func PNG(data *sample.Data, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, data, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
