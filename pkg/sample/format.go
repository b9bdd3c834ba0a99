package sample

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/itohio/gofet/pkg/analysis"
)

const (
	// Title is the first line of every measurement file.
	Title = "# MOSFET Characterization Data"
	// Columns is the CSV column header line.
	Columns = "timestamp,vds,vgs,vsh,ids"

	dateLayout = "2006-01-02 15:04:05"
	notAvail   = "n/a"
)

// Header describes the run a measurement file was produced by.
type Header struct {
	Date     time.Time
	Axis     Axis
	Rshunt   float64
	Vds      Range
	Vgs      Range
	Settling time.Duration
}

// CurveMeta is the per-curve analysis summary written after each transfer
// curve. Vt and SS are only meaningful when their validity flag is set.
type CurveMeta struct {
	Vds     float64
	Vt      float64
	VtValid bool
	SS      float64 // mV/dec
	SSValid bool
	MaxGm   float64 // S

	// Subthreshold fit line on the Vgs vs log10(|Ids|) plane.
	X1, Y1 float64
	X2, Y2 float64
}

// MetaFromResult converts an analysis result into a metadata record.
func MetaFromResult(vds float64, r analysis.CurveResult) CurveMeta {
	m := CurveMeta{
		Vds:     vds,
		Vt:      r.Vt.Vt,
		VtValid: r.Vt.Valid,
		SS:      r.SS.SS,
		SSValid: r.SS.Valid,
		MaxGm:   r.MaxGm,
	}
	if r.SS.Valid {
		m.X1, m.Y1 = r.SS.X1, r.SS.Y1
		m.X2, m.Y2 = r.SS.X2, r.SS.Y2
	}
	return m
}

// String formats the metadata as a comment line without the trailing newline.
func (m CurveMeta) String() string {
	vt := notAvail
	if m.VtValid {
		vt = fmt.Sprintf("%.3fV", m.Vt)
	}
	ss := notAvail
	if m.SSValid {
		ss = fmt.Sprintf("%.3f mV/dec", m.SS)
	}

	line := fmt.Sprintf("# VDS=%.3fV: Vt=%s, SS=%s, MaxGm=%.2e S", m.Vds, vt, ss, m.MaxGm)
	if m.SSValid {
		line += fmt.Sprintf(", Tangent=(%.3f,%.3f)->(%.3f,%.3f)", m.X1, m.Y1, m.X2, m.Y2)
	}
	return line
}

// Writer streams a measurement file.
type Writer struct {
	w    *bufio.Writer
	rows int
}

// NewWriter wraps w in a buffered measurement file writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteHeader writes the leading comment block and the column header.
func (w *Writer) WriteHeader(h Header) error {
	lines := []string{
		Title,
		"# Date: " + h.Date.Format(dateLayout),
		"# Sweep: " + h.Axis.String(),
		fmt.Sprintf("# Rshunt: %.2f Ohms", h.Rshunt),
		fmt.Sprintf("# VDS Range: %.2f to %.2f V (step %.3f)", h.Vds.Start, h.Vds.End, h.Vds.Step),
		fmt.Sprintf("# VGS Range: %.2f to %.2f V (step %.3f)", h.Vgs.Start, h.Vgs.End, h.Vgs.Step),
		fmt.Sprintf("# Settling Time: %d ms", h.Settling.Milliseconds()),
		Columns,
	}
	for _, line := range lines {
		if err := w.line(line); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	return nil
}

// WriteRow writes one sample row.
func (w *Writer) WriteRow(r Row) error {
	_, err := fmt.Fprintf(w.w, "%d,%.3f,%.3f,%.6f,%.5e\n", r.Timestamp, r.Vds, r.Vgs, r.Vsh, r.Ids)
	if err != nil {
		return fmt.Errorf("failed to write row %d: %w", w.rows, err)
	}
	w.rows++
	return nil
}

// WriteMeta writes a curve metadata comment line.
func (w *Writer) WriteMeta(m CurveMeta) error {
	if err := w.line(m.String()); err != nil {
		return fmt.Errorf("failed to write curve metadata: %w", err)
	}
	return nil
}

// Flush pushes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int {
	return w.rows
}

func (w *Writer) line(s string) error {
	if _, err := w.w.WriteString(s); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

