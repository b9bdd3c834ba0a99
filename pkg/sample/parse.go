package sample

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Data is the content of a parsed measurement file.
type Data struct {
	Header    Header
	HasHeader bool // Sweep axis line was present
	Rows      []Row
	Meta      []CurveMeta
}

var (
	metaRe = regexp.MustCompile(`^# VDS=([-+0-9.eE]+)V: Vt=(?:n/a|([-+0-9.eE]+)V), SS=(?:n/a|([-+0-9.eE]+) mV/dec), MaxGm=([-+0-9.eE]+|NaN|[+-]Inf) S(?:, Tangent=\(([-+0-9.eE]+),([-+0-9.eE]+)\)->\(([-+0-9.eE]+),([-+0-9.eE]+)\))?$`)
	rangeRe = regexp.MustCompile(`^# (VDS|VGS) Range: ([-+0-9.]+) to ([-+0-9.]+) V \(step ([-+0-9.]+)\)$`)
)

// Parse reads a measurement file. Comment lines are optional metadata:
// unknown ones are skipped and files without curve metadata are accepted.
// Malformed data rows are reported with their line number.
func Parse(r io.Reader) (*Data, error) {
	data := &Data{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == Columns {
			continue
		}

		if strings.HasPrefix(line, "#") {
			parseComment(data, line)
			continue
		}

		row, err := parseRow(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		data.Rows = append(data.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read measurement file: %w", err)
	}

	return data, nil
}

func parseComment(data *Data, line string) {
	if m := metaRe.FindStringSubmatch(line); m != nil {
		if meta, ok := parseMeta(m); ok {
			data.Meta = append(data.Meta, meta)
		}
		return
	}

	if m := rangeRe.FindStringSubmatch(line); m != nil {
		rng, err := parseRange(m[2:])
		if err != nil {
			return
		}
		if m[1] == "VDS" {
			data.Header.Vds = rng
		} else {
			data.Header.Vgs = rng
		}
		return
	}

	key, value, ok := strings.Cut(strings.TrimPrefix(line, "#"), ":")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)

	switch strings.TrimSpace(key) {
	case "Date":
		if t, err := time.ParseInLocation(dateLayout, value, time.Local); err == nil {
			data.Header.Date = t
		}
	case "Sweep":
		if axis, err := ParseAxis(value); err == nil {
			data.Header.Axis = axis
			data.HasHeader = true
		}
	case "Rshunt":
		if v, err := strconv.ParseFloat(strings.TrimSuffix(value, " Ohms"), 64); err == nil {
			data.Header.Rshunt = v
		}
	case "Settling Time":
		if v, err := strconv.Atoi(strings.TrimSuffix(value, " ms")); err == nil {
			data.Header.Settling = time.Duration(v) * time.Millisecond
		}
	}
}

func parseMeta(m []string) (CurveMeta, bool) {
	var meta CurveMeta
	var err error

	if meta.Vds, err = strconv.ParseFloat(m[1], 64); err != nil {
		return meta, false
	}
	if m[2] != "" {
		if meta.Vt, err = strconv.ParseFloat(m[2], 64); err != nil {
			return meta, false
		}
		meta.VtValid = true
	}
	if m[3] != "" {
		if meta.SS, err = strconv.ParseFloat(m[3], 64); err != nil {
			return meta, false
		}
		meta.SSValid = true
	}
	if meta.MaxGm, err = strconv.ParseFloat(m[4], 64); err != nil {
		return meta, false
	}
	if m[5] != "" {
		coords := [4]*float64{&meta.X1, &meta.Y1, &meta.X2, &meta.Y2}
		for i, dst := range coords {
			if *dst, err = strconv.ParseFloat(m[5+i], 64); err != nil {
				return meta, false
			}
		}
	}

	return meta, true
}

func parseRange(fields []string) (Range, error) {
	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Range{}, err
		}
		vals[i] = v
	}
	return Range{Start: vals[0], End: vals[1], Step: vals[2]}, nil
}

func parseRow(line string) (Row, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 5 {
		return Row{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	ts, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	var vals [4]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
		if err != nil {
			return Row{}, fmt.Errorf("invalid field %d: %w", i+2, err)
		}
	}

	return Row{Timestamp: ts, Vds: vals[0], Vgs: vals[1], Vsh: vals[2], Ids: vals[3]}, nil
}

// Curves groups parsed rows into curves by their outer voltage, in file order.
// Outer voltages are compared at the 3 decimals they are written with.
func (d *Data) Curves() []*CurveBuffer {
	var curves []*CurveBuffer
	var current *CurveBuffer
	var key string

	for _, r := range d.Rows {
		k := strconv.FormatFloat(r.Outer(d.Header.Axis), 'f', 3, 64)
		if current == nil || k != key {
			current = NewCurveBuffer(d.Header.Axis, r.Outer(d.Header.Axis), 0)
			curves = append(curves, current)
			key = k
		}
		current.Add(r)
	}

	return curves
}
