package sweep

import (
	"fmt"
	"math"
	"time"

	"github.com/itohio/gofet/pkg/config"
	"github.com/itohio/gofet/pkg/sample"
	"github.com/itohio/gofet/pkg/storage"
)

const (
	// DefaultBaseName prefixes output files when none is given.
	DefaultBaseName = "mosfet_data"

	// envelopeSlack absorbs float error at the edges of the safe envelope.
	envelopeSlack = 1e-9
)

// Config holds the immutable parameters of one sweep.
type Config struct {
	Vgs      sample.Range  `json:"vgs"`
	Vds      sample.Range  `json:"vds"`
	Rshunt   float64       `json:"rshunt"`
	Settling time.Duration `json:"settling"`
	BaseName string        `json:"base_name"`
	Axis     sample.Axis   `json:"axis"`
}

// Limits is the safe envelope a Config must fit in.
type Limits struct {
	MinVoltage float64
	MaxVgs     float64
	MaxVds     float64
	MaxPoints  int
}

// LimitsFrom derives limits from the hardware and sweep configuration.
func LimitsFrom(cfg *config.Config) Limits {
	return Limits{
		MinVoltage: cfg.Hardware.MinVoltage,
		MaxVgs:     cfg.Hardware.MaxVgs,
		MaxVds:     cfg.Hardware.MaxVds,
		MaxPoints:  cfg.Sweep.MaxPoints,
	}
}

// ConfigFrom builds the default sweep from the configuration file.
func ConfigFrom(sc config.SweepConfig) (Config, error) {
	axis, err := sample.ParseAxis(sc.Mode)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return Config{
		Vgs:      sample.Range{Start: sc.VgsStart, End: sc.VgsEnd, Step: sc.VgsStep},
		Vds:      sample.Range{Start: sc.VdsStart, End: sc.VdsEnd, Step: sc.VdsStep},
		Rshunt:   sc.Rshunt,
		Settling: sc.Settling,
		BaseName: sc.BaseName,
		Axis:     axis,
	}, nil
}

// Points returns the total number of samples the sweep takes.
func (c Config) Points() int {
	return c.Vgs.Count() * c.Vds.Count()
}

// Outer returns the range held fixed per curve.
func (c Config) Outer() sample.Range {
	if c.Axis == sample.DrainSweep {
		return c.Vgs
	}
	return c.Vds
}

// Inner returns the range swept within each curve.
func (c Config) Inner() sample.Range {
	if c.Axis == sample.DrainSweep {
		return c.Vds
	}
	return c.Vgs
}

// OuterLabel names the outer voltage for progress messages.
func (c Config) OuterLabel() string {
	if c.Axis == sample.DrainSweep {
		return "VGS"
	}
	return "VDS"
}

// Validate checks the config against the safe envelope. Every error wraps
// ErrInvalidConfig.
func (c Config) Validate(l Limits) error {
	if err := validateRange("VGS", c.Vgs, l.MinVoltage, l.MaxVgs); err != nil {
		return err
	}
	if err := validateRange("VDS", c.Vds, l.MinVoltage, l.MaxVds); err != nil {
		return err
	}

	if !(c.Rshunt > 0) || math.IsInf(c.Rshunt, 0) {
		return fmt.Errorf("%w: shunt resistance must be positive, got %v", ErrInvalidConfig, c.Rshunt)
	}
	if c.Settling < 0 {
		return fmt.Errorf("%w: negative settling time", ErrInvalidConfig)
	}
	if c.Axis != sample.GateSweep && c.Axis != sample.DrainSweep {
		return fmt.Errorf("%w: unknown sweep axis %v", ErrInvalidConfig, c.Axis)
	}
	if l.MaxPoints > 0 && c.Points() > l.MaxPoints {
		return fmt.Errorf("%w: %d points exceed the limit of %d", ErrInvalidConfig, c.Points(), l.MaxPoints)
	}
	if !storage.IsValidName(fileName(c.BaseName, math.MaxInt32)) {
		return fmt.Errorf("%w: invalid base name %q", ErrInvalidConfig, c.BaseName)
	}

	return nil
}

func validateRange(name string, r sample.Range, lo, hi float64) error {
	if !(r.Step > 0) {
		return fmt.Errorf("%w: %s step must be positive", ErrInvalidConfig, name)
	}
	if r.End < r.Start {
		return fmt.Errorf("%w: %s range end %.3f below start %.3f", ErrInvalidConfig, name, r.End, r.Start)
	}
	if r.Count() <= 0 {
		return fmt.Errorf("%w: %s range is empty or its step is too fine", ErrInvalidConfig, name)
	}
	if r.Start < lo-envelopeSlack || r.End > hi+envelopeSlack {
		return fmt.Errorf("%w: %s range %.3f..%.3f V outside %.3f..%.3f V", ErrInvalidConfig, name, r.Start, r.End, lo, hi)
	}
	return nil
}

func fileName(base string, ts int64) string {
	return fmt.Sprintf("%s_%d%s", base, ts, storage.Extension)
}
