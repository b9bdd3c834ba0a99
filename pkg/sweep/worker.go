package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/itohio/gofet/pkg/hal"
	"github.com/itohio/gofet/pkg/sample"
)

// run is the state of one sweep invocation, owned by its worker.
type run struct {
	id     string
	name   string
	cfg    Config
	done   chan struct{}
	cancel context.CancelFunc
	start  time.Time

	created bool // Output file exists
	rows    int
}

// elapsedMs returns the sample timestamp relative to the sweep start.
func (c *Controller) elapsedMs(r *run) uint64 {
	d := c.opts.Now().Sub(r.start)
	if d < 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}

func (c *Controller) run(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()

	c.obs.SweepStarted(r.id, r.cfg)
	err := c.execute(ctx, r)

	// Outputs return to 0 V however the sweep ended
	if serr := c.dev.Shutdown(); serr != nil {
		c.log.Errorf("Failed to zero outputs after sweep %s: %v", r.id, serr)
	}

	elapsed := c.opts.Now().Sub(r.start)

	switch {
	case err == nil:
		c.status.Complete()
		c.state.Store(int32(Completed))
		c.log.Infof("Sweep %s completed: %d rows in %v, saved as %s", r.id, r.rows, elapsed, r.name)
		c.obs.SweepFinished(r.id, OutcomeCompleted, elapsed)

	case errors.Is(err, errCancelled):
		c.status.SetState(Cancelling.String(), "Cancelling...")
		if r.created && !c.store.Delete(r.name) {
			c.log.Warnf("Failed to delete cancelled sweep file %s", r.name)
		}
		c.status.Cancelled()
		c.state.Store(int32(Idle))
		c.log.Infof("Sweep %s cancelled after %d rows", r.id, r.rows)
		c.obs.SweepFinished(r.id, OutcomeCancelled, elapsed)

	default:
		c.status.Fail(err)
		c.state.Store(int32(Failed))
		c.log.Errorf("Sweep %s failed: %v", r.id, err)
		c.obs.SweepFinished(r.id, OutcomeFailed, elapsed)
	}
}

// execute performs the sweep. It returns errCancelled when cancellation was
// observed between samples.
func (c *Controller) execute(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sweep panicked: %v", p)
		}
	}()

	if !c.dev.IsConnected() {
		if err := c.dev.Connect(); err != nil {
			return fmt.Errorf("failed to connect front-end: %w", err)
		}
	}

	f, err := c.store.Create(r.name)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	r.created = true
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()

	w := sample.NewWriter(f)
	err = w.WriteHeader(sample.Header{
		Date:     r.start,
		Axis:     r.cfg.Axis,
		Rshunt:   r.cfg.Rshunt,
		Vds:      r.cfg.Vds,
		Vgs:      r.cfg.Vgs,
		Settling: r.cfg.Settling,
	})
	if err != nil {
		return err
	}

	outer, inner := r.cfg.Outer(), r.cfg.Inner()
	outerSrc, innerSrc := c.dev.Drain(), c.dev.Gate()
	if r.cfg.Axis == sample.DrainSweep {
		outerSrc, innerSrc = innerSrc, outerSrc
	}
	total := r.cfg.Points()

	for i := 0; i < outer.Count(); i++ {
		if ctx.Err() != nil {
			return errCancelled
		}

		if err := outerSrc.SetVoltage(outer.At(i)); err != nil {
			return fmt.Errorf("failed to set %s: %w", r.cfg.OuterLabel(), err)
		}
		vOuter := outerSrc.Voltage()
		c.status.Advance(percent(r.rows, total), r.cfg.OuterLabel(), vOuter)
		c.log.Debugf("Curve %d/%d at %s = %.3fV", i+1, outer.Count(), r.cfg.OuterLabel(), vOuter)

		curve := sample.NewCurveBuffer(r.cfg.Axis, vOuter, inner.Count())

		for j := 0; j < inner.Count(); j++ {
			if ctx.Err() != nil {
				return errCancelled
			}

			row, err := c.measure(ctx, r, innerSrc, inner.At(j), vOuter)
			if err != nil {
				return err
			}

			if err := w.WriteRow(row); err != nil {
				return err
			}
			curve.Add(row)
			r.rows++
			c.obs.RowWritten()

			if r.rows%c.opts.FlushEvery == 0 {
				if err := w.Flush(); err != nil {
					return err
				}
			}
			if r.rows%c.opts.YieldEvery == 0 {
				runtime.Gosched()
			}
			c.status.Advance(percent(r.rows, total), r.cfg.OuterLabel(), vOuter)
		}

		if r.cfg.Axis == sample.GateSweep {
			meta := curve.Meta()
			if err := w.WriteMeta(meta); err != nil {
				return err
			}
			c.obs.CurveAnalyzed(meta)
			c.log.Infof("%s", meta.String()[2:])
		}
	}

	return w.Flush()
}

// measure applies the inner voltage, waits for settling and samples the
// shunt. Cancellation during settling aborts before the read.
func (c *Controller) measure(ctx context.Context, r *run, src hal.VoltageSource, v, vOuter float64) (sample.Row, error) {
	if err := src.SetVoltage(v); err != nil {
		return sample.Row{}, fmt.Errorf("failed to set voltage: %w", err)
	}

	if err := settle(ctx, r.cfg.Settling); err != nil {
		return sample.Row{}, errCancelled
	}

	vsh, err := c.dev.Sense().ReadVoltage()
	if err != nil {
		return sample.Row{}, fmt.Errorf("failed to read sense voltage: %w", err)
	}

	vInner := src.Voltage()
	vds, vgs := vOuter, vInner
	if r.cfg.Axis == sample.DrainSweep {
		vds, vgs = vInner, vOuter
	}
	return sample.NewRow(c.elapsedMs(r), vds, vgs, vsh, r.cfg.Rshunt), nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) * 100 / float64(total)
}
