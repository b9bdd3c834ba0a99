// Package status holds the progress record shared between a sweep worker
// and its readers.
package status

import (
	"fmt"
	"time"
)

// Progress is a point-in-time view of the sweep.
type Progress struct {
	Running      bool    `json:"running"`
	Percent      float64 `json:"progress_percent"`
	AxisVoltage  float64 `json:"current_axis_voltage"`
	Message      string  `json:"message"`
	Error        bool    `json:"error"`
	ErrorMessage string  `json:"error_message"`
	State        string  `json:"state"`
	RunID        string  `json:"run_id,omitempty"`
	Filename     string  `json:"filename,omitempty"`
}

// Tracker guards one Progress record. Only the sweep worker writes it;
// critical sections are plain field assignments.
type Tracker struct {
	sem chan struct{}
	p   Progress
}

// NewTracker returns a tracker in the idle state.
func NewTracker() *Tracker {
	t := &Tracker{sem: make(chan struct{}, 1)}
	t.p = idle()
	return t
}

func idle() Progress {
	return Progress{Message: "Idle", State: "Idle"}
}

func (t *Tracker) lock()   { t.sem <- struct{}{} }
func (t *Tracker) unlock() { <-t.sem }

func (t *Tracker) tryLock(timeout time.Duration) bool {
	select {
	case t.sem <- struct{}{}:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case t.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (t *Tracker) update(fn func(p *Progress)) {
	t.lock()
	fn(&t.p)
	t.unlock()
}

// Snapshot copies the record, waiting at most timeout for the lock.
// It returns false when the status is temporarily unavailable.
func (t *Tracker) Snapshot(timeout time.Duration) (Progress, bool) {
	if !t.tryLock(timeout) {
		return Progress{}, false
	}
	p := t.p
	t.unlock()
	return p, true
}

// Get copies the record, waiting for the lock as long as needed.
func (t *Tracker) Get() Progress {
	t.lock()
	p := t.p
	t.unlock()
	return p
}

// Begin resets the record for a new run.
func (t *Tracker) Begin(runID, filename string) {
	t.update(func(p *Progress) {
		*p = Progress{
			Running:  true,
			Message:  "Starting",
			State:    "Running",
			RunID:    runID,
			Filename: filename,
		}
	})
}

// Advance records progress along the outer axis. Percent never decreases
// within a run and is capped at 100.
func (t *Tracker) Advance(percent float64, axis string, voltage float64) {
	msg := fmt.Sprintf("Measuring %s = %.2fV", axis, voltage)
	t.update(func(p *Progress) {
		if percent > 100 {
			percent = 100
		}
		if percent > p.Percent {
			p.Percent = percent
		}
		p.AxisVoltage = voltage
		p.Message = msg
	})
}

// SetState changes the state name and message, keeping everything else.
func (t *Tracker) SetState(state, message string) {
	t.update(func(p *Progress) {
		p.State = state
		p.Message = message
	})
}

// Complete marks the run as finished.
func (t *Tracker) Complete() {
	t.update(func(p *Progress) {
		p.Running = false
		p.Percent = 100
		p.State = "Completed"
		p.Message = "Completed"
	})
}

// Cancelled marks the run as cancelled and returns the record to idle.
func (t *Tracker) Cancelled() {
	t.update(func(p *Progress) {
		p.Running = false
		p.State = "Idle"
		p.Message = "Cancelled"
		p.Filename = ""
	})
}

// Fail records a runtime error. It stays visible until the next Begin.
func (t *Tracker) Fail(err error) {
	msg := err.Error()
	t.update(func(p *Progress) {
		p.Running = false
		p.Error = true
		p.ErrorMessage = msg
		p.State = "Failed"
		p.Message = "Error: " + msg
	})
}

// Reset returns the record to idle.
func (t *Tracker) Reset() {
	t.update(func(p *Progress) {
		*p = idle()
	})
}
