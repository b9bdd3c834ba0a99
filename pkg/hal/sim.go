package hal

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/itohio/gofet/pkg/config"
)

// thermalVoltage is kT/q at room temperature.
const thermalVoltage = 0.02585

// CurrentFunc returns the drain current for the applied voltages.
type CurrentFunc func(vgs, vds float64) float64

// SetPoint is one voltage applied to the simulated outputs.
type SetPoint struct {
	Channel Channel
	Voltage float64
}

// Sim is a deterministic simulated front-end. The sense voltage is the
// modeled drain current times the shunt resistance.
type Sim struct {
	current  CurrentFunc
	rshunt   float64
	noise    float64
	quantize bool

	dac Converter
	adc Converter

	mu           sync.Mutex
	connected    bool
	vgs, vds     float64
	maxVgs       float64
	maxVds       float64
	oversampling int
	rng          *rand.Rand
	history      []SetPoint
	shutdowns    int
	reads        int
	failAfter    int // Reads before readErr is returned, -1 = never
	readErr      error
	setErr       error

	drain *simSource
	gate  *simSource
	sense *simSensor
}

// NewSim creates a simulator using a square-law MOSFET model with an
// exponential subthreshold region.
func NewSim(sc config.SimConfig, hw config.HardwareConfig) *Sim {
	s := newSim(MOSFETModel(sc), sc.Rshunt, hw)
	s.noise = sc.NoiseLevel
	s.quantize = sc.Quantize
	s.rng = rand.New(rand.NewPCG(sc.Seed, sc.Seed^0x9e3779b97f4a7c15))
	return s
}

// NewSimFunc creates a noiseless, unquantized simulator around fn.
func NewSimFunc(rshunt float64, fn CurrentFunc) *Sim {
	return newSim(fn, rshunt, config.Default().Hardware)
}

func newSim(fn CurrentFunc, rshunt float64, hw config.HardwareConfig) *Sim {
	if rshunt <= 0 {
		rshunt = 100
	}
	s := &Sim{
		current:      fn,
		rshunt:       rshunt,
		dac:          NewConverter(hw.DACBits, hw.DACVRef),
		adc:          NewConverter(hw.ADCBits, hw.ADCVRef),
		maxVgs:       hw.MaxVgs,
		maxVds:       hw.MaxVds,
		oversampling: clampOversampling(hw.Oversampling),
		rng:          rand.New(rand.NewPCG(1, 2)),
		failAfter:    -1,
	}
	s.drain = &simSource{sim: s, ch: ChannelDrain}
	s.gate = &simSource{sim: s, ch: ChannelGate}
	s.sense = &simSensor{sim: s}
	return s
}

// MOSFETModel returns an n-channel drain current model.
//
// Below threshold the current grows by one decade per SlopeV*ln(10) volts.
// Above it the square law applies with channel length modulation, in the
// linear region while Vds < Vgs-Vth. The drain factor 1-exp(-Vds/kT)
// makes the current vanish at Vds = 0.
func MOSFETModel(sc config.SimConfig) CurrentFunc {
	return func(vgs, vds float64) float64 {
		if vds <= 0 {
			return 0
		}
		drainFactor := 1 - math.Exp(-vds/thermalVoltage)

		vov := vgs - sc.Vth
		if vov <= 0 {
			return sc.I0 * math.Exp(vov/sc.SlopeV) * drainFactor
		}

		clm := 1 + sc.Lambda*vds
		if vds < vov {
			return sc.I0 + sc.K*(vov*vds-vds*vds/2)*clm
		}
		return sc.I0 + sc.K/2*vov*vov*clm
	}
}

// Connect simulates connecting to the device.
func (s *Sim) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}
	s.connected = true
	return nil
}

// Close stops the simulated device and zeroes its outputs.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.vgs, s.vds = 0, 0
	s.connected = false
	return nil
}

// IsConnected returns whether the device is currently connected.
func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) Drain() VoltageSource { return s.drain }
func (s *Sim) Gate() VoltageSource  { return s.gate }
func (s *Sim) Sense() CurrentSensor { return s.sense }

// Shutdown drives both outputs to 0 V. It works even when disconnected.
func (s *Sim) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vgs, s.vds = 0, 0
	s.shutdowns++
	return nil
}

// FailReads makes every sense read after the first n return err.
func (s *Sim) FailReads(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.readErr = err
}

// FailSets makes every output update return err until cleared with nil.
func (s *Sim) FailSets(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

// Outputs returns the voltages currently applied.
func (s *Sim) Outputs() (vgs, vds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vgs, s.vds
}

// History returns every voltage applied since creation.
func (s *Sim) History() []SetPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SetPoint, len(s.history))
	copy(out, s.history)
	return out
}

// Shutdowns returns how many times the outputs were zeroed.
func (s *Sim) Shutdowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdowns
}

// Reads returns the number of sense reads served.
func (s *Sim) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Sim) set(ch Channel, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("not connected")
	}
	if s.setErr != nil {
		return s.setErr
	}

	v = clampVoltage(v, s.maxFor(ch))
	if s.quantize {
		v = s.dac.Quantize(v)
	}

	if ch == ChannelGate {
		s.vgs = v
	} else {
		s.vds = v
	}
	s.history = append(s.history, SetPoint{Channel: ch, Voltage: v})
	return nil
}

func (s *Sim) maxFor(ch Channel) float64 {
	limit := s.maxVds
	if ch == ChannelGate {
		limit = s.maxVgs
	}
	if limit <= 0 {
		return float64(s.dac.VRef)
	}
	return limit
}

// senseVoltage models one conversion. Callers hold mu.
func (s *Sim) senseVoltage() float64 {
	v := s.current(s.vgs, s.vds) * s.rshunt
	if s.noise > 0 {
		v += (s.rng.Float64()*2 - 1) * s.noise
	}
	return v
}

func (s *Sim) read(n int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return 0, fmt.Errorf("not connected")
	}
	if s.failAfter >= 0 && s.reads >= s.failAfter {
		return 0, s.readErr
	}
	s.reads++

	if !s.quantize {
		var sum float64
		for i := 0; i < n; i++ {
			sum += s.senseVoltage()
		}
		return sum / float64(n), nil
	}

	var sum uint64
	for i := 0; i < n; i++ {
		sum += uint64(s.adc.Code(s.senseVoltage()))
	}
	return s.adc.Average(sum, n), nil
}

type simSource struct {
	sim *Sim
	ch  Channel
}

func (s *simSource) SetVoltage(v float64) error { return s.sim.set(s.ch, v) }

func (s *simSource) Voltage() float64 {
	vgs, vds := s.sim.Outputs()
	if s.ch == ChannelGate {
		return vgs
	}
	return vds
}

func (s *simSource) MaxVoltage() float64 {
	s.sim.mu.Lock()
	defer s.sim.mu.Unlock()
	return s.sim.maxFor(s.ch)
}

func (s *simSource) Resolution() float64 { return s.sim.dac.LSB() }
func (s *simSource) Bits() uint8         { return s.sim.dac.Bits }

type simSensor struct {
	sim *Sim
}

func (s *simSensor) ReadVoltage() (float64, error) {
	return s.sim.read(s.Oversampling())
}

func (s *simSensor) ReadRaw() (uint16, error) {
	v, err := s.sim.read(1)
	if err != nil {
		return 0, err
	}
	return uint16(s.sim.adc.Code(v)), nil
}

func (s *simSensor) Resolution() float64 { return s.sim.adc.LSB() }

func (s *simSensor) Oversampling() int {
	s.sim.mu.Lock()
	defer s.sim.mu.Unlock()
	return s.sim.oversampling
}

func (s *simSensor) SetOversampling(n int) {
	s.sim.mu.Lock()
	defer s.sim.mu.Unlock()
	s.sim.oversampling = clampOversampling(n)
}

func (s *simSensor) EffectiveBits() float64 {
	return s.sim.adc.EffectiveBits(s.Oversampling())
}
