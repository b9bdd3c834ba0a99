package hal

// VoltageSource is a programmable voltage output (a DAC channel).
type VoltageSource interface {
	// SetVoltage applies v, clamped to the output range.
	SetVoltage(v float64) error
	// Voltage returns the last applied voltage after quantization.
	Voltage() float64
	MaxVoltage() float64
	// Resolution is the size of one output step in volts.
	Resolution() float64
	Bits() uint8
}

// CurrentSensor is the sense voltage input across the shunt resistor.
type CurrentSensor interface {
	// ReadVoltage returns the oversampled average sense voltage.
	ReadVoltage() (float64, error)
	// ReadRaw returns a single ADC code.
	ReadRaw() (uint16, error)
	Resolution() float64
	Oversampling() int
	SetOversampling(n int)
	// EffectiveBits is the resolution gained by oversampling.
	EffectiveBits() float64
}

// Device is a characterization front-end: two voltage outputs and one
// sense input.
type Device interface {
	Connect() error
	Close() error
	IsConnected() bool

	Drain() VoltageSource
	Gate() VoltageSource
	Sense() CurrentSensor

	// Shutdown drives both outputs to 0 V.
	Shutdown() error
}

// Channel identifies one of the two voltage outputs.
type Channel int

const (
	ChannelDrain Channel = iota
	ChannelGate
)

func (c Channel) String() string {
	if c == ChannelGate {
		return "gate"
	}
	return "drain"
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Sim implements Device.
var _ Device = (*Sim)(nil)
