package hal

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/gofet/pkg/config"
)

const (
	// DefaultBaudRate is the front-end board link speed.
	DefaultBaudRate = 115200
	// DefaultTimeout bounds the wait for one command response.
	DefaultTimeout = 500 * time.Millisecond

	// maxOversampling caps R requests so the 32-bit board sum cannot overflow.
	maxOversampling = 4096
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Opener opens the link to the board.
type Opener func(name string, baudRate int, timeout time.Duration) (io.ReadWriteCloser, error)

// Serial drives the DAC/ADC front-end board over its line protocol:
//
//	D <code>   set drain DAC       -> OK
//	G <code>   set gate DAC        -> OK
//	R <n>      read sense ADC n x  -> A <sum> <n>
//	Z          all outputs to 0 V  -> OK
//
// Any command may be answered with ERR <text>.
type Serial struct {
	port     string
	baudRate int
	timeout  time.Duration
	open     Opener

	dac          Converter
	adc          Converter
	oversampling int

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	reader    *bufio.Reader
	connected bool

	drain *serialSource
	gate  *serialSource
	sense *serialSensor
}

// NewSerial creates a driver for the board on the configured port.
func NewSerial(sc config.SerialConfig, hw config.HardwareConfig) *Serial {
	baudRate := sc.BaudRate
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	timeout := sc.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	d := &Serial{
		port:         sc.Port,
		baudRate:     baudRate,
		timeout:      timeout,
		open:         openSerial,
		dac:          NewConverter(hw.DACBits, hw.DACVRef),
		adc:          NewConverter(hw.ADCBits, hw.ADCVRef),
		oversampling: clampOversampling(hw.Oversampling),
	}
	d.drain = &serialSource{dev: d, cmd: 'D', max: hw.MaxVds}
	d.gate = &serialSource{dev: d, cmd: 'G', max: hw.MaxVgs}
	d.sense = &serialSensor{dev: d}
	return d
}

// WithOpener replaces the function used to open the link.
func (d *Serial) WithOpener(open Opener) *Serial {
	d.open = open
	return d
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

func openSerial(name string, baudRate int, timeout time.Duration) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// Connect opens the port and zeroes both outputs.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	conn, err := d.open(d.port, d.baudRate, d.timeout)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = conn
	d.reader = bufio.NewReader(conn)
	d.connected = true

	if _, err := d.command("Z"); err != nil {
		d.closeLocked()
		return fmt.Errorf("board did not answer: %w", err)
	}
	d.drain.applied = 0
	d.gate.applied = 0

	return nil
}

// Close zeroes the outputs and closes the port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	if _, err := d.command("Z"); err != nil {
		log.Printf("Failed to zero outputs on close: %v", err)
	}
	d.closeLocked()

	return nil
}

func (d *Serial) closeLocked() {
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}
	d.reader = nil
	d.connected = false
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Serial) Drain() VoltageSource { return d.drain }
func (d *Serial) Gate() VoltageSource  { return d.gate }
func (d *Serial) Sense() CurrentSensor { return d.sense }

// Shutdown drives both outputs to 0 V.
func (d *Serial) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}
	if _, err := d.command("Z"); err != nil {
		return fmt.Errorf("failed to zero outputs: %w", err)
	}
	d.drain.applied = 0
	d.gate.applied = 0
	return nil
}

// command sends one line and returns the board's answer. Callers hold mu.
func (d *Serial) command(cmd string) (string, error) {
	if !d.connected {
		return "", fmt.Errorf("not connected")
	}

	if _, err := io.WriteString(d.conn, cmd+"\n"); err != nil {
		return "", fmt.Errorf("failed to send %q: %w", cmd, err)
	}

	line, err := d.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("no response to %q: %w", cmd, err)
	}

	resp := strings.TrimSpace(line)
	if text, ok := strings.CutPrefix(resp, "ERR"); ok {
		return "", fmt.Errorf("board rejected %q: %s", cmd, strings.TrimSpace(text))
	}
	return resp, nil
}

// parseAverage parses an "A <sum> <n>" response.
func parseAverage(resp string) (sum uint64, n int, err error) {
	parts := strings.Fields(resp)
	if len(parts) != 3 || parts[0] != "A" {
		return 0, 0, fmt.Errorf("invalid response format: %q", resp)
	}

	sum, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sum: %w", err)
	}
	n, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid count: %w", err)
	}
	if n <= 0 {
		return 0, 0, fmt.Errorf("invalid count: %d", n)
	}

	return sum, n, nil
}

func clampOversampling(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxOversampling {
		return maxOversampling
	}
	return n
}

type serialSource struct {
	dev     *Serial
	cmd     byte
	max     float64
	applied float64
}

func (s *serialSource) SetVoltage(v float64) error {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	v = clampVoltage(v, s.MaxVoltage())
	code := d.dac.Code(v)

	resp, err := d.command(fmt.Sprintf("%c %d", s.cmd, code))
	if err != nil {
		return err
	}
	if resp != "OK" {
		return fmt.Errorf("unexpected response %q", resp)
	}

	s.applied = d.dac.Voltage(code)
	return nil
}

func (s *serialSource) Voltage() float64 {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.applied
}

func (s *serialSource) MaxVoltage() float64 {
	if s.max > 0 && s.max < float64(s.dev.dac.VRef) {
		return s.max
	}
	return float64(s.dev.dac.VRef)
}

func (s *serialSource) Resolution() float64 { return s.dev.dac.LSB() }
func (s *serialSource) Bits() uint8         { return s.dev.dac.Bits }

type serialSensor struct {
	dev *Serial
}

func (s *serialSensor) read(n int) (uint64, int, error) {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, err := d.command("R " + strconv.Itoa(n))
	if err != nil {
		return 0, 0, err
	}
	return parseAverage(resp)
}

func (s *serialSensor) ReadVoltage() (float64, error) {
	sum, n, err := s.read(s.Oversampling())
	if err != nil {
		return 0, fmt.Errorf("failed to read sense voltage: %w", err)
	}
	return s.dev.adc.Average(sum, n), nil
}

func (s *serialSensor) ReadRaw() (uint16, error) {
	sum, n, err := s.read(1)
	if err != nil {
		return 0, fmt.Errorf("failed to read sense ADC: %w", err)
	}
	return uint16(sum / uint64(n)), nil
}

func (s *serialSensor) Resolution() float64 { return s.dev.adc.LSB() }

func (s *serialSensor) Oversampling() int {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.dev.oversampling
}

func (s *serialSensor) SetOversampling(n int) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.oversampling = clampOversampling(n)
}

func (s *serialSensor) EffectiveBits() float64 {
	return s.dev.adc.EffectiveBits(s.Oversampling())
}

func clampVoltage(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
