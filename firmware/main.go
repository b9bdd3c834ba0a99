//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"strconv"
	"time"
)

var (
	dac      = machine.DAC0
	gatePWM  = machine.TCC0
	gateCh   uint8
	adcSense machine.ADC
	uart     = machine.UART0

	// Serial buffer for reading lines
	lineBuffer [LINE_MAX]byte
	linePos    int
	overflow   bool
)

func main() {
	PIN_DRAIN_DAC.Configure(machine.PinConfig{Mode: machine.PinAnalog})
	dac.Configure(machine.DACConfig{})

	if err := gatePWM.Configure(machine.PWMConfig{Period: GATE_PWM_PERIOD_NS}); err != nil {
		halt("pwm configure")
	}
	ch, err := gatePWM.Channel(PIN_GATE_PWM)
	if err != nil {
		halt("pwm channel")
	}
	gateCh = ch

	PIN_SENSE_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	adcSense = machine.ADC{Pin: PIN_SENSE_ADC}
	adcSense.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	// Outputs start at 0 V until the host says otherwise
	zeroOutputs()

	for {
		processSerial()
		time.Sleep(50 * time.Microsecond)
	}
}

func halt(reason string) {
	for {
		println("fatal:", reason)
		time.Sleep(time.Second)
	}
}

func setDrain(code uint32) {
	// DAC0.Set takes a left aligned 16-bit value
	dac.Set(uint16(code << (16 - DAC_BITS)))
}

func setGate(code uint32) {
	top := gatePWM.Top()
	gatePWM.Set(gateCh, uint32(uint64(top)*uint64(code)/(1<<DAC_BITS-1)))
}

func zeroOutputs() {
	setDrain(0)
	setGate(0)
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if linePos > 0 && !overflow {
				handleLine(lineBuffer[:linePos])
			} else if overflow {
				reply("ERR line too long")
			}
			linePos = 0
			overflow = false
			continue
		}

		if linePos < LINE_MAX {
			lineBuffer[linePos] = data
			linePos++
		} else {
			overflow = true
		}
	}
}

func handleLine(line []byte) {
	cmd := line[0]
	arg := trim(line[1:])

	switch cmd {
	case 'Z':
		zeroOutputs()
		reply("OK")

	case 'D', 'G':
		code, err := strconv.ParseUint(string(arg), 10, 32)
		if err != nil || code >= 1<<DAC_BITS {
			reply("ERR bad code")
			return
		}
		if cmd == 'D' {
			setDrain(uint32(code))
		} else {
			setGate(uint32(code))
		}
		reply("OK")

	case 'R':
		n, err := strconv.Atoi(string(arg))
		if err != nil || n < 1 || n > MAX_OVERSAMPLING {
			reply("ERR bad count")
			return
		}
		var sum uint32
		for range n {
			// Get returns a left aligned 16-bit sample
			sum += uint32(adcSense.Get() >> (16 - ADC_RESOLUTION))
		}
		reply("A " + strconv.FormatUint(uint64(sum), 10) + " " + strconv.Itoa(n))

	default:
		reply("ERR unknown command")
	}
}

func trim(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func reply(s string) {
	uart.Write([]byte(s))
	uart.Write([]byte("\n"))
}
