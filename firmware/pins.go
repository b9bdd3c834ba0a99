//go:build tinygo

package main

import "machine"

const (
	// DAC configuration, codes as sent by the host
	DAC_BITS = 8

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)
	MAX_OVERSAMPLING = 4096 // Largest R request, keeps the 32-bit sum in range

	// Drain is driven by the on-chip DAC, gate by filtered PWM
	PIN_DRAIN_DAC = machine.A0
	PIN_GATE_PWM  = machine.D7

	// Shunt sense input
	PIN_SENSE_ADC = machine.A1

	// Gate PWM carrier, well above the RC filter corner
	GATE_PWM_PERIOD_NS = 1e9 / 100000

	// Serial configuration
	// Longest answer is "A 16773120 4096\n" (17 bytes), one per command
	UART_BAUD_RATE = 115200
	LINE_MAX       = 24
)
