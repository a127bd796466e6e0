//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 5  // ADC read interval in milliseconds (all channels)
	NUM_SAMPLES        = 20 // Samples averaged per output line
	WARMUP_MS          = 30000

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Indicator pins
	PIN_LED_SAFE    = machine.D7
	PIN_LED_WARNING = machine.D8
	PIN_LED_DANGER  = machine.D9
	PIN_BUZZER      = machine.D10

	// Serial configuration
	// Line format: "unix_micros,raw0,raw1\n", ~28 bytes at 10 lines/sec.
	// 115200 baud leaves ample headroom for up to MaxSensors channels.
	UART_BAUD_RATE = 115200
)

// Sensor channels in host channel order. The host config indexes into this.
var sensorPins = [...]machine.Pin{machine.A1, machine.A2}
