//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	adcs [len(sensorPins)]machine.ADC
	uart = machine.UART0

	indicatorPins = [4]machine.Pin{PIN_LED_SAFE, PIN_LED_WARNING, PIN_LED_DANGER, PIN_BUZZER}

	// Running sums per channel, reset after NUM_SAMPLES
	sums  [len(sensorPins)]uint32
	count int

	lastADCRead time.Time

	// Serial buffer for the four-digit indicator command
	serialBuffer [4]byte
	serialPos    int
)

func main() {
	for _, pin := range indicatorPins {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}

	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	for i, pin := range sensorPins {
		pin.Configure(machine.PinConfig{Mode: machine.PinInput})
		adcs[i] = machine.ADC{Pin: pin}
		adcs[i].Configure(adcConfig)
	}

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	selfTest()
	warmup()

	lastADCRead = time.Now()
	for {
		now := time.Now()

		processSerial()

		if now.Sub(lastADCRead) >= time.Duration(SAMPLE_INTERVAL_MS)*time.Millisecond {
			readChannels()
			lastADCRead = now
		}

		if count >= NUM_SAMPLES {
			outputAveragedValues()
			sums = [len(sensorPins)]uint32{}
			count = 0
		}

		time.Sleep(100 * time.Microsecond)
	}
}

// selfTest lights each indicator in turn.
func selfTest() {
	for _, pin := range indicatorPins {
		pin.High()
		time.Sleep(200 * time.Millisecond)
		pin.Low()
	}
	setIndicators([4]bool{true, false, false, false})
}

// warmup lets the sensor heaters settle before streaming. Indicator commands
// are still honoured.
func warmup() {
	start := time.Now()
	for time.Since(start) < WARMUP_MS*time.Millisecond {
		processSerial()
		time.Sleep(10 * time.Millisecond)
	}
}

func readChannels() {
	for i := range adcs {
		// Get returns a left-aligned 16-bit value
		sums[i] += uint32(adcs[i].Get() >> (16 - ADC_RESOLUTION))
	}
	count++
}

func outputAveragedValues() {
	n := uint32(count)
	if n == 0 {
		n = 1
	}

	// Output format: "unix_micros,raw0,raw1\n"
	// Example: "1234567890123456,2048,1980\n"
	print(time.Now().UnixNano() / 1000)
	for i := range sums {
		print(",")
		print(sums[i] / n)
	}
	print("\n")
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos == len(serialBuffer) {
				updateIndicators()
			}
			serialPos = 0
			continue
		}

		if data == ' ' || data == '\t' {
			continue
		}

		// Only '0' or '1', at most four of them
		if data == '0' || data == '1' {
			if serialPos < len(serialBuffer) {
				serialBuffer[serialPos] = data
				serialPos++
			}
		} else {
			serialPos = 0
		}
	}
}

// updateIndicators applies a "SWDB" command: safe, warning, danger, buzzer.
func updateIndicators() {
	var states [4]bool
	for i := range states {
		states[i] = serialBuffer[i] == '1'
	}
	setIndicators(states)
}

func setIndicators(states [4]bool) {
	for i, on := range states {
		if on {
			indicatorPins[i].High()
		} else {
			indicatorPins[i].Low()
		}
	}
}
