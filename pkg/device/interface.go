// Package device talks to the sensor front end: it samples the analog channels
// and drives the hazard indicators (safe/warning/danger lamps and the buzzer).
package device

import "fmt"

// Device defines the interface for sensor front ends (real or mocked).
type Device interface {
	Connect() error
	Close() error
	IsConnected() bool
	// ReadRaw returns the latest ADC count of channel.
	ReadRaw(channel int) (int, error)
	// SetIndicators drives the three lamps and the buzzer.
	SetIndicators(safe, warning, danger, buzzer bool) error
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)

// Channel binds one analog channel of a Device so it can be handed to a
// single sensor as its raw sample source.
type Channel struct {
	dev     Device
	channel int
}

// NewChannel returns the source for channel of dev.
func NewChannel(dev Device, channel int) *Channel {
	return &Channel{dev: dev, channel: channel}
}

// ReadRaw samples the bound channel.
func (c *Channel) ReadRaw() (int, error) {
	raw, err := c.dev.ReadRaw(c.channel)
	if err != nil {
		return 0, fmt.Errorf("channel %d: %w", c.channel, err)
	}
	return raw, nil
}

// Number returns the bound channel index.
func (c *Channel) Number() int {
	return c.channel
}

// indicatorCommand encodes indicator states as the four-digit line the
// firmware expects: safe, warning, danger, buzzer. Example: "1000\n".
func indicatorCommand(safe, warning, danger, buzzer bool) []byte {
	cmd := make([]byte, 0, 5)
	for _, on := range [4]bool{safe, warning, danger, buzzer} {
		if on {
			cmd = append(cmd, '1')
		} else {
			cmd = append(cmd, '0')
		}
	}
	return append(cmd, '\n')
}
