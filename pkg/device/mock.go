package device

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/itohio/gogas/pkg/clock"
	"github.com/itohio/gogas/pkg/config"
)

// Mock simulates a sensor front end for testing and development. Each
// configured channel behaves like an MQ-type sensor behind its load resistor:
// clean air yields the configured clean-air resistance and periodic leaks
// move it along the configured gas curve.
type Mock struct {
	cfg *config.Config
	clk clock.Clock

	mu        sync.RWMutex
	rng       *rand.Rand
	connected bool
	startTime time.Time

	// Overrides
	fixedRaw map[int]int
	ppm      map[int]float64

	// Indicator states as last commanded
	indicators [4]bool
	commands   int
}

// NewMock creates a new mocked device instance. A nil clock uses wall time.
func NewMock(cfg *config.Config, clk clock.Clock) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	return &Mock{
		cfg:      cfg,
		clk:      clk,
		rng:      rand.New(rand.NewSource(cfg.Mock.Seed)),
		fixedRaw: make(map[int]int),
		ppm:      make(map[int]float64),
	}
}

// Connect simulates connecting to the device.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.startTime = m.clk.Now()
	return nil
}

// Close stops the mocked device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SetRaw pins channel to a fixed ADC count until ClearOverrides.
func (m *Mock) SetRaw(channel, raw int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedRaw[channel] = raw
}

// SetConcentration simulates a constant gas concentration on channel.
func (m *Mock) SetConcentration(channel int, ppm float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ppm[channel] = ppm
}

// ClearOverrides returns every channel to the scheduled simulation.
func (m *Mock) ClearOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedRaw = make(map[int]int)
	m.ppm = make(map[int]float64)
}

// ReadRaw generates a sample for channel.
func (m *Mock) ReadRaw(channel int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, ErrNotConnected
	}

	sensor, ok := m.sensor(channel)
	if !ok {
		return 0, fmt.Errorf("channel %d not simulated", channel)
	}

	if raw, ok := m.fixedRaw[channel]; ok {
		return raw, nil
	}

	ppm, ok := m.ppm[channel]
	if !ok {
		ppm = m.scheduledPPM()
	}

	rs := m.resistanceFor(ppm)
	if m.cfg.Mock.Noise > 0 {
		rs *= 1 + m.rng.NormFloat64()*m.cfg.Mock.Noise
	}

	return m.rawFor(rs, sensor.LoadResistance), nil
}

// SetIndicators records the indicator states (simulated).
func (m *Mock) SetIndicators(safe, warning, danger, buzzer bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}

	m.indicators = [4]bool{safe, warning, danger, buzzer}
	m.commands++
	return nil
}

// Indicators returns the last commanded indicator states and the number of
// commands received.
func (m *Mock) Indicators() (safe, warning, danger, buzzer bool, commands int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indicators[0], m.indicators[1], m.indicators[2], m.indicators[3], m.commands
}

func (m *Mock) sensor(channel int) (config.SensorConfig, bool) {
	for _, s := range m.cfg.Sensors {
		if s.Channel == channel {
			return s, true
		}
	}
	return config.SensorConfig{}, false
}

// scheduledPPM returns the leak concentration while a simulated leak is
// active. Leaks start one period after connect and last LeakDuration.
func (m *Mock) scheduledPPM() float64 {
	period := m.cfg.Mock.LeakPeriod
	if period <= 0 || m.cfg.Mock.LeakPPM <= 0 {
		return 0
	}

	elapsed := m.clk.Now().Sub(m.startTime)
	if elapsed < period {
		return 0
	}
	if elapsed%period < m.cfg.Mock.LeakDuration {
		return m.cfg.Mock.LeakPPM
	}
	return 0
}

// resistanceFor inverts the gas curve. Clean air yields the configured
// clean-air resistance, which sits at the clean-air ratio above R0.
func (m *Mock) resistanceFor(ppm float64) float64 {
	clean := m.cfg.Mock.CleanAirResistance
	if ppm <= 0 {
		return clean
	}
	r0 := clean
	if m.cfg.Gas.CleanAirRatio > 0 {
		r0 /= m.cfg.Gas.CleanAirRatio
	}
	ratio := math.Pow(10, m.cfg.Gas.Slope*math.Log10(ppm)+m.cfg.Gas.Intercept)
	return r0 * ratio
}

// rawFor converts a sensor resistance into the ADC count the divider yields.
func (m *Mock) rawFor(rs, loadResistance float64) int {
	vref := m.cfg.ADC.VRef
	resolution := m.cfg.ADC.Resolution
	if rs < 0 {
		rs = 0
	}

	v := vref * loadResistance / (rs + loadResistance)
	raw := int(math.Round(v / vref * float64(resolution)))
	if raw < 0 {
		raw = 0
	} else if raw > resolution-1 {
		raw = resolution - 1
	}
	return raw
}
