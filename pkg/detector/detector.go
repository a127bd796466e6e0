// Package detector combines several co-located sensors into one system-wide
// reading and feeds it to a shared alert machine.
package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itohio/gogas/pkg/alert"
	"github.com/itohio/gogas/pkg/clock"
	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/sensor"
)

// ErrCalibrationIncomplete is returned when at least one sensor of the set
// failed to calibrate.
var ErrCalibrationIncomplete = errors.New("detector: calibration incomplete")

var _ Sensor = (*sensor.Sensor)(nil)

// Sensor is the part of a sensor the detector drives.
type Sensor interface {
	ID() int
	ReadFiltered() (sensor.Reading, error)
	HealthCheck() (sensor.Health, error)
	Calibrate(samples int) (sensor.Calibration, error)
	Calibration() sensor.Calibration
	IsCalibrated() bool
	IsHealthy() bool
}

// Status is the per-sensor part of an Aggregate.
type Status struct {
	ID          int                `json:"id"`
	Reading     sensor.Reading     `json:"reading"`
	Healthy     bool               `json:"healthy"`
	Calibration sensor.Calibration `json:"calibration"`
	Error       string             `json:"error,omitempty"`
}

// Aggregate is the combined result of one ReadAll.
// PPM and Max only cover valid readings; Valid is false when none was.
type Aggregate struct {
	Timestamp    time.Time   `json:"timestamp"`
	PPM          float64     `json:"ppm"`
	Max          float64     `json:"max"`
	Valid        bool        `json:"valid"`
	ValidSensors int         `json:"valid_sensors"`
	Level        alert.Level `json:"level"`
	Sensors      []Status    `json:"sensors"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.log = logger }
}

// Manager owns a fixed set of sensors and the shared alert machine.
// It is safe for concurrent use; reads and calibrations run sequentially
// over the sensors.
type Manager struct {
	cfg     *config.Config
	sensors []Sensor
	machine *alert.Machine
	clk     clock.Clock
	log     *slog.Logger

	mu       sync.RWMutex
	active   int
	last     Aggregate
	failures int
	started  time.Time

	// Update callbacks
	callbacks []func(Aggregate)
	cbMu      sync.RWMutex
}

// New creates a manager over sensors. At least one and at most
// config.MaxSensors sensors are required.
func New(cfg *config.Config, machine *alert.Machine, sensors []Sensor, opts ...Option) (*Manager, error) {
	if len(sensors) == 0 {
		return nil, errors.New("detector needs at least one sensor")
	}
	if len(sensors) > config.MaxSensors {
		return nil, fmt.Errorf("detector supports at most %d sensors, got %d", config.MaxSensors, len(sensors))
	}
	if machine == nil {
		return nil, errors.New("detector needs an alert machine")
	}

	m := &Manager{
		cfg:     cfg,
		sensors: sensors,
		machine: machine,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clk == nil {
		m.clk = clock.Real{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.started = m.clk.Now()
	return m, nil
}

// ReadAll takes a filtered reading from every sensor, combines the valid ones
// and feeds their mean to the alert machine. Invalid readings are excluded
// from both mean and max. Without any valid reading the level is left
// unchanged. Source errors are joined into the returned error; the Aggregate
// is meaningful regardless.
func (m *Manager) ReadAll() (Aggregate, error) {
	agg := Aggregate{
		Timestamp: m.clk.Now(),
		Sensors:   make([]Status, len(m.sensors)),
	}

	var (
		sum   float64
		errs  []error
		fails int
	)
	for i, s := range m.sensors {
		r, err := s.ReadFiltered()
		st := Status{
			ID:          s.ID(),
			Reading:     r,
			Healthy:     s.IsHealthy(),
			Calibration: s.Calibration(),
		}
		if err != nil {
			st.Error = err.Error()
			errs = append(errs, err)
		}
		agg.Sensors[i] = st

		if !r.Valid {
			fails++
			continue
		}
		sum += r.PPM
		if agg.ValidSensors == 0 || r.PPM > agg.Max {
			agg.Max = r.PPM
		}
		agg.ValidSensors++
	}

	if agg.ValidSensors > 0 {
		agg.Valid = true
		agg.PPM = sum / float64(agg.ValidSensors)
		agg.Level = m.machine.ProcessReading(agg.PPM)
	} else {
		agg.Level = m.machine.Current()
		m.log.Warn("no valid sensor readings", "sensors", len(m.sensors))
	}

	m.mu.Lock()
	m.last = agg
	m.failures += fails
	m.mu.Unlock()

	m.notifyCallbacks(agg)

	return agg, errors.Join(errs...)
}

// ReadActive takes a filtered reading from the active sensor only.
func (m *Manager) ReadActive() (sensor.Reading, error) {
	return m.ActiveSensor().ReadFiltered()
}

// Count returns the number of sensors.
func (m *Manager) Count() int {
	return len(m.sensors)
}

// Sensor returns the i-th sensor or nil.
func (m *Manager) Sensor(i int) Sensor {
	if i < 0 || i >= len(m.sensors) {
		return nil
	}
	return m.sensors[i]
}

// Active returns the index of the active sensor.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActiveSensor returns the active sensor.
func (m *Manager) ActiveSensor() Sensor {
	return m.sensors[m.Active()]
}

// SwitchActive selects sensor i. Out-of-range indices are ignored and the
// previous selection kept; the result reports whether the selection changed.
func (m *Manager) SwitchActive(i int) bool {
	if i < 0 || i >= len(m.sensors) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = i
	return true
}

// CalibrateAll calibrates every sensor in turn. Each sensor keeps its own
// result; the call fails with ErrCalibrationIncomplete when any sensor failed.
func (m *Manager) CalibrateAll(samples int) error {
	var errs []error
	for _, s := range m.sensors {
		if _, err := s.Calibrate(samples); err != nil {
			m.log.Error("sensor calibration failed", "sensor", s.ID(), "error", err)
			errs = append(errs, fmt.Errorf("sensor %d: %w", s.ID(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCalibrationIncomplete, errors.Join(errs...))
	}
	return nil
}

// CalibrateActive calibrates the active sensor.
func (m *Manager) CalibrateActive(samples int) (sensor.Calibration, error) {
	return m.ActiveSensor().Calibrate(samples)
}

// AllCalibrated reports whether every sensor holds a valid calibration.
func (m *Manager) AllCalibrated() bool {
	for _, s := range m.sensors {
		if !s.IsCalibrated() {
			return false
		}
	}
	return true
}

// AllHealthy reports whether every sensor is healthy.
func (m *Manager) AllHealthy() bool {
	for _, s := range m.sensors {
		if !s.IsHealthy() {
			return false
		}
	}
	return true
}

// HealthCheck runs a health check on every sensor.
func (m *Manager) HealthCheck() error {
	var errs []error
	for _, s := range m.sensors {
		if _, err := s.HealthCheck(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Level returns the overall severity.
func (m *Manager) Level() alert.Level {
	return m.machine.Current()
}

// Machine returns the shared alert machine.
func (m *Manager) Machine() *alert.Machine {
	return m.machine
}

// Last returns the most recent Aggregate.
func (m *Manager) Last() Aggregate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// ErrorCount returns the number of invalid sensor readings since start.
func (m *Manager) ErrorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures
}

// Uptime returns the time since the manager was created.
func (m *Manager) Uptime() time.Duration {
	return m.clk.Now().Sub(m.started)
}

// OnUpdate registers a callback invoked after every ReadAll.
func (m *Manager) OnUpdate(callback func(Aggregate)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

func (m *Manager) notifyCallbacks(agg Aggregate) {
	m.cbMu.RLock()
	callbacks := make([]func(Aggregate), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(agg)
	}
}
