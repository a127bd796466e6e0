// Package sensor converts raw analog samples from an MQ-type gas sensor into
// calibrated concentration readings and keeps the calibration and health
// state that makes those readings trustworthy.
//
// A Sensor owns one analog Source, its calibration (persisted to an NVS
// slot), a moving-window Filter and a rolling Health summary.
package sensor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gogas/pkg/clock"
	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/store"
)

// MaxConsecutiveFailures is the number of consecutive invalid readings a
// sensor tolerates before it is reported unhealthy.
const MaxConsecutiveFailures = 5

// Source provides raw ADC samples for a single sensor.
type Source interface {
	ReadRaw() (int, error)
}

// Environment provides the ambient conditions used for correction.
type Environment interface {
	Conditions() (temperature, humidity float64)
}

// FixedEnvironment reports constant conditions.
type FixedEnvironment struct {
	Temperature float64
	Humidity    float64
}

// Conditions returns the configured temperature and humidity.
func (e FixedEnvironment) Conditions() (float64, float64) {
	return e.Temperature, e.Humidity
}

// Option configures a Sensor.
type Option func(*Sensor)

// WithStore persists calibration to nvs.
func WithStore(nvs store.NVS) Option {
	return func(s *Sensor) { s.nvs = nvs }
}

// WithClock sets the time source used for timestamps and sampling waits.
func WithClock(clk clock.Clock) Option {
	return func(s *Sensor) { s.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sensor) { s.log = logger }
}

// WithEnvironment sets the ambient condition provider.
func WithEnvironment(env Environment) Option {
	return func(s *Sensor) { s.env = env }
}

// Sensor is a single calibrated gas sensor. It is safe for concurrent use;
// Calibrate is not reentrant and rejects overlapping runs.
type Sensor struct {
	id    int
	cfg   config.SensorConfig
	adc   config.ADCConfig
	curve Curve
	run   config.CalibrationConfig
	ratio float64 // Rs/R0 in clean air

	src Source
	nvs store.NVS
	clk clock.Clock
	env Environment
	log *slog.Logger

	mu          sync.RWMutex
	calibration Calibration
	health      Health
	stats       welford
	filter      *Filter
	last        Reading

	calibrating atomic.Bool
	storeMu     sync.Mutex
}

// New creates the sensor configured at cfg.Sensors[index] reading from src.
// The index doubles as the sensor's calibration slot in the store.
func New(cfg *config.Config, index int, src Source, opts ...Option) (*Sensor, error) {
	if index < 0 || index >= len(cfg.Sensors) {
		return nil, fmt.Errorf("sensor index %d out of range (%d configured)", index, len(cfg.Sensors))
	}
	if src == nil {
		return nil, errors.New("sensor source is nil")
	}

	sc := cfg.Sensors[index]
	s := &Sensor{
		id:  index,
		cfg: sc,
		adc: cfg.ADC,
		curve: Curve{
			Slope:     cfg.Gas.Slope,
			Intercept: cfg.Gas.Intercept,
		},
		run:   cfg.Calibration,
		ratio: cfg.Gas.CleanAirRatio,
		src:   src,
		env: FixedEnvironment{
			Temperature: cfg.Environment.Temperature,
			Humidity:    cfg.Environment.Humidity,
		},
		calibration: Calibration{
			TemperatureCoefficient: sc.TemperatureCoefficient,
			HumidityCoefficient:    sc.HumidityCoefficient,
		},
		health: Health{Healthy: true},
		filter: NewFilter(config.HistorySize),
	}

	if s.ratio <= 0 {
		s.ratio = 1
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.clk == nil {
		s.clk = clock.Real{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("sensor", index, "channel", sc.Channel)

	return s, nil
}

// ID returns the sensor index.
func (s *Sensor) ID() int {
	return s.id
}

// Init restores a persisted calibration and performs a first health check.
// A missing or out-of-range calibration leaves the sensor uncalibrated and is
// not an error; store I/O failures are returned.
func (s *Sensor) Init() error {
	if _, err := s.LoadCalibration(); err != nil {
		switch {
		case errors.Is(err, ErrNotCalibrated):
			s.log.Info("no stored calibration")
		case errors.Is(err, ErrOutOfRange):
			s.log.Warn("stored calibration rejected", "error", err)
		default:
			return err
		}
	}

	if _, err := s.HealthCheck(); err != nil {
		s.log.Warn("initial health check failed", "error", err)
	}
	return nil
}

// ReadRaw returns a raw sample from the source.
func (s *Sensor) ReadRaw() (int, error) {
	return s.src.ReadRaw()
}

// Read performs one sampling cycle. Valid readings update the health summary;
// invalid ones count as consecutive failures and are returned with
// Valid=false. A source error is reported as an invalid reading plus the
// error.
func (s *Sensor) Read() (Reading, error) {
	return s.read(false)
}

// ReadFiltered is Read with valid readings pushed through the moving-window
// filter. Invalid readings are returned unfiltered and do not enter it.
func (s *Sensor) ReadFiltered() (Reading, error) {
	return s.read(true)
}

func (s *Sensor) read(filtered bool) (Reading, error) {
	raw, srcErr := s.src.ReadRaw()
	now := s.clk.Now()
	temperature, humidity := s.env.Conditions()

	s.mu.Lock()
	defer s.mu.Unlock()

	r := Reading{
		Raw:         raw,
		Temperature: temperature,
		Humidity:    humidity,
		Timestamp:   now,
	}
	if srcErr == nil {
		r = s.convert(r)
	}

	if r.Valid {
		s.recordValid(r.PPM)
		if filtered {
			s.filter.Add(r.PPM)
			r = s.filter.Apply(r)
		}
	} else {
		s.recordFailure()
	}
	s.last = r

	if srcErr != nil {
		return r, fmt.Errorf("sensor %d: %w", s.id, srcErr)
	}
	return r, nil
}

// convert derives voltage, resistance and concentration from r.Raw.
// Caller holds s.mu.
func (s *Sensor) convert(r Reading) Reading {
	r.Voltage = RawToVoltage(r.Raw, s.adc.VRef, s.adc.Resolution)
	if r.Voltage <= 0 {
		// Zero voltage has no finite resistance
		return r
	}
	r.Resistance = VoltageToResistance(r.Voltage, s.adc.VRef, s.cfg.LoadResistance)

	var ppm float64
	if s.calibration.Valid {
		ppm = ResistanceToConcentration(r.Resistance, s.calibration.R0, s.curve)
		ppm = ApplyTemperatureCorrection(ppm, r.Temperature, s.calibration.TemperatureCoefficient)
		ppm = ApplyHumidityCorrection(ppm, r.Humidity, s.calibration.HumidityCoefficient)
	}
	r.PPM = ppm

	r.Valid = ValidConcentration(ppm)
	if r.Valid {
		r.Quality = 100
	}
	return r
}

func (s *Sensor) recordValid(ppm float64) {
	s.health.FailureCount = 0
	s.health.Healthy = true
	s.stats.add(ppm)
	s.health.TotalReadings = s.stats.n
	s.health.Average = s.stats.mean
	s.health.StdDev = s.stats.stddev()
}

func (s *Sensor) recordFailure() {
	s.health.FailureCount++
	if s.health.FailureCount > MaxConsecutiveFailures {
		if s.health.Healthy {
			s.log.Warn("sensor unhealthy", "consecutive_failures", s.health.FailureCount)
		}
		s.health.Healthy = false
	}
}

// HealthCheck takes a reading and stamps the check time.
func (s *Sensor) HealthCheck() (Health, error) {
	_, err := s.Read()

	s.mu.Lock()
	s.health.LastCheck = s.clk.Now()
	h := s.health
	s.mu.Unlock()

	return h, err
}

// ResetHealth clears the health summary.
func (s *Sensor) ResetHealth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetHealth()
}

func (s *Sensor) resetHealth() {
	s.health = Health{Healthy: true, LastCheck: s.health.LastCheck}
	s.stats = welford{}
}

// Reset drops the in-memory calibration, health summary and filter window.
// The persisted calibration is left untouched.
func (s *Sensor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calibration.Valid = false
	s.calibration.R0 = 0
	s.calibration.R0CleanAir = 0
	s.calibration.Confidence = 0
	s.resetHealth()
	s.filter.Reset()
	s.last = Reading{}
}

// LastReading returns the most recent reading.
func (s *Sensor) LastReading() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// LastFiltered returns the most recent value in the filter window or 0.
func (s *Sensor) LastFiltered() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.Last()
}

// Health returns the current health summary.
func (s *Sensor) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// IsHealthy reports the health flag.
func (s *Sensor) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health.Healthy
}

// Calibration returns the current calibration.
func (s *Sensor) Calibration() Calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calibration
}

// IsCalibrated reports whether a calibration is in effect.
func (s *Sensor) IsCalibrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calibration.Valid
}

// Trusted reports whether the calibration passes IsCalibrationValid.
func (s *Sensor) Trusted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calibration.Valid && IsCalibrationValid(s.calibration.R0, s.calibration.Confidence)
}

// welford accumulates a running mean and population variance.
type welford struct {
	n    int
	mean float64
	m2   float64
}

func (w *welford) add(x float64) {
	w.n++
	d := x - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (x - w.mean)
}

func (w *welford) stddev() float64 {
	if w.n < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.n))
}

// age returns how long ago t was according to the sensor clock.
func (s *Sensor) age(t time.Time) time.Duration {
	return s.clk.Now().Sub(t)
}
