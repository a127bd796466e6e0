package detector

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gogas/pkg/alert"
	"github.com/itohio/gogas/pkg/clock"
	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/device"
	"github.com/itohio/gogas/pkg/sensor"
	"github.com/itohio/gogas/pkg/store"
)

// fakeSensor returns a fixed reading.
type fakeSensor struct {
	id          int
	reading     sensor.Reading
	readErr     error
	calErr      error
	healthy     bool
	calibrated  bool
	calibrates  int
	healthCheck int
}

func (f *fakeSensor) ID() int { return f.id }

func (f *fakeSensor) ReadFiltered() (sensor.Reading, error) {
	return f.reading, f.readErr
}

func (f *fakeSensor) HealthCheck() (sensor.Health, error) {
	f.healthCheck++
	return sensor.Health{Healthy: f.healthy}, f.readErr
}

func (f *fakeSensor) Calibrate(int) (sensor.Calibration, error) {
	f.calibrates++
	if f.calErr != nil {
		return sensor.Calibration{}, f.calErr
	}
	f.calibrated = true
	return sensor.Calibration{R0: 10, Valid: true, Confidence: 100}, nil
}

func (f *fakeSensor) Calibration() sensor.Calibration {
	return sensor.Calibration{Valid: f.calibrated}
}

func (f *fakeSensor) IsCalibrated() bool { return f.calibrated }
func (f *fakeSensor) IsHealthy() bool    { return f.healthy }

func valid(id int, ppm float64) *fakeSensor {
	return &fakeSensor{
		id:         id,
		reading:    sensor.Reading{PPM: ppm, Valid: true, Quality: 100, Temperature: 25, Humidity: 50},
		healthy:    true,
		calibrated: true,
	}
}

func invalid(id int) *fakeSensor {
	return &fakeSensor{id: id, reading: sensor.Reading{PPM: 20000}, healthy: true, calibrated: true}
}

func newTestManager(t *testing.T, sensors ...Sensor) (*Manager, *clock.Fake) {
	t.Helper()
	cfg := config.Default()
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	machine := alert.New(cfg, nil, alert.WithClock(clk))
	m, err := New(cfg, machine, sensors, WithClock(clk))
	require.NoError(t, err)
	return m, clk
}

func TestNew_Validation(t *testing.T) {
	cfg := config.Default()
	machine := alert.New(cfg, nil)

	_, err := New(cfg, machine, nil)
	assert.Error(t, err)

	many := make([]Sensor, config.MaxSensors+1)
	for i := range many {
		many[i] = valid(i, 0)
	}
	_, err = New(cfg, machine, many)
	assert.Error(t, err)

	_, err = New(cfg, nil, []Sensor{valid(0, 0)})
	assert.Error(t, err)
}

func TestReadAll_MeanAndMaxExcludeInvalid(t *testing.T) {
	m, _ := newTestManager(t, valid(0, 120), invalid(1), valid(2, 340))

	agg, err := m.ReadAll()
	require.NoError(t, err)

	assert.True(t, agg.Valid)
	assert.Equal(t, 2, agg.ValidSensors)
	assert.InDelta(t, 230.0, agg.PPM, 1e-9)
	assert.InDelta(t, 340.0, agg.Max, 1e-9)
	assert.Equal(t, alert.Warning, agg.Level)
	assert.Equal(t, alert.Warning, m.Level())
	assert.Len(t, agg.Sensors, 3)
	assert.Equal(t, 1, m.ErrorCount())
	assert.Equal(t, agg, m.Last())
}

func TestReadAll_NoValidReadingsKeepsLevel(t *testing.T) {
	s := valid(0, 900)
	m, _ := newTestManager(t, s)

	agg, err := m.ReadAll()
	require.NoError(t, err)
	require.Equal(t, alert.Critical, agg.Level)

	s.reading = sensor.Reading{PPM: -1}
	agg, err = m.ReadAll()
	require.NoError(t, err)
	assert.False(t, agg.Valid)
	assert.Equal(t, 0, agg.ValidSensors)
	assert.Equal(t, alert.Critical, agg.Level)
	assert.Equal(t, 1, m.Machine().Count())
}

func TestReadAll_SourceErrors(t *testing.T) {
	broken := &fakeSensor{id: 1, readErr: errors.New("adc timeout"), healthy: true}
	m, _ := newTestManager(t, valid(0, 100), broken)

	agg, err := m.ReadAll()
	assert.ErrorContains(t, err, "adc timeout")
	assert.True(t, agg.Valid)
	assert.InDelta(t, 100.0, agg.PPM, 1e-9)
	assert.Equal(t, "adc timeout", agg.Sensors[1].Error)
}

func TestReadAll_NegativeMax(t *testing.T) {
	// Max starts from the first valid reading, not from zero
	m, _ := newTestManager(t, valid(0, 0), valid(1, 0))
	agg, err := m.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, 0.0, agg.Max)
}

func TestOnUpdate(t *testing.T) {
	m, _ := newTestManager(t, valid(0, 600))

	var got []Aggregate
	m.OnUpdate(func(a Aggregate) { got = append(got, a) })

	_, err := m.ReadAll()
	require.NoError(t, err)
	_, err = m.ReadAll()
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, alert.Danger, got[1].Level)
}

func TestSwitchActive(t *testing.T) {
	m, _ := newTestManager(t, valid(0, 100), valid(1, 200))
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 2, m.Count())

	assert.True(t, m.SwitchActive(1))
	assert.Equal(t, 1, m.Active())

	assert.False(t, m.SwitchActive(2))
	assert.False(t, m.SwitchActive(-1))
	assert.Equal(t, 1, m.Active(), "out-of-range keeps the selection")

	r, err := m.ReadActive()
	require.NoError(t, err)
	assert.Equal(t, 200.0, r.PPM)

	assert.Nil(t, m.Sensor(5))
	assert.NotNil(t, m.Sensor(0))
}

func TestCalibrateAll(t *testing.T) {
	a, b, c := valid(0, 0), valid(1, 0), valid(2, 0)
	a.calibrated, b.calibrated, c.calibrated = false, false, false
	b.calErr = sensor.ErrInsufficientSamples

	m, _ := newTestManager(t, a, b, c)
	err := m.CalibrateAll(10)

	assert.ErrorIs(t, err, ErrCalibrationIncomplete)
	assert.ErrorIs(t, err, sensor.ErrInsufficientSamples)
	assert.Equal(t, 1, c.calibrates, "remaining sensors still calibrate")
	assert.True(t, a.IsCalibrated())
	assert.True(t, c.IsCalibrated())
	assert.False(t, m.AllCalibrated())

	b.calErr = nil
	require.NoError(t, m.CalibrateAll(10))
	assert.True(t, m.AllCalibrated())
}

func TestCalibrateActive(t *testing.T) {
	a, b := valid(0, 0), valid(1, 0)
	m, _ := newTestManager(t, a, b)
	m.SwitchActive(1)

	cal, err := m.CalibrateActive(10)
	require.NoError(t, err)
	assert.True(t, cal.Valid)
	assert.Equal(t, 0, a.calibrates)
	assert.Equal(t, 1, b.calibrates)
}

func TestHealth(t *testing.T) {
	a, b := valid(0, 0), valid(1, 0)
	m, _ := newTestManager(t, a, b)
	assert.True(t, m.AllHealthy())

	b.healthy = false
	assert.False(t, m.AllHealthy())

	require.NoError(t, m.HealthCheck())
	assert.Equal(t, 1, a.healthCheck)
	assert.Equal(t, 1, b.healthCheck)
}

func TestSnapshot(t *testing.T) {
	s := valid(0, 650)
	s.reading.Temperature = 31
	s.reading.Humidity = 44
	m, clk := newTestManager(t, s, invalid(1))

	_, err := m.ReadAll()
	require.NoError(t, err)
	clk.Advance(90 * time.Second)

	snap := m.Snapshot()
	assert.Equal(t, "gogas-01", snap.DeviceID)
	assert.Equal(t, "LPG", snap.GasType)
	assert.InDelta(t, 650.0, snap.Concentration, 1e-9)
	assert.InDelta(t, 650*44.1/config.MolarVolume, snap.Mass, 1e-9)
	assert.Equal(t, alert.Danger, snap.Level)
	assert.Equal(t, 31.0, snap.Temperature)
	assert.Equal(t, 44.0, snap.Humidity)
	assert.True(t, snap.SensorHealthy)
	assert.True(t, snap.IsCalibrated)
	assert.Equal(t, 1, snap.ErrorCount)
	assert.Equal(t, 90.0, snap.Uptime)

	b, err := json.Marshal(snap)
	require.NoError(t, err)
	for _, key := range []string{"deviceId", "timestamp", "concentration", "level", "gasType", "temperature",
		"humidity", "massConcentration", "sensorHealthy", "isCalibrated", "errorCount", "uptime"} {
		assert.Contains(t, string(b), `"`+key+`"`)
	}
}

func TestSnapshot_BeforeFirstRead(t *testing.T) {
	m, _ := newTestManager(t, valid(0, 0))
	snap := m.Snapshot()
	assert.Equal(t, 25.0, snap.Temperature)
	assert.Equal(t, 50.0, snap.Humidity)
	assert.Equal(t, alert.Safe, snap.Level)
}

// TestManager_WithSimulatedDevice runs real sensors against the simulated
// device: calibration in clean air followed by a leak on one channel.
func TestManager_WithSimulatedDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Gas.CleanAirRatio = 10
	cfg.Mock.Noise = 0
	cfg.Mock.LeakPeriod = 0
	cfg.Calibration.Samples = 10
	cfg.Sensors = append(cfg.Sensors, config.SensorConfig{Channel: 1, LoadResistance: 10})

	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	dev := device.NewMock(cfg, clk)
	require.NoError(t, dev.Connect())
	nvs := store.NewMemory(cfg.Store.Size)

	var sensors []Sensor
	for i, sc := range cfg.Sensors {
		s, err := sensor.New(cfg, i, device.NewChannel(dev, sc.Channel),
			sensor.WithStore(nvs), sensor.WithClock(clk))
		require.NoError(t, err)
		sensors = append(sensors, s)
	}

	machine := alert.New(cfg, dev, alert.WithClock(clk))
	m, err := New(cfg, machine, sensors, WithClock(clk))
	require.NoError(t, err)

	require.NoError(t, m.CalibrateAll(10))
	assert.True(t, m.AllCalibrated())
	assert.Equal(t, 2, nvs.Commits())

	agg, err := m.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, alert.Safe, agg.Level, "clean air reads a few PPM")
	assert.Less(t, agg.Max, 10.0)

	// A steady 800 PPM leak on channel 1 averages into the warning band
	dev.SetConcentration(1, 800)
	for range config.HistorySize {
		agg, err = m.ReadAll()
		require.NoError(t, err)
	}
	require.Equal(t, 2, agg.ValidSensors)
	assert.InDelta(t, 800, agg.Sensors[1].Reading.PPM, 15)
	assert.InDelta(t, 800, agg.Max, 15)
	assert.Equal(t, alert.Warning, agg.Level)

	require.NoError(t, machine.Handle())
	_, warning, danger, _, n := dev.Indicators()
	assert.True(t, warning)
	assert.False(t, danger)
	assert.Equal(t, 1, n)
}
