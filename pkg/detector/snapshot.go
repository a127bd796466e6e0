package detector

import (
	"time"

	"github.com/itohio/gogas/pkg/alert"
	"github.com/itohio/gogas/pkg/config"
)

// Snapshot is the telemetry record handed to downstream consumers.
type Snapshot struct {
	DeviceID      string      `json:"deviceId"`
	Timestamp     time.Time   `json:"timestamp"`
	Concentration float64     `json:"concentration"`
	Mass          float64     `json:"massConcentration,omitempty"` // mg/m³
	Level         alert.Level `json:"level"`
	GasType       string      `json:"gasType"`
	Temperature   float64     `json:"temperature"`
	Humidity      float64     `json:"humidity"`
	SensorHealthy bool        `json:"sensorHealthy"`
	IsCalibrated  bool        `json:"isCalibrated"`
	ErrorCount    int         `json:"errorCount"`
	Uptime        float64     `json:"uptime"` // seconds
}

// Snapshot returns the telemetry record for the last ReadAll. Ambient
// conditions are those the active sensor used.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	last := m.last
	active := m.active
	errs := m.failures
	m.mu.RUnlock()

	s := Snapshot{
		DeviceID:      m.cfg.DeviceID,
		Timestamp:     last.Timestamp,
		Concentration: last.PPM,
		Level:         m.machine.Current(),
		GasType:       m.cfg.Gas.Type,
		Temperature:   m.cfg.Environment.Temperature,
		Humidity:      m.cfg.Environment.Humidity,
		SensorHealthy: m.AllHealthy(),
		IsCalibrated:  m.AllCalibrated(),
		ErrorCount:    errs,
		Uptime:        m.Uptime().Seconds(),
	}
	if active < len(last.Sensors) && !last.Sensors[active].Reading.Timestamp.IsZero() {
		r := last.Sensors[active].Reading
		s.Temperature = r.Temperature
		s.Humidity = r.Humidity
	}
	if p, ok := config.Preset(m.cfg.Gas.Type); ok {
		s.Mass = p.MassConcentration(s.Concentration)
	}
	return s
}
