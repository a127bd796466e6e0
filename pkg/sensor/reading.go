package sensor

import "time"

// Reading is the result of one sampling cycle.
type Reading struct {
	Raw         int       `json:"raw"`
	Voltage     float64   `json:"voltage"`    // V
	Resistance  float64   `json:"resistance"` // Rs, kOhm
	PPM         float64   `json:"ppm"`
	Temperature float64   `json:"temperature"` // °C used for correction
	Humidity    float64   `json:"humidity"`    // %RH used for correction
	Timestamp   time.Time `json:"timestamp"`
	Valid       bool      `json:"valid"`
	Quality     int       `json:"quality"` // 0-100
}

// Calibration is the baseline a sensor converts resistance against.
// Valid implies R0 > 0.
type Calibration struct {
	R0                     float64   `json:"r0"` // kOhm
	R0CleanAir             float64   `json:"r0_clean_air"`
	TemperatureCoefficient float64   `json:"temperature_coefficient"`
	HumidityCoefficient    float64   `json:"humidity_coefficient"`
	Date                   time.Time `json:"date"`
	Valid                  bool      `json:"valid"`
	Confidence             float64   `json:"confidence"` // 0-100
}

// Health summarizes recent sensor behaviour.
type Health struct {
	Healthy       bool      `json:"healthy"`
	FailureCount  int       `json:"failure_count"` // consecutive invalid readings
	Average       float64   `json:"average"`       // mean PPM of valid readings
	StdDev        float64   `json:"std_dev"`
	LastCheck     time.Time `json:"last_check"`
	TotalReadings int       `json:"total_readings"` // valid readings counted
}
