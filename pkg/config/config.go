package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/gogas/pkg/store"
)

const (
	// MaxSensors bounds the number of co-located sensors a detector manages.
	MaxSensors = 8
	// HistorySize is the reading filter window.
	HistorySize = 10
	// AlertLogSize is the alert history capacity.
	AlertLogSize = 50
	// MinCalibrationSamples is the smallest accepted calibration run.
	MinCalibrationSamples = 10
	// MaxCalibrationSamples is the largest accepted calibration run.
	MaxCalibrationSamples = 10000
)

// Config represents the application configuration.
type Config struct {
	DeviceID    string            `yaml:"device_id"`
	Gas         GasConfig         `yaml:"gas"`
	ADC         ADCConfig         `yaml:"adc"`
	Sensors     []SensorConfig    `yaml:"sensors"`
	Thresholds  Thresholds        `yaml:"thresholds"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Alert       AlertConfig       `yaml:"alert"`
	Environment EnvironmentConfig `yaml:"environment"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Serial      SerialConfig      `yaml:"serial"`
	Store       StoreConfig       `yaml:"store"`
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
	Mock        MockConfig        `yaml:"mock"`
}

// GasConfig selects the target gas and the sensor curve used to convert the
// Rs/R0 ratio into PPM: log10(ratio) = slope*log10(ppm) + intercept.
//
// CleanAirRatio is Rs/R0 in clean air. Calibration divides the mean clean-air
// resistance by it; 1 makes R0 the clean-air resistance itself, which on the
// MQ-6 curve reads clean air as about 3655 PPM. MQ-6 datasheets give 10.
type GasConfig struct {
	Type          string  `yaml:"type"`
	Slope         float64 `yaml:"slope"`
	Intercept     float64 `yaml:"intercept"`
	CleanAirRatio float64 `yaml:"clean_air_ratio"`
}

// ADCConfig describes the analog front end.
type ADCConfig struct {
	Resolution int     `yaml:"resolution"` // Full-scale count (4095 for 12-bit)
	VRef       float64 `yaml:"vref"`       // Reference voltage (V)
}

// SensorConfig describes one sensor and its load resistor.
// Zero correction coefficients disable the corresponding correction.
type SensorConfig struct {
	Channel                int     `yaml:"channel"`
	LoadResistance         float64 `yaml:"load_resistance"` // kOhm
	TemperatureCoefficient float64 `yaml:"temperature_coefficient"`
	HumidityCoefficient    float64 `yaml:"humidity_coefficient"`
}

// Thresholds are the four PPM boundaries separating the five severity bands.
type Thresholds struct {
	Safe     float64 `yaml:"safe"`
	Warning  float64 `yaml:"warning"`
	Danger   float64 `yaml:"danger"`
	Critical float64 `yaml:"critical"`
}

// CalibrationConfig contains calibration run parameters.
type CalibrationConfig struct {
	Samples  int           `yaml:"samples"`
	Interval time.Duration `yaml:"interval"`
}

// AlertConfig contains indicator timing.
type AlertConfig struct {
	WarningBlink  time.Duration `yaml:"warning_blink"`
	DangerBlink   time.Duration `yaml:"danger_blink"`
	CriticalBlink time.Duration `yaml:"critical_blink"`
	BeepDuration  time.Duration `yaml:"beep_duration"`
	BeepInterval  time.Duration `yaml:"beep_interval"`
}

// EnvironmentConfig holds the ambient conditions used for correction when no
// temperature/humidity sensor is fitted.
type EnvironmentConfig struct {
	Temperature float64 `yaml:"temperature"` // °C
	Humidity    float64 `yaml:"humidity"`    // %RH
}

// MeasurementConfig contains poll loop timing.
type MeasurementConfig struct {
	Interval  time.Duration `yaml:"interval"`   // Sensor read interval
	AlertPoll time.Duration `yaml:"alert_poll"` // Indicator pattern update interval
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud_rate"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// StoreConfig locates the calibration image file.
type StoreConfig struct {
	Path string `yaml:"path"`
	Size int    `yaml:"size"`
}

// HTTPConfig contains the daemon listen address.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig contains log output settings.
type LogConfig struct {
	File string `yaml:"file"` // Optional log file in addition to stdout
}

// MockConfig contains simulated device configuration.
type MockConfig struct {
	CleanAirResistance float64       `yaml:"clean_air_resistance"` // kOhm
	Noise              float64       `yaml:"noise"`                // Relative resistance noise (0.01 = 1%)
	LeakPPM            float64       `yaml:"leak_ppm"`             // Simulated leak concentration
	LeakPeriod         time.Duration `yaml:"leak_period"`          // Time between leaks (0 = never)
	LeakDuration       time.Duration `yaml:"leak_duration"`
	Seed               int64         `yaml:"seed"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	lpg, _ := Preset(DefaultGas)
	return &Config{
		DeviceID: "gogas-01",
		Gas: GasConfig{
			Type:          lpg.Name,
			Slope:         DefaultSlope,
			Intercept:     DefaultIntercept,
			CleanAirRatio: 1.0,
		},
		ADC: ADCConfig{
			Resolution: 4095,
			VRef:       3.3,
		},
		Sensors: []SensorConfig{
			{
				Channel:                0,
				LoadResistance:         10.0,
				TemperatureCoefficient: 0.02,
				HumidityCoefficient:    0.01,
			},
		},
		Thresholds: lpg.Thresholds,
		Calibration: CalibrationConfig{
			Samples:  100,
			Interval: 100 * time.Millisecond,
		},
		Alert: AlertConfig{
			WarningBlink:  1000 * time.Millisecond,
			DangerBlink:   500 * time.Millisecond,
			CriticalBlink: 200 * time.Millisecond,
			BeepDuration:  200 * time.Millisecond,
			BeepInterval:  1000 * time.Millisecond,
		},
		Environment: EnvironmentConfig{
			Temperature: 25.0,
			Humidity:    50.0,
		},
		Measurement: MeasurementConfig{
			Interval:  500 * time.Millisecond,
			AlertPoll: 50 * time.Millisecond,
		},
		Serial: SerialConfig{
			Port:           "/dev/ttyUSB0",
			BaudRate:       115200,
			ConnectTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path: "calibration.bin",
			Size: 512,
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Mock: MockConfig{
			CleanAirResistance: 10.0,
			Noise:              0.01,
			LeakPPM:            600,
			LeakPeriod:         2 * time.Minute,
			LeakDuration:       20 * time.Second,
			Seed:               1,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. Environment overrides (and an
// optional .env file) are applied after the file, then the result is validated.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		// Thresholds come from the preset unless the file sets them explicitly
		cfg.Thresholds = Thresholds{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.DeviceID == "" {
		c.DeviceID = def.DeviceID
	}

	if c.Gas.Type == "" {
		c.Gas.Type = def.Gas.Type
	}
	if c.Gas.Slope == 0 {
		c.Gas.Slope = def.Gas.Slope
	}
	if c.Gas.Intercept == 0 {
		c.Gas.Intercept = def.Gas.Intercept
	}
	if c.Gas.CleanAirRatio == 0 {
		c.Gas.CleanAirRatio = def.Gas.CleanAirRatio
	}

	if c.ADC.Resolution == 0 {
		c.ADC.Resolution = def.ADC.Resolution
	}
	if c.ADC.VRef == 0 {
		c.ADC.VRef = def.ADC.VRef
	}

	if len(c.Sensors) == 0 {
		c.Sensors = def.Sensors
	}
	for i := range c.Sensors {
		if c.Sensors[i].LoadResistance == 0 {
			c.Sensors[i].LoadResistance = def.Sensors[0].LoadResistance
		}
	}

	// Unset thresholds fall back to the gas preset
	if c.Thresholds == (Thresholds{}) {
		if p, ok := Preset(c.Gas.Type); ok {
			c.Thresholds = p.Thresholds
		}
	}

	if c.Calibration.Samples == 0 {
		c.Calibration.Samples = def.Calibration.Samples
	}
	if c.Calibration.Interval == 0 {
		c.Calibration.Interval = def.Calibration.Interval
	}

	if c.Alert.WarningBlink == 0 {
		c.Alert.WarningBlink = def.Alert.WarningBlink
	}
	if c.Alert.DangerBlink == 0 {
		c.Alert.DangerBlink = def.Alert.DangerBlink
	}
	if c.Alert.CriticalBlink == 0 {
		c.Alert.CriticalBlink = def.Alert.CriticalBlink
	}
	if c.Alert.BeepDuration == 0 {
		c.Alert.BeepDuration = def.Alert.BeepDuration
	}
	if c.Alert.BeepInterval == 0 {
		c.Alert.BeepInterval = def.Alert.BeepInterval
	}

	if c.Environment == (EnvironmentConfig{}) {
		c.Environment = def.Environment
	}

	if c.Measurement.Interval == 0 {
		c.Measurement.Interval = def.Measurement.Interval
	}
	if c.Measurement.AlertPoll == 0 {
		c.Measurement.AlertPoll = def.Measurement.AlertPoll
	}

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ConnectTimeout == 0 {
		c.Serial.ConnectTimeout = def.Serial.ConnectTimeout
	}

	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.Size == 0 {
		c.Store.Size = def.Store.Size
	}

	if c.HTTP.Listen == "" {
		c.HTTP.Listen = def.HTTP.Listen
	}

	if c.Mock.CleanAirResistance == 0 {
		c.Mock.CleanAirResistance = def.Mock.CleanAirResistance
	}
}

// Validate checks the invariants the rest of the system relies on.
// All violations are reported together.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Gas.Slope >= 0 {
		errs = append(errs, fmt.Errorf("gas curve slope must be negative, got %g", c.Gas.Slope))
	}
	if c.Gas.CleanAirRatio <= 0 {
		errs = append(errs, fmt.Errorf("gas clean air ratio must be positive, got %g", c.Gas.CleanAirRatio))
	}

	if c.ADC.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("adc resolution must be positive, got %d", c.ADC.Resolution))
	}
	if c.ADC.VRef <= 0 {
		errs = append(errs, fmt.Errorf("adc reference voltage must be positive, got %g", c.ADC.VRef))
	}

	if len(c.Sensors) == 0 || len(c.Sensors) > MaxSensors {
		errs = append(errs, fmt.Errorf("sensor count must be between 1 and %d, got %d", MaxSensors, len(c.Sensors)))
	}
	channels := make(map[int]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if s.LoadResistance <= 0 {
			errs = append(errs, fmt.Errorf("sensor %d: load resistance must be positive, got %g", i, s.LoadResistance))
		}
		if s.Channel < 0 {
			errs = append(errs, fmt.Errorf("sensor %d: channel must not be negative", i))
		}
		if channels[s.Channel] {
			errs = append(errs, fmt.Errorf("sensor %d: channel %d already in use", i, s.Channel))
		}
		channels[s.Channel] = true
	}

	if c.Calibration.Samples < MinCalibrationSamples || c.Calibration.Samples > MaxCalibrationSamples {
		errs = append(errs, fmt.Errorf("calibration samples must be between %d and %d, got %d", MinCalibrationSamples, MaxCalibrationSamples, c.Calibration.Samples))
	}
	if need := len(c.Sensors) * store.BlockSize; c.Store.Size < need {
		errs = append(errs, fmt.Errorf("store size must hold %d calibration slots (%d bytes), got %d", len(c.Sensors), need, c.Store.Size))
	}
	if c.Calibration.Interval < 0 {
		errs = append(errs, errors.New("calibration interval must not be negative"))
	}

	for name, d := range map[string]time.Duration{
		"warning_blink":  c.Alert.WarningBlink,
		"danger_blink":   c.Alert.DangerBlink,
		"critical_blink": c.Alert.CriticalBlink,
		"beep_duration":  c.Alert.BeepDuration,
		"beep_interval":  c.Alert.BeepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("alert %s must be positive", name))
		}
	}
	if c.Alert.BeepDuration >= c.Alert.BeepInterval {
		errs = append(errs, errors.New("alert beep_duration must be shorter than beep_interval"))
	}

	return errors.Join(errs...)
}

// Validate checks that the thresholds are strictly increasing.
func (t Thresholds) Validate() error {
	if !(t.Safe < t.Warning && t.Warning < t.Danger && t.Danger < t.Critical) {
		return fmt.Errorf("thresholds must be strictly increasing (safe < warning < danger < critical), got %g/%g/%g/%g",
			t.Safe, t.Warning, t.Danger, t.Critical)
	}
	if t.Safe < 0 {
		return fmt.Errorf("safe threshold must not be negative, got %g", t.Safe)
	}
	return nil
}
