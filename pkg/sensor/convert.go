package sensor

import "math"

const (
	// MaxConcentration is the upper bound of a plausible reading.
	MaxConcentration = 10000.0
	// MaxBaseline is the exclusive upper bound of an accepted R0 (kOhm).
	// The lower bound is 0, also exclusive.
	MaxBaseline = 1000.0

	// ReferenceTemperature and ReferenceHumidity are the conditions at which
	// corrections are neutral.
	ReferenceTemperature = 25.0
	ReferenceHumidity    = 50.0

	// MinAcceptedFraction of a calibration run must fall in the baseline band.
	MinAcceptedFraction = 0.8
)

// Curve is the log-log sensitivity characteristic of the sensor:
// log10(Rs/R0) = Slope*log10(ppm) + Intercept.
type Curve struct {
	Slope     float64
	Intercept float64
}

// Concentration returns the PPM for an Rs/R0 ratio.
func (c Curve) Concentration(ratio float64) float64 {
	return math.Pow(10, (math.Log10(ratio)-c.Intercept)/c.Slope)
}

// RawToVoltage converts an ADC count into volts.
func RawToVoltage(raw int, vref float64, resolution int) float64 {
	return float64(raw) * vref / float64(resolution)
}

// VoltageToResistance returns the sensor resistance of a load-resistor
// divider measured at the load. The result is not finite for v == 0.
func VoltageToResistance(v, vref, loadResistance float64) float64 {
	return (vref - v) * loadResistance / v
}

// ResistanceToConcentration converts Rs into PPM against r0. It returns 0
// when r0 is not positive.
func ResistanceToConcentration(rs, r0 float64, c Curve) float64 {
	if r0 <= 0 {
		return 0
	}
	return c.Concentration(rs / r0)
}

// ApplyTemperatureCorrection scales ppm linearly by the deviation from 25 °C.
func ApplyTemperatureCorrection(ppm, temperature, coefficient float64) float64 {
	return ppm * (1 + coefficient*(temperature-ReferenceTemperature))
}

// ApplyHumidityCorrection scales ppm linearly by the deviation from 50 %RH.
func ApplyHumidityCorrection(ppm, humidity, coefficient float64) float64 {
	return ppm * (1 + coefficient*(humidity-ReferenceHumidity))
}

// ValidConcentration reports whether ppm lies in [0, MaxConcentration].
func ValidConcentration(ppm float64) bool {
	return ppm >= 0 && ppm <= MaxConcentration
}

// ValidBaseline reports whether r0 lies strictly inside (0, MaxBaseline).
func ValidBaseline(r0 float64) bool {
	return r0 > 0 && r0 < MaxBaseline
}

// IsCalibrationValid is the policy gate for trusting a calibration in
// production: a sane baseline and a confidence above 80.
func IsCalibrationValid(r0, confidence float64) bool {
	return ValidBaseline(r0) && confidence > 80
}
