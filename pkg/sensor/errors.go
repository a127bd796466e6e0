package sensor

import "errors"

var (
	// ErrInsufficientSamples is returned when fewer than 80% of the requested
	// calibration samples were within the accepted resistance band.
	ErrInsufficientSamples = errors.New("sensor: insufficient in-range calibration samples")
	// ErrSampleCount is returned when a calibration run asks for fewer than
	// MinCalibrationSamples or more than MaxCalibrationSamples samples.
	ErrSampleCount = errors.New("sensor: calibration sample count out of range")
	// ErrOutOfRange is returned when a computed or restored R0 falls outside
	// the sane baseline band.
	ErrOutOfRange = errors.New("sensor: baseline resistance out of range")
	// ErrNotCalibrated is returned when no calibration has been recorded.
	ErrNotCalibrated = errors.New("sensor: not calibrated")
	// ErrCalibrationInProgress is returned by a second concurrent Calibrate.
	ErrCalibrationInProgress = errors.New("sensor: calibration already in progress")
)
