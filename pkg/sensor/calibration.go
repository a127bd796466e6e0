package sensor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/store"
)

// RestoredConfidence is assigned to calibrations loaded from the store, whose
// dispersion is not persisted.
const RestoredConfidence = 95.0

// progressEvery is the calibration progress log period in samples.
const progressEvery = 20

// Calibrate establishes R0 from samples clean-air readings taken at the
// configured interval: the mean accepted resistance divided by the configured
// clean-air ratio. Samples outside (0, MaxBaseline) are discarded; the run
// fails with ErrInsufficientSamples when fewer than 80% are accepted, leaving
// the previous calibration and the store untouched. A non-positive samples
// uses the configured count; any other count outside
// [MinCalibrationSamples, MaxCalibrationSamples] fails with ErrSampleCount
// before a sample is taken.
//
// The call blocks for samples*interval. Only one run per sensor may be in
// progress; an overlapping call returns ErrCalibrationInProgress.
func (s *Sensor) Calibrate(samples int) (Calibration, error) {
	if samples <= 0 {
		samples = s.run.Samples
	}
	if samples < config.MinCalibrationSamples || samples > config.MaxCalibrationSamples {
		return Calibration{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrSampleCount, samples, config.MinCalibrationSamples, config.MaxCalibrationSamples)
	}
	if !s.calibrating.CompareAndSwap(false, true) {
		return Calibration{}, ErrCalibrationInProgress
	}
	defer s.calibrating.Store(false)

	s.log.Info("calibration started, keep the sensor in clean air", "samples", samples, "interval", s.run.Interval)

	accepted := make([]float64, 0, samples)
	for i := range samples {
		raw, err := s.src.ReadRaw()
		if err != nil {
			s.log.Debug("calibration sample failed", "sample", i, "error", err)
		} else {
			v := RawToVoltage(raw, s.adc.VRef, s.adc.Resolution)
			rs := VoltageToResistance(v, s.adc.VRef, s.cfg.LoadResistance)
			if v > 0 && ValidBaseline(rs) {
				accepted = append(accepted, rs)
			}
		}

		s.clk.Sleep(s.run.Interval)

		if i%progressEvery == 0 {
			s.log.Info("calibration progress", "percent", i*100/samples, "accepted", len(accepted))
		}
	}

	if float64(len(accepted)) < float64(samples)*MinAcceptedFraction {
		s.log.Warn("calibration failed", "accepted", len(accepted), "requested", samples)
		return Calibration{}, fmt.Errorf("%w: %d of %d accepted", ErrInsufficientSamples, len(accepted), samples)
	}

	clean, stddev := meanStdDev(accepted)
	r0 := clean / s.ratio
	if !ValidBaseline(r0) {
		return Calibration{}, fmt.Errorf("%w: R0 %.3f", ErrOutOfRange, r0)
	}

	s.mu.Lock()
	s.calibration.R0 = r0
	s.calibration.R0CleanAir = clean
	s.calibration.Confidence = math.Max(0, math.Min(100, 100-stddev/clean*100))
	s.calibration.Date = s.clk.Now()
	s.calibration.Valid = true
	cal := s.calibration
	s.mu.Unlock()

	s.log.Info("calibration completed", "r0", r0, "confidence", cal.Confidence, "trusted", IsCalibrationValid(r0, cal.Confidence))

	if err := s.SaveCalibration(); err != nil {
		return cal, err
	}
	return cal, nil
}

// IsCalibrating reports whether a calibration run is in progress.
func (s *Sensor) IsCalibrating() bool {
	return s.calibrating.Load()
}

// SaveCalibration persists R0 and the calibration date to the sensor slot.
// Without a store it is a no-op.
func (s *Sensor) SaveCalibration() error {
	if s.nvs == nil {
		return nil
	}

	cal := s.Calibration()
	if !cal.Valid {
		return ErrNotCalibrated
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	rec := store.CalibrationRecord{R0: cal.R0, Date: cal.Date}
	if err := store.SaveCalibration(s.nvs, s.id, rec); err != nil {
		return fmt.Errorf("sensor %d: failed to save calibration: %w", s.id, err)
	}
	return nil
}

// LoadCalibration restores the persisted calibration. It returns
// ErrNotCalibrated when nothing was stored and ErrOutOfRange when the stored
// R0 fails the sanity band; in both cases the current calibration is kept.
func (s *Sensor) LoadCalibration() (Calibration, error) {
	if s.nvs == nil {
		return Calibration{}, ErrNotCalibrated
	}

	s.storeMu.Lock()
	rec, err := store.LoadCalibration(s.nvs, s.id)
	s.storeMu.Unlock()
	if errors.Is(err, store.ErrNoCalibration) {
		return Calibration{}, ErrNotCalibrated
	}
	if err != nil {
		return Calibration{}, fmt.Errorf("sensor %d: failed to load calibration: %w", s.id, err)
	}
	if !ValidBaseline(rec.R0) {
		return Calibration{}, fmt.Errorf("%w: stored R0 %.3f", ErrOutOfRange, rec.R0)
	}

	s.mu.Lock()
	s.calibration.R0 = rec.R0
	s.calibration.R0CleanAir = rec.R0 * s.ratio
	s.calibration.Date = rec.Date
	s.calibration.Confidence = RestoredConfidence
	s.calibration.Valid = true
	cal := s.calibration
	s.mu.Unlock()

	s.log.Info("calibration restored", "r0", rec.R0, "age", s.age(rec.Date).Round(time.Second))
	return cal, nil
}

// meanStdDev returns the mean and population standard deviation of xs.
func meanStdDev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
