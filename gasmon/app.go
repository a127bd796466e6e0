package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/itohio/gogas/pkg/alert"
	"github.com/itohio/gogas/pkg/clock"
	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/detector"
	"github.com/itohio/gogas/pkg/device"
	"github.com/itohio/gogas/pkg/metrics"
	"github.com/itohio/gogas/pkg/sensor"
	"github.com/itohio/gogas/pkg/store"
)

// stack is the assembled detection chain behind the daemon.
type stack struct {
	cfg      *config.Config
	dev      device.Device
	machine  *alert.Machine
	detector *detector.Manager
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// newStack wires one sensor per configured channel of dev, the shared alert
// machine driving dev's indicators, the detector and its metrics.
// The device must already be connected.
func newStack(cfg *config.Config, dev device.Device, nvs store.NVS, clk clock.Clock, logger *slog.Logger) (*stack, error) {
	sensors := make([]detector.Sensor, 0, len(cfg.Sensors))
	for i, sc := range cfg.Sensors {
		s, err := sensor.New(cfg, i, device.NewChannel(dev, sc.Channel),
			sensor.WithStore(nvs),
			sensor.WithClock(clk),
			sensor.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		if err := s.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialise sensor %d: %w", i, err)
		}
		sensors = append(sensors, s)
	}

	machine := alert.New(cfg, dev, alert.WithClock(clk), alert.WithLogger(logger))
	det, err := detector.New(cfg, machine, sensors, detector.WithClock(clk), detector.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	det.OnUpdate(m.ObserveAggregate)

	return &stack{
		cfg:      cfg,
		dev:      dev,
		machine:  machine,
		detector: det,
		metrics:  m,
		log:      logger,
	}, nil
}

// calibrate runs a calibration of every sensor and records the outcome.
func (s *stack) calibrate(samples int) error {
	s.log.Info("calibrating sensors in clean air", "sensors", s.detector.Count(), "samples", samples)
	err := s.detector.CalibrateAll(samples)
	s.metrics.ObserveCalibration(err)
	if err != nil {
		return err
	}
	for i := range s.detector.Count() {
		cal := s.detector.Sensor(i).Calibration()
		s.log.Info("sensor calibrated", "sensor", i, "r0", cal.R0, "confidence", cal.Confidence)
	}
	return nil
}

// poll reads the sensors every measurement interval and refreshes the
// indicators every alert poll interval until ctx is done.
func (s *stack) poll(ctx context.Context) {
	measure := time.NewTicker(s.cfg.Measurement.Interval)
	defer measure.Stop()
	indicate := time.NewTicker(s.cfg.Measurement.AlertPoll)
	defer indicate.Stop()

	var lastLevel alert.Level
	for {
		select {
		case <-ctx.Done():
			return
		case <-measure.C:
			agg, err := s.detector.ReadAll()
			if err != nil {
				s.log.Warn("sensor read failed", "error", err)
			}
			if agg.Level != lastLevel {
				s.log.Info("alert level", "level", agg.Level, "ppm", agg.PPM, "max", agg.Max)
				lastLevel = agg.Level
			}
		case <-indicate.C:
			if err := s.machine.Handle(); err != nil {
				s.log.Warn("indicator update failed", "error", err)
			}
		}
	}
}

// shutdown leaves the indicators in the safe pattern and releases the device.
func (s *stack) shutdown() {
	if err := s.machine.ClearAlerts(); err != nil {
		s.log.Warn("failed to reset indicators", "error", err)
	}
	if err := s.dev.Close(); err != nil {
		s.log.Warn("failed to close device", "error", err)
	}
}
