// Package metrics exposes detector state as Prometheus series.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itohio/gogas/pkg/alert"
	"github.com/itohio/gogas/pkg/detector"
)

const namespace = "gogas"

// Metrics holds the detector collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	concentration prometheus.Gauge
	maximum       prometheus.Gauge
	validSensors  prometheus.Gauge
	level         prometheus.Gauge
	transitions   *prometheus.CounterVec

	sensorPPM        *prometheus.GaugeVec
	sensorResistance *prometheus.GaugeVec
	sensorHealthy    *prometheus.GaugeVec
	sensorCalibrated *prometheus.GaugeVec
	sensorR0         *prometheus.GaugeVec
	sensorConfidence *prometheus.GaugeVec
	reads            *prometheus.CounterVec

	calibrations *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	lastLevel alert.Level
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	sensorLabels := []string{"sensor"}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		concentration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concentration_ppm",
			Help:      "Mean concentration over valid sensor readings.",
		}),
		maximum: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concentration_max_ppm",
			Help:      "Highest valid sensor concentration.",
		}),
		validSensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valid_sensors",
			Help:      "Sensors that produced a valid reading in the last cycle.",
		}),
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_level",
			Help:      "Current alert level (0 safe .. 4 emergency).",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert level changes by the level entered.",
		}, []string{"level"}),
		sensorPPM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_concentration_ppm",
			Help:      "Filtered concentration per sensor.",
		}, sensorLabels),
		sensorResistance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_resistance_kohm",
			Help:      "Sensor resistance Rs per sensor.",
		}, sensorLabels),
		sensorHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_healthy",
			Help:      "1 when the sensor is healthy.",
		}, sensorLabels),
		sensorCalibrated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_calibrated",
			Help:      "1 when the sensor holds a calibration.",
		}, sensorLabels),
		sensorR0: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_r0_kohm",
			Help:      "Calibrated baseline resistance R0 per sensor.",
		}, sensorLabels),
		sensorConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_calibration_confidence",
			Help:      "Calibration confidence score (0-100) per sensor.",
		}, sensorLabels),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_reads_total",
			Help:      "Sensor readings by result (valid, invalid, error).",
		}, []string{"sensor", "result"}),
		calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Calibration runs by result.",
		}, []string{"result"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.concentration,
		m.maximum,
		m.validSensors,
		m.level,
		m.transitions,
		m.sensorPPM,
		m.sensorResistance,
		m.sensorHealthy,
		m.sensorCalibrated,
		m.sensorR0,
		m.sensorConfidence,
		m.reads,
		m.calibrations,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAggregate records one detector cycle. It is meant to be registered
// with detector.Manager.OnUpdate, which calls it sequentially.
func (m *Metrics) ObserveAggregate(agg detector.Aggregate) {
	if m == nil {
		return
	}

	if agg.Valid {
		m.concentration.Set(agg.PPM)
		m.maximum.Set(agg.Max)
	}
	m.validSensors.Set(float64(agg.ValidSensors))
	m.level.Set(float64(agg.Level))
	if agg.Level != m.lastLevel {
		m.transitions.WithLabelValues(agg.Level.String()).Inc()
		m.lastLevel = agg.Level
	}

	for _, st := range agg.Sensors {
		id := strconv.Itoa(st.ID)
		switch {
		case st.Error != "":
			m.reads.WithLabelValues(id, "error").Inc()
		case st.Reading.Valid:
			m.reads.WithLabelValues(id, "valid").Inc()
			m.sensorPPM.WithLabelValues(id).Set(st.Reading.PPM)
		default:
			m.reads.WithLabelValues(id, "invalid").Inc()
		}
		if st.Reading.Resistance > 0 {
			m.sensorResistance.WithLabelValues(id).Set(st.Reading.Resistance)
		}
		m.sensorHealthy.WithLabelValues(id).Set(boolGauge(st.Healthy))
		m.sensorCalibrated.WithLabelValues(id).Set(boolGauge(st.Calibration.Valid))
		m.sensorR0.WithLabelValues(id).Set(st.Calibration.R0)
		m.sensorConfidence.WithLabelValues(id).Set(st.Calibration.Confidence)
	}
}

// ObserveCalibration counts a calibration run.
func (m *Metrics) ObserveCalibration(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.calibrations.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their duration under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
