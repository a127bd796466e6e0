package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gogas/pkg/alert"
	"github.com/itohio/gogas/pkg/detector"
	"github.com/itohio/gogas/pkg/sensor"
)

func aggregate(level alert.Level, readings ...sensor.Reading) detector.Aggregate {
	agg := detector.Aggregate{Level: level}
	var sum float64
	for i, r := range readings {
		agg.Sensors = append(agg.Sensors, detector.Status{
			ID:          i,
			Reading:     r,
			Healthy:     true,
			Calibration: sensor.Calibration{R0: 10, Confidence: 97, Valid: true},
		})
		if r.Valid {
			sum += r.PPM
			agg.Max = max(agg.Max, r.PPM)
			agg.ValidSensors++
		}
	}
	if agg.ValidSensors > 0 {
		agg.Valid = true
		agg.PPM = sum / float64(agg.ValidSensors)
	}
	return agg
}

func TestObserveAggregate(t *testing.T) {
	m := New()

	m.ObserveAggregate(aggregate(alert.Warning,
		sensor.Reading{PPM: 300, Resistance: 4.2, Valid: true},
		sensor.Reading{PPM: 20000, Resistance: 0.3},
	))

	assert.Equal(t, 300.0, testutil.ToFloat64(m.concentration))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.maximum))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validSensors))
	assert.Equal(t, float64(alert.Warning), testutil.ToFloat64(m.level))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("0", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("1", "invalid")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.sensorPPM.WithLabelValues("0")))
	assert.Equal(t, 0.3, testutil.ToFloat64(m.sensorResistance.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensorCalibrated.WithLabelValues("0")))
	assert.Equal(t, 97.0, testutil.ToFloat64(m.sensorConfidence.WithLabelValues("1")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sensorPPM), "invalid readings leave no concentration")
}

func TestObserveAggregate_Transitions(t *testing.T) {
	m := New()

	for _, level := range []alert.Level{alert.Safe, alert.Warning, alert.Warning, alert.Danger, alert.Safe} {
		m.ObserveAggregate(aggregate(level, sensor.Reading{PPM: 100, Valid: true}))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Danger")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Safe")))
}

func TestObserveAggregate_NoValidKeepsConcentration(t *testing.T) {
	m := New()
	m.ObserveAggregate(aggregate(alert.Safe, sensor.Reading{PPM: 120, Valid: true}))
	m.ObserveAggregate(aggregate(alert.Safe, sensor.Reading{PPM: -5}))

	assert.Equal(t, 120.0, testutil.ToFloat64(m.concentration))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.validSensors))
}

func TestObserveAggregate_SourceError(t *testing.T) {
	m := New()
	agg := aggregate(alert.Safe, sensor.Reading{})
	agg.Sensors[0].Error = "timeout"
	m.ObserveAggregate(agg)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("0", "error")))
}

func TestObserveCalibration(t *testing.T) {
	m := New()
	m.ObserveCalibration(nil)
	m.ObserveCalibration(nil)
	m.ObserveCalibration(errors.New("noisy"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.calibrations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calibrations.WithLabelValues("failure")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAggregate(aggregate(alert.Danger, sensor.Reading{PPM: 700, Valid: true}))
		m.ObserveCalibration(nil)
	})
	assert.Nil(t, m.Registry())

	h := m.WrapHandler("/x", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWrapHandlerAndExposition(t *testing.T) {
	m := New()
	m.ObserveAggregate(aggregate(alert.Safe, sensor.Reading{PPM: 42, Valid: true}))

	h := m.WrapHandler("/snapshot", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/snapshot", "404")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "gogas_concentration_ppm 42")
	assert.Contains(t, string(body), `gogas_http_requests_total{route="/snapshot",status="404"} 1`)
}
