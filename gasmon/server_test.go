package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gogas/pkg/alert"
	"github.com/itohio/gogas/pkg/clock"
	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/detector"
	"github.com/itohio/gogas/pkg/device"
	"github.com/itohio/gogas/pkg/store"
)

func testStack(t *testing.T) (*stack, *device.Mock, *store.Memory) {
	t.Helper()

	cfg := config.Default()
	cfg.Gas.CleanAirRatio = 10
	cfg.Mock.Noise = 0
	cfg.Mock.LeakPeriod = 0
	cfg.Calibration.Samples = 10
	cfg.Measurement.Interval = 5 * time.Millisecond
	cfg.Measurement.AlertPoll = 5 * time.Millisecond

	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	dev := device.NewMock(cfg, clk)
	require.NoError(t, dev.Connect())
	nvs := store.NewMemory(cfg.Store.Size)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := newStack(cfg, dev, nvs, clk, logger)
	require.NoError(t, err)
	return s, dev, nvs
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"--mock", "-c", "gas.yaml", "--listen", ":9000", "--calibrate", "--samples", "50", "--log-file", "gas.log"})
	require.NoError(t, err)
	assert.True(t, o.mock)
	assert.Equal(t, "gas.yaml", o.config)
	assert.Equal(t, ":9000", o.listen)
	assert.True(t, o.calibrate)
	assert.Equal(t, 50, o.samples)

	cfg := config.Default()
	applyOverrides(cfg, o)
	assert.Equal(t, ":9000", cfg.HTTP.Listen)
	assert.Equal(t, "gas.log", cfg.Log.File)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)

	assert.False(t, o.listPorts)

	o, err = parseFlags([]string{"--list-ports"})
	require.NoError(t, err)
	assert.True(t, o.listPorts)

	_, err = parseFlags([]string{"--bogus"})
	assert.Error(t, err)
}

func TestListPorts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, listPorts(&buf, func() ([]string, error) { return []string{"/dev/ttyUSB0", "/dev/ttyACM0"}, nil }))
	assert.Equal(t, "/dev/ttyUSB0\n/dev/ttyACM0\n", buf.String())

	buf.Reset()
	require.NoError(t, listPorts(&buf, func() ([]string, error) { return nil, nil }))
	assert.Equal(t, "no serial ports found\n", buf.String())

	assert.Error(t, listPorts(&buf, func() ([]string, error) { return nil, errors.New("no access") }))
}

func TestCleanAirPPM(t *testing.T) {
	cfg := config.Default()
	assert.InDelta(t, 3655, cleanAirPPM(cfg), 1)
	assert.Greater(t, cleanAirPPM(cfg), cfg.Thresholds.Safe)

	cfg.Gas.CleanAirRatio = 10
	assert.InDelta(t, 2.6, cleanAirPPM(cfg), 0.1)
	assert.Less(t, cleanAirPPM(cfg), cfg.Thresholds.Safe)
}

func TestHealthz(t *testing.T) {
	s, dev, _ := testStack(t)
	r := newRouter(s)

	rec := do(t, r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	h := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.False(t, h.Calibrated)

	require.NoError(t, dev.Close())
	rec = do(t, r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCalibrateAndSnapshot(t *testing.T) {
	s, dev, nvs := testStack(t)
	r := newRouter(s)

	rec := do(t, r, http.MethodPost, "/calibrate?samples=10")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cal := decode[calibrationResponse](t, rec)
	require.Len(t, cal.Sensors, 1)
	assert.True(t, cal.Sensors[0].Valid)
	assert.InDelta(t, 1.0, cal.Sensors[0].R0, 0.01)
	assert.Equal(t, 1, nvs.Commits())

	dev.SetConcentration(0, 650)
	for range config.HistorySize {
		_, err := s.detector.ReadAll()
		require.NoError(t, err)
	}

	rec = do(t, r, http.MethodGet, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[detector.Snapshot](t, rec)
	assert.Equal(t, "gogas-01", snap.DeviceID)
	assert.InDelta(t, 650, snap.Concentration, 15)
	assert.Equal(t, alert.Danger, snap.Level)
	assert.True(t, snap.IsCalibrated)
}

func TestCalibrate_BadRequest(t *testing.T) {
	s, _, _ := testStack(t)
	r := newRouter(s)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/calibrate?samples=abc").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/calibrate?samples=-1").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/calibrate?samples=1").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/calibrate?samples=100000").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, r, http.MethodGet, "/calibrate").Code)
	assert.False(t, s.detector.AllCalibrated())
}

func TestCalibrate_Incomplete(t *testing.T) {
	s, dev, _ := testStack(t)
	r := newRouter(s)

	// Open circuit: every sample falls outside the baseline band
	dev.SetRaw(0, 1)
	rec := do(t, r, http.MethodPost, "/calibrate")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	cal := decode[calibrationResponse](t, rec)
	assert.Contains(t, cal.Error, "insufficient")
	assert.False(t, cal.Sensors[0].Valid)
}

func TestAlerts(t *testing.T) {
	s, _, _ := testStack(t)
	r := newRouter(s)

	s.machine.ProcessReading(300)
	s.machine.ProcessReading(900)

	rec := do(t, r, http.MethodGet, "/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[alertsResponse](t, rec)
	assert.Equal(t, alert.Critical, a.Current)
	assert.Equal(t, alert.Warning, a.Previous)
	assert.True(t, a.Active)
	require.Len(t, a.History, 2)
	assert.False(t, a.History[0].Acknowledged)

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodPost, "/alerts/0/ack").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/alerts/7/ack").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/alerts/x/ack").Code, "non-numeric index does not route")
	assert.True(t, s.machine.History()[0].Acknowledged)

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodPost, "/alerts/clear").Code)
	assert.Equal(t, alert.SafePattern, s.machine.Indicators())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := testStack(t)
	r := newRouter(s)

	_, err := s.detector.ReadAll()
	require.NoError(t, err)
	do(t, r, http.MethodGet, "/snapshot")

	rec := do(t, r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "gogas_valid_sensors 1")
	assert.Contains(t, body, `gogas_sensor_reads_total{result="valid",sensor="0"} 1`)
	assert.Contains(t, body, `gogas_http_requests_total{route="/snapshot",status="200"} 1`)
}

func TestPoll(t *testing.T) {
	s, _, _ := testStack(t)

	var updates atomic.Int32
	s.detector.OnUpdate(func(detector.Aggregate) { updates.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.poll(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return updates.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll did not stop")
	}
}

func TestShutdown(t *testing.T) {
	s, dev, _ := testStack(t)
	s.machine.ProcessReading(900)
	require.NoError(t, s.machine.Handle())

	s.shutdown()
	safe, warning, danger, buzzer, _ := dev.Indicators()
	assert.True(t, safe)
	assert.False(t, warning || danger || buzzer)
	assert.False(t, dev.IsConnected())
}
