package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/itohio/gogas/pkg/alert"
	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/detector"
	"github.com/itohio/gogas/pkg/sensor"
)

type healthResponse struct {
	Status     string `json:"status"`
	Healthy    bool   `json:"healthy"`
	Calibrated bool   `json:"calibrated"`
	Connected  bool   `json:"connected"`
}

type alertsResponse struct {
	Current  alert.Level    `json:"current"`
	Previous alert.Level    `json:"previous"`
	Active   bool           `json:"active"`
	Duration float64        `json:"duration"` // seconds
	Pattern  alert.Pattern  `json:"pattern"`
	History  []alert.Record `json:"history"`
}

type calibrationResponse struct {
	Sensors []sensor.Calibration `json:"sensors"`
	Error   string               `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// newRouter exposes the stack over HTTP.
func newRouter(s *stack) *mux.Router {
	r := mux.NewRouter()

	handle := func(path string, h http.HandlerFunc, method string) {
		r.Handle(path, s.metrics.WrapHandler(path, h)).Methods(method)
	}

	handle("/healthz", s.getHealth, http.MethodGet)
	handle("/snapshot", s.getSnapshot, http.MethodGet)
	handle("/alerts", s.getAlerts, http.MethodGet)
	handle("/alerts/clear", s.postClearAlerts, http.MethodPost)
	handle("/alerts/{index:[0-9]+}/ack", s.postAcknowledge, http.MethodPost)
	handle("/calibrate", s.postCalibrate, http.MethodPost)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	return r
}

func (s *stack) getHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Healthy:    s.detector.AllHealthy(),
		Calibrated: s.detector.AllCalibrated(),
		Connected:  s.dev.IsConnected(),
	}
	status := http.StatusOK
	if !resp.Healthy || !resp.Connected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *stack) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.Snapshot())
}

func (s *stack) getAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, alertsResponse{
		Current:  s.machine.Current(),
		Previous: s.machine.Previous(),
		Active:   s.machine.Active(),
		Duration: s.machine.Duration().Seconds(),
		Pattern:  s.machine.Indicators(),
		History:  s.machine.History(),
	})
}

func (s *stack) postClearAlerts(w http.ResponseWriter, _ *http.Request) {
	if err := s.machine.ClearAlerts(); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *stack) postAcknowledge(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.machine.Acknowledge(index); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *stack) postCalibrate(w http.ResponseWriter, r *http.Request) {
	samples := 0
	if v := r.URL.Query().Get("samples"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || (n > 0 && (n < config.MinCalibrationSamples || n > config.MaxCalibrationSamples)) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("samples must be 0 or between %d and %d",
				config.MinCalibrationSamples, config.MaxCalibrationSamples))
			return
		}
		samples = n
	}

	err := s.calibrate(samples)

	resp := calibrationResponse{}
	for i := range s.detector.Count() {
		resp.Sensors = append(resp.Sensors, s.detector.Sensor(i).Calibration())
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, sensor.ErrSampleCount):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, sensor.ErrCalibrationInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, detector.ErrCalibrationIncomplete):
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
