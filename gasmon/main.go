// Command gasmon runs the gas detector: it samples the sensors behind a
// serial MCU (or a simulated one), drives the hazard indicators and serves
// the readings over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/itohio/gogas/pkg/clock"
	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/device"
	"github.com/itohio/gogas/pkg/sensor"
	"github.com/itohio/gogas/pkg/store"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	config    string
	port      string
	mock      bool
	listen    string
	calibrate bool
	samples   int
	logFile   string
	listPorts bool
}

func parseFlags(args []string) (options, error) {
	var o options
	pf := pflag.NewFlagSet("gasmon", pflag.ContinueOnError)
	pf.Usage = func() {
		fmt.Printf("Usage of gasmon:\n%s", pf.FlagUsagesWrapped(10))
	}
	pf.StringVarP(&o.config, "config", "c", "config.yaml", "Configuration file path")
	pf.StringVarP(&o.port, "port", "p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
	pf.BoolVar(&o.mock, "mock", false, "Use a simulated device instead of the serial port")
	pf.StringVarP(&o.listen, "listen", "l", "", "HTTP listen address override")
	pf.BoolVar(&o.calibrate, "calibrate", false, "Calibrate all sensors in clean air before monitoring")
	pf.IntVar(&o.samples, "samples", 0, "Calibration samples (0 = config)")
	pf.StringVar(&o.logFile, "log-file", "", "Also write logs to this file")
	pf.BoolVar(&o.listPorts, "list-ports", false, "List available serial ports and exit")

	err := pf.Parse(args)
	return o, err
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Printf("Could not parse flags: %s\n\nUse gasmon --help for options\n", err)
		}
		os.Exit(1)
	}

	if opts.listPorts {
		if err := listPorts(os.Stdout, device.Ports); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		slog.Error("gasmon failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyOverrides(cfg, opts)

	logger, closeLog, err := newLogger(cfg.Log.File)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	if ppm := cleanAirPPM(cfg); ppm >= cfg.Thresholds.Safe {
		logger.Warn("clean air will read above the safe threshold once calibrated; set gas.clean_air_ratio from the sensor datasheet",
			"clean_air_ratio", cfg.Gas.CleanAirRatio, "clean_air_ppm", ppm, "safe", cfg.Thresholds.Safe)
	}

	var dev device.Device
	if opts.mock {
		logger.Info("using simulated device")
		dev = device.NewMock(cfg, clock.Real{})
	} else {
		dev = device.NewSerial(cfg.Serial, logger)
	}
	if err := dev.Connect(); err != nil {
		return fmt.Errorf("failed to connect device: %w", err)
	}

	nvs, err := store.OpenFile(cfg.Store.Path, cfg.Store.Size)
	if err != nil {
		dev.Close()
		return fmt.Errorf("failed to open calibration store: %w", err)
	}

	s, err := newStack(cfg, dev, nvs, clock.Real{}, logger)
	if err != nil {
		dev.Close()
		return err
	}
	defer s.shutdown()

	if opts.calibrate {
		if err := s.calibrate(opts.samples); err != nil {
			return fmt.Errorf("calibration failed: %w", err)
		}
	} else if !s.detector.AllCalibrated() {
		logger.Warn("not all sensors are calibrated; concentrations read 0 until calibrated")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           newRouter(s),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", cfg.HTTP.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	s.poll(ctx)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func applyOverrides(cfg *config.Config, opts options) {
	if opts.port != "" {
		cfg.Serial.Port = opts.port
	}
	if opts.listen != "" {
		cfg.HTTP.Listen = opts.listen
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
}

// listPorts prints one serial port name per line.
func listPorts(w io.Writer, ports func() ([]string, error)) error {
	names, err := ports()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}

// cleanAirPPM is the concentration a sensor calibrated with cfg reports in
// clean air.
func cleanAirPPM(cfg *config.Config) float64 {
	curve := sensor.Curve{Slope: cfg.Gas.Slope, Intercept: cfg.Gas.Intercept}
	return curve.Concentration(cfg.Gas.CleanAirRatio)
}

// newLogger builds a text logger on stdout, teeing to path when set, and
// points the standard logger at the same writer.
func newLogger(path string) (*slog.Logger, func(), error) {
	var (
		w       io.Writer = os.Stdout
		closeFn           = func() {}
	)
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}
	log.SetOutput(w)
	return slog.New(slog.NewTextHandler(w, nil)), closeFn, nil
}
