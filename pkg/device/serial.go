package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.bug.st/serial"

	"github.com/itohio/gogas/pkg/config"
)

const (
	// DefaultBaudRate is the firmware UART rate.
	DefaultBaudRate = 115200
	// DefaultStaleAfter is how old the latest sample may be before reads fail.
	DefaultStaleAfter = 2 * time.Second
)

var (
	// ErrNotConnected is returned by operations on a closed device.
	ErrNotConnected = errors.New("device: not connected")
	// ErrNoSample is returned before the first line from the MCU arrives.
	ErrNoSample = errors.New("device: no sample received yet")
	// ErrStale is returned when the MCU stopped streaming.
	ErrStale = errors.New("device: latest sample is stale")
)

// RawSample is one line from the MCU: a timestamp and one count per channel.
type RawSample struct {
	Timestamp time.Time
	Values    []int
}

// Serial represents a connection to the sensor MCU.
type Serial struct {
	port           string
	baudRate       int
	connectTimeout time.Duration
	staleAfter     time.Duration
	log            *slog.Logger

	conn      io.ReadWriteCloser
	latest    RawSample
	received  time.Time
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	done      chan struct{}
}

// NewSerial creates a new serial device from configuration.
func NewSerial(cfg config.SerialConfig, logger *slog.Logger) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Serial{
		port:           cfg.Port,
		baudRate:       cfg.BaudRate,
		connectTimeout: cfg.ConnectTimeout,
		staleAfter:     DefaultStaleAfter,
		log:            logger.With("port", cfg.Port),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Connect opens the serial port, retrying with exponential backoff until the
// configured connect timeout elapses, and starts reading samples.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	var port serial.Port
	open := func() error {
		p, err := serial.Open(d.port, mode)
		if err != nil {
			d.log.Warn("serial open failed, retrying", "error", err)
			return err
		}
		port = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = d.connectTimeout
	if err := backoff.Retry(open, b); err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.attach(port)
	d.log.Info("serial connected", "baud", d.baudRate)
	return nil
}

// attach starts the reader on an open connection. Caller holds d.mu.
func (d *Serial) attach(conn io.ReadWriteCloser) {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.conn = conn
	d.connected = true
	d.latest = RawSample{}
	d.received = time.Time{}
	d.done = make(chan struct{})

	go d.readSamples(d.ctx, conn, d.done)
}

// Close closes the connection and stops reading samples.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	// Cancel context to stop reading goroutine
	d.cancel()

	var err error
	if d.conn != nil {
		err = d.conn.Close()
		d.conn = nil
	}
	d.connected = false
	done := d.done
	d.mu.Unlock()

	// Closing the port unblocks the scanner
	<-done

	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Latest returns the most recent sample line.
func (d *Serial) Latest() (RawSample, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.received
}

// ReadRaw returns the latest count reported for channel.
func (d *Serial) ReadRaw(channel int) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return 0, ErrNotConnected
	}
	if d.received.IsZero() {
		return 0, ErrNoSample
	}
	if d.staleAfter > 0 && time.Since(d.received) > d.staleAfter {
		return 0, fmt.Errorf("%w: last line %s ago", ErrStale, time.Since(d.received).Round(time.Millisecond))
	}
	if channel < 0 || channel >= len(d.latest.Values) {
		return 0, fmt.Errorf("channel %d not reported by device (%d channels)", channel, len(d.latest.Values))
	}
	return d.latest.Values[channel], nil
}

// SetIndicators sends the indicator states to the MCU.
func (d *Serial) SetIndicators(safe, warning, danger, buzzer bool) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}

	if _, err := d.conn.Write(indicatorCommand(safe, warning, danger, buzzer)); err != nil {
		return fmt.Errorf("failed to send indicator command: %w", err)
	}
	return nil
}

// readSamples reads lines from the serial port and keeps the latest sample.
func (d *Serial) readSamples(ctx context.Context, conn io.Reader, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in serial reader", "panic", r)
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sample, err := parseLine(line)
		if err != nil {
			d.log.Warn("failed to parse line", "line", line, "error", err)
			continue
		}

		d.mu.Lock()
		d.latest = sample
		d.received = time.Now()
		d.mu.Unlock()
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		select {
		case <-ctx.Done():
		default:
			d.log.Error("error reading from serial port", "error", err)
		}
	}
}

// parseLine parses a line from the MCU into a RawSample.
// Format: unix_micros,raw0[,raw1...]
// Example: 1234567890123,2048,1830
func parseLine(line string) (RawSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return RawSample{}, fmt.Errorf("invalid line format: expected timestamp and at least one value, got %d fields", len(parts))
	}

	// Parse timestamp (unix microseconds)
	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	values := make([]int, 0, len(parts)-1)
	for i, p := range parts[1:] {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return RawSample{}, fmt.Errorf("invalid value for channel %d: %w", i, err)
		}
		values = append(values, int(v))
	}

	return RawSample{
		Timestamp: time.UnixMicro(timestampMicros),
		Values:    values,
	}, nil
}
