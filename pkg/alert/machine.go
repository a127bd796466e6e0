// Package alert turns smoothed concentrations into severity levels, keeps a
// bounded history of level transitions and drives the hazard indicators.
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itohio/gogas/pkg/clock"
	"github.com/itohio/gogas/pkg/config"
	"github.com/itohio/gogas/pkg/ring"
)

// ErrNoSuchAlert is returned for history indices out of range.
var ErrNoSuchAlert = errors.New("alert: no such alert")

// Output drives the hazard indicators: three steady lines and a buzzer.
type Output interface {
	SetIndicators(safe, warning, danger, buzzer bool) error
}

// Record is one entry of the alert history.
type Record struct {
	Level        Level     `json:"level"`
	PPM          float64   `json:"ppm"`
	Acknowledged bool      `json:"acknowledged"`
	Timestamp    time.Time `json:"timestamp"`
}

// Description returns the human readable name of the alert.
func (r Record) Description() string {
	return r.Level.String()
}

// MarshalJSON adds the description to the encoded record.
func (r Record) MarshalJSON() ([]byte, error) {
	type record Record
	return json.Marshal(struct {
		record
		Description string `json:"description"`
	}{record(r), r.Description()})
}

// Pattern is a snapshot of the indicator lines.
type Pattern struct {
	Safe    bool `json:"safe"`
	Warning bool `json:"warning"`
	Danger  bool `json:"danger"`
	Buzzer  bool `json:"buzzer"`
}

// SafePattern is the all-clear output: safe on, hazards off.
var SafePattern = Pattern{Safe: true}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source for blink/beep timing and the alert timer.
func WithClock(clk clock.Clock) Option {
	return func(m *Machine) { m.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.log = logger }
}

// Machine is the alert state machine shared by all sensors of a detector.
// It is safe for concurrent use.
type Machine struct {
	timing config.AlertConfig
	out    Output
	clk    clock.Clock
	log    *slog.Logger

	mu         sync.RWMutex
	thresholds config.Thresholds
	current    Level
	previous   Level
	active     bool
	since      time.Time
	history    *ring.Ring[Record]

	// Indicator pattern state, polled by Handle
	blink     bool
	lastBlink time.Time
	lastBeep  time.Time

	// Serializes output writes; sent is the last pattern written
	outMu sync.Mutex
	sent  Pattern
	dirty bool
}

// New creates a machine using the thresholds and timing in cfg. A nil out
// discards indicator updates.
func New(cfg *config.Config, out Output, opts ...Option) *Machine {
	m := &Machine{
		timing:     cfg.Alert,
		out:        out,
		thresholds: cfg.Thresholds,
		history:    ring.New[Record](config.AlertLogSize),
		dirty:      true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clk == nil {
		m.clk = clock.Real{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// ProcessReading classifies ppm and transitions when the level changes.
// Entering a level above Safe appends a Record and starts the alert timer if
// it is not already running; returning to Safe stops it.
func (m *Machine) ProcessReading(ppm float64) Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	level := Classify(ppm, m.thresholds)
	if level == m.current {
		return level
	}

	m.previous = m.current
	m.current = level
	now := m.clk.Now()

	if level > Safe {
		if !m.active {
			m.active = true
			m.since = now
		}
		m.history.Push(Record{Level: level, PPM: ppm, Timestamp: now})
		m.log.Warn("alert level changed", "from", m.previous, "to", level, "ppm", ppm)
	} else {
		m.active = false
		m.since = time.Time{}
		m.log.Info("alert cleared", "from", m.previous, "ppm", ppm)
	}
	return level
}

// ClearAlerts forces the level back to Safe, stops the alert timer and drives
// the safe pattern. The history is kept.
func (m *Machine) ClearAlerts() error {
	m.mu.Lock()
	if m.current != Safe {
		m.previous = m.current
		m.current = Safe
		m.log.Info("alerts cleared by operator", "from", m.previous)
	}
	m.active = false
	m.since = time.Time{}
	m.blink = false
	m.mu.Unlock()

	return m.send(SafePattern, true)
}

// Handle updates the indicators for the current level. It is meant to be
// polled: blink and beep decisions compare the time since the last toggle
// against the configured intervals. The only blocking part is the buzzer
// pulse on Danger and Critical, which lasts BeepDuration.
func (m *Machine) Handle() error {
	m.mu.Lock()
	p, beep := m.pattern(m.clk.Now())
	m.mu.Unlock()

	if !beep {
		return m.send(p, false)
	}

	on := p
	on.Buzzer = true
	if err := m.send(on, false); err != nil {
		return err
	}
	m.clk.Sleep(m.timing.BeepDuration)

	// Alerts cleared during the pulse already forced the safe pattern
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		p = SafePattern
	}
	return m.send(p, false)
}

// pattern computes the indicator state at now and whether a buzzer pulse is
// due. Caller holds m.mu.
func (m *Machine) pattern(now time.Time) (Pattern, bool) {
	if !m.active {
		return SafePattern, false
	}

	var (
		p    Pattern
		beep bool
	)
	switch m.current {
	case Warning:
		m.toggle(now, m.timing.WarningBlink)
		p.Warning = m.blink
	case Danger, Critical:
		interval := m.timing.DangerBlink
		if m.current == Critical {
			interval = m.timing.CriticalBlink
		}
		m.toggle(now, interval)
		p.Danger = m.blink
		if now.Sub(m.lastBeep) > m.timing.BeepInterval {
			m.lastBeep = now
			beep = true
		}
	case Emergency:
		p.Danger = true
		p.Buzzer = true
	}
	return p, beep
}

func (m *Machine) toggle(now time.Time, interval time.Duration) {
	if now.Sub(m.lastBlink) > interval {
		m.blink = !m.blink
		m.lastBlink = now
	}
}

// send writes p unless it equals the last pattern written.
func (m *Machine) send(p Pattern, force bool) error {
	m.outMu.Lock()
	defer m.outMu.Unlock()

	if !force && !m.dirty && p == m.sent {
		return nil
	}
	if m.out != nil {
		if err := m.out.SetIndicators(p.Safe, p.Warning, p.Danger, p.Buzzer); err != nil {
			m.dirty = true
			return fmt.Errorf("failed to set indicators: %w", err)
		}
	}
	m.sent = p
	m.dirty = false
	return nil
}

// Indicators returns the last pattern written to the output.
func (m *Machine) Indicators() Pattern {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	return m.sent
}

// History returns the alert records, oldest first.
func (m *Machine) History() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Snapshot(nil)
}

// Count returns the number of records held (at most the log capacity).
func (m *Machine) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Len()
}

// Acknowledge marks the i-th oldest record as acknowledged.
func (m *Machine) Acknowledge(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.history.Update(i, func(r *Record) { r.Acknowledged = true }) {
		return fmt.Errorf("%w: index %d of %d", ErrNoSuchAlert, i, m.history.Len())
	}
	return nil
}

// Current returns the current level.
func (m *Machine) Current() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Previous returns the level before the last transition.
func (m *Machine) Previous() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previous
}

// Active reports whether an alert is in progress.
func (m *Machine) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Duration returns how long the current alert has been active, 0 when none.
func (m *Machine) Duration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return 0
	}
	return m.clk.Now().Sub(m.since)
}

// Thresholds returns the thresholds in effect.
func (m *Machine) Thresholds() config.Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// SetThresholds replaces the thresholds. The next reading is classified
// against them.
func (m *Machine) SetThresholds(t config.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
	return nil
}
