package alert

import (
	"fmt"
	"strings"

	"github.com/itohio/gogas/pkg/config"
)

// Level is a severity band. Levels are totally ordered.
type Level int

const (
	Safe Level = iota
	Warning
	Danger
	Critical
	Emergency
)

var levelNames = [...]string{
	Safe:      "Safe",
	Warning:   "Warning",
	Danger:    "Danger",
	Critical:  "Critical",
	Emergency: "Emergency",
}

// Levels lists every level in ascending order.
func Levels() []Level {
	return []Level{Safe, Warning, Danger, Critical, Emergency}
}

// String returns the level name.
func (l Level) String() string {
	if l < Safe || l > Emergency {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel looks a level up by name, ignoring case.
func ParseLevel(name string) (Level, error) {
	for _, l := range Levels() {
		if strings.EqualFold(levelNames[l], name) {
			return l, nil
		}
	}
	return Safe, fmt.Errorf("unknown alert level %q", name)
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(text []byte) error {
	v, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Classify maps ppm onto a level. A value equal to a threshold belongs to the
// higher band.
func Classify(ppm float64, t config.Thresholds) Level {
	switch {
	case ppm < t.Safe:
		return Safe
	case ppm < t.Warning:
		return Warning
	case ppm < t.Danger:
		return Danger
	case ppm < t.Critical:
		return Critical
	default:
		return Emergency
	}
}
