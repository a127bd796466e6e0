package sensor

import (
	"math"

	"github.com/itohio/gogas/pkg/ring"
)

// Filter smooths concentration over a fixed window of recent valid readings
// and scores their dispersion. Filter is not safe for concurrent use.
type Filter struct {
	history *ring.Ring[float64]
}

// NewFilter creates a filter over the last size readings.
func NewFilter(size int) *Filter {
	return &Filter{history: ring.New[float64](size)}
}

// Add pushes ppm into the window, evicting the oldest value when full.
func (f *Filter) Add(ppm float64) {
	f.history.Push(ppm)
}

// Len returns the number of values held.
func (f *Filter) Len() int {
	return f.history.Len()
}

// Last returns the most recently added value or 0.
func (f *Filter) Last() float64 {
	v, _ := f.history.Last()
	return v
}

// Values returns the window oldest first.
func (f *Filter) Values() []float64 {
	return f.history.Snapshot(nil)
}

// Reset empties the window.
func (f *Filter) Reset() {
	f.history.Reset()
}

// Mean returns the arithmetic mean of the window, 0 when empty.
func (f *Filter) Mean() float64 {
	n := f.history.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	f.history.Do(func(v float64) { sum += v })
	return sum / float64(n)
}

// StdDev returns the population standard deviation of the window, 0 with
// fewer than two values.
func (f *Filter) StdDev() float64 {
	n := f.history.Len()
	if n < 2 {
		return 0
	}
	mean := f.Mean()
	var sq float64
	f.history.Do(func(v float64) {
		d := v - mean
		sq += d * d
	})
	return math.Sqrt(sq / float64(n))
}

// Quality maps the window dispersion onto 0-100.
func (f *Filter) Quality() int {
	q := 100 - int(f.StdDev()*10)
	return max(0, min(100, q))
}

// Apply returns r with its concentration replaced by the window mean and its
// quality by the dispersion score.
func (f *Filter) Apply(r Reading) Reading {
	r.PPM = f.Mean()
	r.Quality = f.Quality()
	return r
}
