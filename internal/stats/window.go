// ABOUTME: Rolling mean and standard deviation over the most recent values
// ABOUTME: Used to report jitter of published clock offsets across waves
package stats

import (
	"math"

	"github.com/ddirect/container/fifo"
	"golang.org/x/exp/constraints"
)

// Window keeps the last size values of a signed integer series.
// Mean and StdDev work on distances from the oldest value so that a large
// common base does not cost float64 precision.
// Not safe for concurrent use.
type Window[T constraints.Signed] struct {
	values fifo.Fifo[T]
	size   int
}

// NewWindow creates a window holding at most size values
func NewWindow[T constraints.Signed](size int) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{size: size}
}

// Add appends x, evicting the oldest value when the window is full
func (w *Window[T]) Add(x T) {
	for w.values.Len() >= w.size {
		w.values.Dequeue()
	}
	w.values.Enqueue(x)
}

// Reset drops every value
func (w *Window[T]) Reset() {
	for w.values.Len() > 0 {
		w.values.Dequeue()
	}
}

// Len returns the number of values held
func (w *Window[T]) Len() int {
	return w.values.Len()
}

// each visits the values oldest first, leaving the window unchanged
func (w *Window[T]) each(f func(T)) {
	for range w.values.Len() {
		x, _ := w.values.Dequeue()
		f(x)
		w.values.Enqueue(x)
	}
}

// moments returns the oldest value, the mean distance from it and the sum
// of squared deviations from the mean
func (w *Window[T]) moments() (base T, mean, m2 float64) {
	first := true
	var n float64
	w.each(func(x T) {
		if first {
			base, first = x, false
		}
		// Welford update on the distance from base
		d := float64(x - base)
		n++
		delta := d - mean
		mean += delta / n
		m2 += delta * (d - mean)
	})
	return base, mean, m2
}

// Mean returns the average of the held values, zero when empty
func (w *Window[T]) Mean() T {
	if w.values.Len() == 0 {
		return 0
	}
	base, mean, _ := w.moments()
	return base + T(math.Round(mean))
}

// StdDev returns the sample standard deviation, zero with fewer than two values
func (w *Window[T]) StdDev() T {
	n := w.values.Len()
	if n < 2 {
		return 0
	}
	_, _, m2 := w.moments()
	return T(math.Round(math.Sqrt(m2 / float64(n-1))))
}
