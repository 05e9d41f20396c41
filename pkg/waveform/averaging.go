package waveform

import "gonum.org/v1/gonum/floats"

// Averager keeps the last Window traces and returns their mean. A trace of a
// different length restarts the window.
type Averager struct {
	window int
	buffer [][]float64
}

// NewAverager creates an averager over window traces. Window <= 0 means no
// averaging.
func NewAverager(window int) *Averager {
	if window <= 0 {
		window = 1
	}
	return &Averager{window: window}
}

// Add appends a trace, dropping the oldest once the window is full.
func (a *Averager) Add(trace []float64) {
	if len(a.buffer) > 0 && len(a.buffer[0]) != len(trace) {
		a.buffer = a.buffer[:0]
	}
	a.buffer = append(a.buffer, trace)
	if len(a.buffer) > a.window {
		a.buffer = a.buffer[1:]
	}
}

// Len returns the number of traces in the window.
func (a *Averager) Len() int {
	return len(a.buffer)
}

// Mean returns the mean of the buffered traces, or nil when empty.
func (a *Averager) Mean() []float64 {
	if len(a.buffer) == 0 {
		return nil
	}
	out := make([]float64, len(a.buffer[0]))
	for _, tr := range a.buffer {
		floats.Add(out, tr)
	}
	floats.Scale(1/float64(len(a.buffer)), out)
	return out
}

// Reset empties the window.
func (a *Averager) Reset() {
	a.buffer = a.buffer[:0]
}
