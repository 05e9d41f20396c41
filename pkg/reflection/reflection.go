package reflection

import (
	"math"
)

// SpeedOfLight in metres per picosecond.
const SpeedOfLight = 299792458e-12

// Config controls edge detection.
type Config struct {
	// Threshold is the minimum |dv/dt| of an edge, in volts per time unit.
	Threshold float64
	// MinWidth drops edges shorter than this, in time units.
	MinWidth float64
	// MaxGap merges runs of the same sign separated by at most this many
	// sub-threshold derivatives.
	MaxGap int
}

// Edge is a step in a trace: a run of samples with a steep derivative of one
// sign.
type Edge struct {
	StartIndex int
	EndIndex   int
	StartTime  float64
	EndTime    float64
	Step       float64 // v[EndIndex] - v[StartIndex]
	Rising     bool
}

// Width returns the edge duration.
func (e Edge) Width() float64 {
	return e.EndTime - e.StartTime
}

// Derivative returns dv/dt between consecutive samples, n-1 values for n
// samples. Pairs with a non-positive or undefined dt yield NaN.
func Derivative(t, v []float64) []float64 {
	n := min(len(t), len(v))
	if n < 2 {
		return []float64{}
	}

	out := make([]float64, n-1)
	for i := range out {
		dt := t[i+1] - t[i]
		if !(dt > 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = (v[i+1] - v[i]) / dt
	}
	return out
}

// Find locates the edges of a trace sampled at times t.
func Find(t, v []float64, cfg Config) []Edge {
	d := Derivative(t, v)

	var edges []Edge
	start, last, sign := -1, -1, 0
	flush := func() {
		if start < 0 {
			return
		}
		e := Edge{
			StartIndex: start,
			EndIndex:   last + 1,
			StartTime:  t[start],
			EndTime:    t[last+1],
			Step:       v[last+1] - v[start],
		}
		e.Rising = e.Step > 0
		if e.Width() >= cfg.MinWidth {
			edges = append(edges, e)
		}
		start, last, sign = -1, -1, 0
	}

	for i, x := range d {
		s := 0
		if !math.IsNaN(x) && math.Abs(x) > cfg.Threshold {
			s = 1
			if x < 0 {
				s = -1
			}
		}

		switch {
		case s == 0:
			if start >= 0 && i-last > cfg.MaxGap {
				flush()
			}
		case s == sign && i-last-1 <= cfg.MaxGap:
			last = i
		default:
			flush()
			start, last, sign = i, i, s
		}
	}
	flush()

	return edges
}

// Rho returns the reflection coefficients of the edges after the first,
// relative to the first (incident) edge.
func Rho(edges []Edge) []float64 {
	if len(edges) < 2 || edges[0].Step == 0 {
		return []float64{}
	}
	out := make([]float64, len(edges)-1)
	for i, e := range edges[1:] {
		out[i] = e.Step / edges[0].Step
	}
	return out
}

// Impedance returns the load impedance seen through a line of impedance z0
// for reflection coefficient rho. It is +Inf for rho = 1 (open).
func Impedance(z0, rho float64) float64 {
	if rho >= 1 {
		return math.Inf(1)
	}
	return z0 * (1 + rho) / (1 - rho)
}

// Distance converts a round trip delay in ps to the one-way distance in
// metres for a cable with the given velocity factor.
func Distance(delay, velocityFactor float64) float64 {
	return delay * SpeedOfLight * velocityFactor / 2
}
