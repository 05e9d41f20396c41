package waveform

import (
	"fmt"
	"math"

	"github.com/itohio/gotdr/pkg/units"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ADCVolts converts accumulated receive samples to volts for display:
// adc.ToVolts(code) / naverages.
func ADCVolts(trace []int, adc units.Adc, naverages int) []float64 {
	if naverages < 1 {
		naverages = 1
	}
	out := adc.ToVoltsAll(trace)
	floats.Scale(1/float64(naverages), out)
	return out
}

// TimeAxis returns n evenly spaced sample times starting at zero.
func TimeAxis(n int, spacing float64) []float64 {
	switch {
	case n <= 0:
		return []float64{}
	case n == 1:
		return []float64{0}
	}
	return floats.Span(make([]float64, n), 0, spacing*float64(n-1))
}

// Average returns the element-wise mean of equally long traces.
func Average(traces [][]float64) ([]float64, error) {
	if len(traces) == 0 {
		return nil, fmt.Errorf("no traces to average")
	}
	n := len(traces[0])
	out := make([]float64, n)
	for i, tr := range traces {
		if len(tr) != n {
			return nil, fmt.Errorf("trace %d has %d samples, want %d", i, len(tr), n)
		}
		floats.Add(out, tr)
	}
	floats.Scale(1/float64(len(traces)), out)
	return out, nil
}

// Stats summarises the finite values of a trace.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	N      int // finite values
}

// Summarize computes Stats over v, skipping NaN and Inf.
func Summarize(v []float64) Stats {
	finite := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			finite = append(finite, x)
		}
	}
	if len(finite) == 0 {
		nan := math.NaN()
		return Stats{Min: nan, Max: nan, Mean: nan, StdDev: nan}
	}

	mean, std := stat.MeanStdDev(finite, nil)
	if len(finite) == 1 {
		std = 0
	}
	return Stats{
		Min:    floats.Min(finite),
		Max:    floats.Max(finite),
		Mean:   mean,
		StdDev: std,
		N:      len(finite),
	}
}
