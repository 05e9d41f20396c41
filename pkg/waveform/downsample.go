package waveform

// Downsample decimates src to at most maxPoints elements for display.
// It reuses dst when its capacity suffices and returns the result. Inputs
// no longer than maxPoints are copied unchanged.
func Downsample[S ~[]E, E any](dst, src S, maxPoints int) S {
	n := len(src)
	if maxPoints <= 0 || n <= maxPoints {
		if cap(dst) < n {
			dst = make(S, n)
		}
		dst = dst[:n]
		copy(dst, src)
		return dst
	}

	if cap(dst) < maxPoints {
		dst = make(S, 0, maxPoints)
	}
	dst = dst[:0]

	step := float64(n) / float64(maxPoints)
	for i := range maxPoints {
		dst = append(dst, src[int(float64(i)*step)])
	}
	return dst
}

// Point is one display sample.
type Point struct {
	T float64
	V float64
}

// Points zips times and values, stopping at the shorter slice.
func Points(t, v []float64) []Point {
	n := min(len(t), len(v))
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{T: t[i], V: v[i]}
	}
	return out
}
