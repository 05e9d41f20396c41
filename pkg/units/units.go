package units

import "math"

const (
	// DefaultVref is the reference voltage shared by the TDR01 converters.
	DefaultVref = 3.6
)

// Dac describes a fixed-point DAC with a reference voltage and bit width.
type Dac struct {
	Vref float64
	Bits int
}

// Adc describes a fixed-point ADC with a reference voltage and bit width.
type Adc struct {
	Vref float64
	Bits int
}

// TimingDac returns the 16-bit DAC driving the ramp and transmit bias.
func TimingDac() Dac {
	return Dac{Vref: DefaultVref, Bits: 16}
}

// QuadDac returns the 12-bit quad DAC used for the ramp supply voltages.
func QuadDac() Dac {
	return Dac{Vref: DefaultVref, Bits: 12}
}

// DefaultAdc returns the 12-bit receive ADC.
func DefaultAdc() Adc {
	return Adc{Vref: DefaultVref, Bits: 12}
}

// Codes returns the number of distinct codes (2^Bits).
func (d Dac) Codes() int {
	return 1 << d.Bits
}

// Max returns the largest valid code.
func (d Dac) Max() int {
	return d.Codes() - 1
}

// ToVolts converts a DAC code to volts.
func (d Dac) ToVolts(code float64) float64 {
	return code / float64(d.Codes()) * d.Vref
}

// ToCodeF converts volts to a fractional DAC code.
func (d Dac) ToCodeF(volts float64) float64 {
	return volts / d.Vref * float64(d.Codes())
}

// ToCode converts volts to the nearest DAC code. No range clamping is done.
func (d Dac) ToCode(volts float64) float64 {
	return math.Round(d.ToCodeF(volts))
}

// ToVoltsAll converts a batch of codes, preserving order and length.
func (d Dac) ToVoltsAll(codes []int) []float64 {
	return toVolts(codes, d.Codes(), d.Vref)
}

// Codes returns the number of distinct codes (2^Bits).
func (a Adc) Codes() int {
	return 1 << a.Bits
}

// Max returns the largest valid code.
func (a Adc) Max() int {
	return a.Codes() - 1
}

// ToVolts converts an ADC code to volts.
func (a Adc) ToVolts(code float64) float64 {
	return code / float64(a.Codes()) * a.Vref
}

// ToCode converts volts to the nearest ADC code.
func (a Adc) ToCode(volts float64) float64 {
	return math.Round(volts / a.Vref * float64(a.Codes()))
}

// ToVoltsAll converts a batch of codes, preserving order and length.
func (a Adc) ToVoltsAll(codes []int) []float64 {
	return toVolts(codes, a.Codes(), a.Vref)
}

func toVolts(codes []int, n int, vref float64) []float64 {
	out := make([]float64, len(codes))
	for i, c := range codes {
		out[i] = float64(c) / float64(n) * vref
	}
	return out
}
