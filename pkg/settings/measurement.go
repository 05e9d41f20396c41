package settings

import "github.com/itohio/gotdr/pkg/units"

// MeasurementParams describes the ramp circuit in physical units. Set RB to a
// huge value when ramp B is tri-stated.
type MeasurementParams struct {
	VA    float64 // ramp supply A (V)
	VA0   float64
	VB    float64 // ramp supply B (V)
	VB0   float64
	Vref  float64 // DAC reference (V)
	RA    float64 // ramp A resistor (Ohm)
	RB    float64 // ramp B resistor (Ohm)
	C     float64 // ramp capacitor (F)
	TxSet float64 // transmit bias (V)
}

// DeviceSettings holds the device-ready values derived from MeasurementParams.
type DeviceSettings struct {
	VA    int
	VB    int
	RampB bool
}

// DefaultMeasurementParams returns the TDR01 reference circuit.
func DefaultMeasurementParams() MeasurementParams {
	return MeasurementParams{
		VA:    3.3,
		VB:    3.3,
		Vref:  units.DefaultVref,
		RA:    200,
		RB:    1000,
		C:     56e-12,
		TxSet: 1,
	}
}

// Dac returns the 16-bit DAC at the configured reference.
func (p MeasurementParams) Dac() units.Dac {
	return units.Dac{Vref: p.Vref, Bits: 16}
}

// QuadDac returns the 12-bit quad DAC at the configured reference.
func (p MeasurementParams) QuadDac() units.Dac {
	return units.Dac{Vref: p.Vref, Bits: 12}
}

// TxDac returns the transmit bias DAC code.
func (p MeasurementParams) TxDac() int {
	return int(p.Dac().ToCode(p.TxSet))
}

// RC returns the ramp time constant in ps using RA and RB in parallel.
func (p MeasurementParams) RC() float64 {
	return parallel(p.RA, p.RB) * p.C * 1e12
}

// ToSettings converts the supplies to quad DAC codes.
func (p MeasurementParams) ToSettings() DeviceSettings {
	q := p.QuadDac()
	return DeviceSettings{
		VA:    int(q.ToCode(p.VA)),
		VB:    int(q.ToCode(p.VB)),
		RampB: p.RB < 1e6,
	}
}

func parallel(a, b float64) float64 {
	if a+b == 0 {
		return 0
	}
	return a * b / (a + b)
}
