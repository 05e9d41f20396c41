package acquire

import (
	"fmt"

	"github.com/itohio/gotdr/pkg/settings"
)

// Trace is one acquisition: the settings in effect, the calibration array
// and the raw accumulated samples. RXDAC and Data have NPoints entries.
type Trace struct {
	Settings settings.TraceSettings
	RXDAC    []int
	Data     []int
}

// TNominal returns the sample times obtained by inverting the ramp model over
// the calibration array. Unsolvable samples are NaN.
func (t Trace) TNominal() []float64 {
	return t.Settings.RampModel.CalcTimes(t.RXDAC)
}

// Volts scales the accumulated samples by rampVMax/(naverages*adcMax). It
// fails for an unknown ramp mode or fewer than one average.
func (t Trace) Volts() ([]float64, error) {
	vmax, err := t.Settings.RampVMax()
	if err != nil {
		return nil, err
	}
	if t.Settings.NAverages < 1 {
		return nil, fmt.Errorf("%w: naverages must be >= 1, got %d", settings.ErrConfiguration, t.Settings.NAverages)
	}
	adcMax := t.Settings.RampADCMax
	if adcMax == 0 {
		adcMax = settings.RampADCMax
	}
	scale := vmax / float64(t.Settings.NAverages*adcMax)

	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v) * scale
	}
	return out, nil
}
