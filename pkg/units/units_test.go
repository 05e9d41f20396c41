package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDac_Codes(t *testing.T) {
	tests := []struct {
		name      string
		dac       Dac
		wantCodes int
		wantMax   int
	}{
		{"timing dac", TimingDac(), 65536, 65535},
		{"quad dac", QuadDac(), 4096, 4095},
		{"8 bit", Dac{Vref: 5, Bits: 8}, 256, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCodes, tt.dac.Codes())
			assert.Equal(t, tt.wantMax, tt.dac.Max())
		})
	}
}

func TestDac_ToCode(t *testing.T) {
	dac := TimingDac()

	// 1.0/3.6*65536 = 18204.44
	assert.Equal(t, float64(18204), dac.ToCode(1.0))
	assert.InDelta(t, 18204.44, dac.ToCodeF(1.0), 0.01)
	assert.Equal(t, float64(0), dac.ToCode(0))
	assert.InDelta(t, 1.0, dac.ToVolts(dac.ToCodeF(1.0)), 1e-12)
}

func TestDac_RoundTrip(t *testing.T) {
	for _, dac := range []Dac{TimingDac(), QuadDac(), {Vref: 3.3, Bits: 10}} {
		for code := 0; code < dac.Codes(); code++ {
			got := dac.ToCode(dac.ToVolts(float64(code)))
			if got != float64(code) {
				t.Fatalf("%+v: round trip of %d gave %v", dac, code, got)
			}
		}
	}
}

func TestAdc_RoundTrip(t *testing.T) {
	adc := DefaultAdc()
	assert.Equal(t, 4096, adc.Codes())
	assert.Equal(t, 4095, adc.Max())

	for code := 0; code < adc.Codes(); code++ {
		got := adc.ToCode(adc.ToVolts(float64(code)))
		if got != float64(code) {
			t.Fatalf("round trip of %d gave %v", code, got)
		}
	}
}

func TestToVoltsAll(t *testing.T) {
	adc := DefaultAdc()
	got := adc.ToVoltsAll([]int{0, 2048, 4096})
	assert.Equal(t, []float64{0, 1.8, 3.6}, got)

	dac := QuadDac()
	assert.Len(t, dac.ToVoltsAll(nil), 0)
	assert.InDelta(t, 0.9, dac.ToVoltsAll([]int{1024})[0], 1e-12)
}

func TestToVolts_NonFinitePropagates(t *testing.T) {
	dac := TimingDac()
	assert.True(t, math.IsNaN(dac.ToVolts(math.NaN())))
	assert.True(t, math.IsInf(dac.ToCode(math.Inf(1)), 1))
}
