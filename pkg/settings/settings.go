package settings

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/itohio/gotdr/pkg/ramp"
	"github.com/itohio/gotdr/pkg/units"
)

// ErrConfiguration marks fatal configuration problems. Every error returned
// by this package wraps it.
var ErrConfiguration = errors.New("configuration error")

const (
	// DefaultNPoints is the number of samples per trace.
	DefaultNPoints = 2500
	// DefaultNAverages is the number of hardware averages per sample.
	DefaultNAverages = 2
	// DefaultSpacing is the sample pitch in ps.
	DefaultSpacing = 10
	// DefaultRampMode drives the ramp from supply A.
	DefaultRampMode = 1
	// DefaultRampSupply is the quad DAC code for the 3.3 V ramp supplies.
	DefaultRampSupply = 60075
	// RampADCMax is the full scale of the accumulated receive samples.
	RampADCMax = 1 << 16
)

// TraceSettings is the acquisition configuration sent to the instrument.
// Construct it with New; it is a value and is not mutated afterwards.
type TraceSettings struct {
	NPoints   int        `json:"npoints"`
	NAverages int        `json:"naverages"`
	Spacing   int        `json:"spacing"`
	IStart    int        `json:"i_start"`
	VBTX      float64    `json:"vbtx"`
	RampMode  int        `json:"ramp_mode"`
	RampModel ramp.Model `json:"ramp_model"`

	VA  int     `json:"va"`
	VA0 int     `json:"va0"`
	VB  int     `json:"vb"`
	VB0 int     `json:"vb0"`
	RA  float64 `json:"ra"`
	RB  float64 `json:"rb"`
	C   float64 `json:"c"`

	RampADCMax int `json:"ramp_adc_max"`
}

// aliases maps each canonical field to the keys it may arrive under. The
// first key present in the input wins.
var aliases = []struct {
	field string
	keys  []string
}{
	{"npoints", []string{"npoints", "points", "NPOINTS", "get_n_points", "POINTS?"}},
	{"naverages", []string{"naverages", "AVG", "get_n_averages", "AVG?"}},
	{"spacing", []string{"spacing", "SPACING", "get_spacing", "RES?"}},
	{"i_start", []string{"i_start", "ISTART", "get_i_start", "ISTART?"}},
	{"vbtx", []string{"vbtx", "VBTX", "get_vbtx", "VTX?"}},
	{"ramp_mode", []string{"ramp_mode", "ramp", "RAMP", "get_ramp_mode", "RAMP?"}},
	{"timing", []string{"TIMING", "get_timing_params", "TIMING?"}},
	{"ramp_model", []string{"ramp_model"}},
	{"va", []string{"va"}},
	{"va0", []string{"va0"}},
	{"vb", []string{"vb"}},
	{"vb0", []string{"vb0"}},
	{"ra", []string{"ra"}},
	{"rb", []string{"rb"}},
	{"c", []string{"c"}},
}

// resolveAliases returns the input keyed by canonical field names.
func resolveAliases(raw map[string]any) map[string]any {
	out := make(map[string]any, len(aliases))
	for _, a := range aliases {
		for _, k := range a.keys {
			if v, ok := raw[k]; ok && v != nil {
				out[a.field] = v
				break
			}
		}
	}
	return out
}

// Default returns the settings obtained from an empty input.
func Default() TraceSettings {
	s, _ := New(nil)
	return s
}

// New builds TraceSettings from raw key/value input, accepting the
// historical aliases of every field. Numbers may be Go numeric values or
// strings (as read back from the device). A timing string "<a> <rc> <bf> <m>"
// overrides ramp_model. Missing ramp_model and vbtx are defaulted; an unknown
// ramp mode is only reported by RampVMax.
func New(raw map[string]any) (TraceSettings, error) {
	in := resolveAliases(raw)

	s := TraceSettings{
		NPoints:    DefaultNPoints,
		NAverages:  DefaultNAverages,
		Spacing:    DefaultSpacing,
		RampMode:   DefaultRampMode,
		VA:         DefaultRampSupply,
		VB:         DefaultRampSupply,
		RA:         200,
		RB:         1000,
		C:          56e-12,
		VBTX:       units.TimingDac().ToCode(1.0),
		RampADCMax: RampADCMax,
	}

	timing, hasTiming := in["timing"]
	delete(in, "timing")
	_, hasModel := in["ramp_model"]

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(rampModelHook, numberHook),
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           &s,
	})
	if err != nil {
		return TraceSettings{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := dec.Decode(in); err != nil {
		return TraceSettings{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if hasTiming {
		str, ok := timing.(string)
		if !ok {
			return TraceSettings{}, fmt.Errorf("%w: timing must be a string, got %T", ErrConfiguration, timing)
		}
		m, err := ramp.ParseTiming(str)
		if err != nil {
			return TraceSettings{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		s.RampModel = m
		hasModel = true
	}

	if s.NPoints < 1 {
		return TraceSettings{}, fmt.Errorf("%w: npoints must be >= 1, got %d", ErrConfiguration, s.NPoints)
	}
	if s.NAverages < 1 {
		return TraceSettings{}, fmt.Errorf("%w: naverages must be >= 1, got %d", ErrConfiguration, s.NAverages)
	}

	if !hasModel {
		// Unknown modes keep a zero model; RampVMax reports them.
		if m, err := ramp.Nominal(s.RampMode); err == nil {
			s.RampModel = m
		}
	}

	return s, nil
}

// FromHeader builds settings from a verified device header, so the live
// TIMING? answer replaces the nominal ramp model.
func FromHeader(header map[string]string) (TraceSettings, error) {
	raw := make(map[string]any, len(header))
	for k, v := range header {
		raw[k] = v
	}
	return New(raw)
}

// WithRampModel returns a copy of s using m.
func (s TraceSettings) WithRampModel(m ramp.Model) TraceSettings {
	s.RampModel = m
	return s
}

// RampVMax returns the ramp supply code for the configured ramp mode. Mode 3
// blends both supplies through the RA/RB divider.
func (s TraceSettings) RampVMax() (float64, error) {
	va, vb := float64(s.VA), float64(s.VB)
	switch s.RampMode {
	case 1:
		return va, nil
	case 2:
		return vb, nil
	case 3:
		return vb + (va-vb)*s.RB/(s.RA+s.RB), nil
	}
	return 0, fmt.Errorf("%w: %w %d", ErrConfiguration, ramp.ErrUnknownMode, s.RampMode)
}

var modelType = reflect.TypeOf(ramp.Model{})

// rampModelHook accepts a ramp.Model, a pointer to one or a timing string
// for the ramp_model field. Anything else is left to the decoder.
func rampModelHook(from, to reflect.Type, data any) (any, error) {
	if to != modelType {
		return data, nil
	}
	switch m := data.(type) {
	case ramp.Model:
		return m, nil
	case *ramp.Model:
		if m == nil {
			return nil, fmt.Errorf("nil ramp model")
		}
		return *m, nil
	case string:
		return ramp.ParseTiming(m)
	}
	return data, nil
}

// numberHook parses padded number strings and rejects fractional values
// for integer fields.
func numberHook(from, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	case reflect.Float32, reflect.Float64:
		if str, ok := data.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
			if err != nil {
				return nil, fmt.Errorf("not a number: %q", str)
			}
			return f, nil
		}
		return data, nil
	default:
		return data, nil
	}

	var f float64
	switch from.Kind() {
	case reflect.String:
		str := strings.TrimSpace(reflect.ValueOf(data).String())
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			return n, nil
		}
		x, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", str)
		}
		f = x
	case reflect.Float32, reflect.Float64:
		f = reflect.ValueOf(data).Float()
	default:
		return data, nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, fmt.Errorf("not an integer: %v", f)
	}
	return int64(f), nil
}
