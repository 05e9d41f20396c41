package acquire

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"testing"
	"time"

	"github.com/itohio/gotdr/pkg/ramp"
	"github.com/itohio/gotdr/pkg/settings"
	"github.com/itohio/gotdr/pkg/tdr"
	"github.com/itohio/gotdr/pkg/tdr/tdrtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietEngine() (*Engine, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Engine{Logger: log.New(&buf, "", 0)}, &buf
}

func seq(n, start int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func TestAcquireTrace(t *testing.T) {
	e, logs := quietEngine()

	link := tdrtest.New().Series("TRACE", seq(4, 0), seq(3, 0))

	data, err := e.AcquireTrace(link, 4, "TRACE")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, data)

	data, err = e.AcquireTrace(link, 4, "TRACE")
	assert.Nil(t, data, "short data is not padded")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLengthMismatch))
	var lm *LengthMismatchError
	require.True(t, errors.As(err, &lm))
	assert.Equal(t, 3, lm.Got)
	assert.Equal(t, 4, lm.Expected)
	assert.Contains(t, logs.String(), "error: TRACE: got 3 values, expected 4")
}

func TestAcquireUntilValid_RetriesLengthMismatch(t *testing.T) {
	e, logs := quietEngine()
	link := tdrtest.New().Series("TRACE", seq(5, 0), seq(7, 0), seq(6, 10))

	data, err := e.AcquireUntilValid(context.Background(), link, 6, "TRACE")
	require.NoError(t, err)
	assert.Equal(t, seq(6, 10), data)
	assert.Equal(t, 3, link.Count("TRACE"))
	assert.Equal(t, 2, bytes.Count(logs.Bytes(), []byte("error:")))
}

func TestAcquireUntilValid_RetriesTimeout(t *testing.T) {
	e, logs := quietEngine()
	link := tdrtest.New().
		Fail("RXDAC?", tdr.ErrTimeout).
		Fail("RXDAC?", tdr.ErrTimeout).
		Series("RXDAC?", seq(3, 0))

	data, err := e.AcquireUntilValid(context.Background(), link, 3, "RXDAC?")
	require.NoError(t, err)
	assert.Len(t, data, 3)
	assert.Equal(t, 3, link.Count("RXDAC?"))
	assert.Contains(t, logs.String(), "error: RXDAC? timed out (attempt 2)")

	// A flush separates every retry from the previous attempt.
	ops := link.Ops()
	assert.Equal(t, []tdrtest.Op{
		{Kind: "query", Cmd: "RXDAC?"},
		{Kind: "flush"},
		{Kind: "query", Cmd: "RXDAC?"},
		{Kind: "flush"},
		{Kind: "query", Cmd: "RXDAC?"},
	}, ops)
}

func TestAcquireUntilValid_ParseErrorPropagates(t *testing.T) {
	e, _ := quietEngine()
	link := tdrtest.New().Answer("TRACE", "1,2,oops")

	_, err := e.AcquireUntilValid(context.Background(), link, 3, "TRACE")
	var perr *tdr.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, link.Count("TRACE"), "parse errors are not retried")
}

func TestAcquireUntilValid_MaxAttempts(t *testing.T) {
	e, _ := quietEngine()
	e.MaxAttempts = 4
	link := tdrtest.New().Series("TRACE", seq(2, 0))

	_, err := e.AcquireUntilValid(context.Background(), link, 3, "TRACE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.Equal(t, 4, link.Count("TRACE"))
}

func TestAcquireUntilValid_Cancelled(t *testing.T) {
	e, _ := quietEngine()
	link := tdrtest.New() // every query times out

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.AcquireUntilValid(ctx, link, 3, "TRACE")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, link.Count("TRACE"), 0)
}

func batchSettings(t *testing.T, npoints int) settings.TraceSettings {
	t.Helper()
	s, err := settings.New(map[string]any{
		"npoints":    npoints,
		"ramp_model": ramp.Model{A: 60075, RC: 16510},
	})
	require.NoError(t, err)
	return s
}

func headerLink(npoints string) *tdrtest.Link {
	return tdrtest.New().
		Answer("RES?", "10").
		Answer("ISTART?", "0").
		Answer("POINTS?", npoints).
		Answer("TIMING?", "60000 15000 0 0").
		Answer("AVG?", "2").
		Answer("VTX?", "18204").
		Answer("RAMP?", "1").
		Answer("*IDN?", "EOI,TDR01,1,1.0")
}

func TestAcquireBatch(t *testing.T) {
	e, _ := quietEngine()
	s := batchSettings(t, 5)
	link := headerLink("5").
		Series("RXDAC?", seq(4, 0), seq(5, 100)).
		Series("TRACE", seq(5, 0), seq(5, 10), seq(6, 0), seq(5, 20))

	traces, header, err := e.AcquireBatch(context.Background(), link, s, 3, time.Millisecond, false)
	require.NoError(t, err)
	assert.Equal(t, "EOI,TDR01,1,1.0", header.IDN())

	require.Len(t, traces, 3)
	for _, tr := range traces {
		assert.Len(t, tr.RXDAC, s.NPoints)
		assert.Len(t, tr.Data, s.NPoints)
		assert.Equal(t, seq(5, 100), tr.RXDAC)
		assert.Equal(t, ramp.Model{A: 60000, RC: 15000}, tr.Settings.RampModel, "live timing replaces the configured model")
	}
	assert.Equal(t, seq(5, 0), traces[0].Data)
	assert.Equal(t, seq(5, 10), traces[1].Data)
	assert.Equal(t, seq(5, 20), traces[2].Data)
	assert.Equal(t, 2, link.Count("RXDAC?"), "calibration is read once per batch, retried on mismatch")
}

func TestAcquireBatch_CustomCommand(t *testing.T) {
	e, _ := quietEngine()
	e.Command = "TRACE?"
	s := batchSettings(t, 2)
	link := headerLink("2").
		Series("RXDAC?", seq(2, 0)).
		Series("TRACE?", seq(2, 5))

	traces, _, err := e.AcquireBatch(context.Background(), link, s, 1, 0, false)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, 0, link.Count("TRACE"))
	assert.Equal(t, 1, link.Count("TRACE?"))
}

func TestAcquireBatch_ConfigurationError(t *testing.T) {
	e, _ := quietEngine()
	link := headerLink("2500")

	_, _, err := e.AcquireBatch(context.Background(), link, settings.Default(), 1, 0, true)
	assert.ErrorIs(t, err, settings.ErrConfiguration)
	assert.Empty(t, link.Queries())
}

func TestAcquireBatch_Sim(t *testing.T) {
	e, _ := quietEngine()
	s := batchSettings(t, 200)
	sim := tdr.NewSim(nil)

	traces, header, err := e.AcquireBatch(context.Background(), sim, s, 2, 0, true)
	require.NoError(t, err)
	assert.Equal(t, "200", header["POINTS?"])
	require.Len(t, traces, 2)

	tn := traces[0].TNominal()
	require.Len(t, tn, 200)
	assert.InDelta(t, 0, tn[0], 1e-9)
	// The simulated calibration follows the same ramp, so the inversion
	// recovers the sample times up to code rounding.
	assert.InDelta(t, 1990, tn[199], 5)

	v, err := traces[0].Volts()
	require.NoError(t, err)
	for _, x := range v {
		assert.False(t, math.IsNaN(x))
		assert.LessOrEqual(t, x, 60075.0)
	}
}

func TestTrace_Volts(t *testing.T) {
	s := batchSettings(t, 3)
	tr := Trace{Settings: s, Data: []int{0, 2 * 65536, 65536}}

	v, err := tr.Volts()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 60075, 60075.0 / 2}, v, 1e-9)

	tr.Settings.RampMode = 7
	_, err = tr.Volts()
	assert.ErrorIs(t, err, ramp.ErrUnknownMode)
}

func TestTrace_VoltsZeroAverages(t *testing.T) {
	tr := Trace{
		Settings: settings.TraceSettings{RampMode: 1, VA: 60075},
		Data:     []int{1, 2, 3},
	}
	v, err := tr.Volts()
	assert.Nil(t, v)
	assert.ErrorIs(t, err, settings.ErrConfiguration)
}

func TestTrace_TNominalNaN(t *testing.T) {
	tr := Trace{
		Settings: settings.TraceSettings{RampModel: ramp.Model{A: 100, RC: 1000}},
		RXDAC:    []int{0, 50, 100, 150},
	}
	tn := tr.TNominal()
	require.Len(t, tn, 4)
	assert.Equal(t, 0.0, tn[0])
	assert.InDelta(t, 1000*math.Ln2, tn[1], 1e-9)
	assert.True(t, math.IsNaN(tn[2]))
	assert.True(t, math.IsNaN(tn[3]))
}

func TestCalibrate(t *testing.T) {
	e, logs := quietEngine()
	s := batchSettings(t, 3)
	link := headerLink("3").
		Answer("TIMING?", "garbage").
		Series("RXDAC?", seq(3, 7))

	got, rxdac, header, err := e.Calibrate(context.Background(), link, s, false)
	require.NoError(t, err)
	assert.Equal(t, seq(3, 7), rxdac)
	assert.Equal(t, "garbage", header["TIMING?"])
	assert.Equal(t, s.RampModel, got.RampModel, "unparsable timing keeps the configured model")
	assert.Contains(t, logs.String(), "Keeping configured ramp model")
	assert.Equal(t, 0, link.Count("TRACE"))
}

func TestCalibrate_SmallDeviceAmplitude(t *testing.T) {
	e, logs := quietEngine()
	s := batchSettings(t, 3)
	link := headerLink("3").
		Answer("TIMING?", "3.3 16510 0 0").
		Series("RXDAC?", seq(3, 0))

	got, _, _, err := e.Calibrate(context.Background(), link, s, false)
	require.NoError(t, err)
	assert.Equal(t, s.RampModel, got.RampModel, "amplitude in volts keeps the configured model")
	assert.Contains(t, logs.String(), "Keeping configured ramp model: device ramp amplitude 3.3 is not above 10")
}
