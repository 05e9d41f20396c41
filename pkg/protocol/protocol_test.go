package protocol

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/itohio/gotdr/pkg/ramp"
	"github.com/itohio/gotdr/pkg/settings"
	"github.com/itohio/gotdr/pkg/tdr"
	"github.com/itohio/gotdr/pkg/tdr/tdrtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceSettings(t *testing.T) settings.TraceSettings {
	t.Helper()
	s, err := settings.New(map[string]any{
		"npoints":    2000,
		"spacing":    10,
		"i_start":    5,
		"naverages":  4,
		"ramp_mode":  1,
		"ramp_model": ramp.Model{A: 60075, RC: 16510},
	})
	require.NoError(t, err)
	return s
}

// answering returns a link that echoes the values of s.
func answering(s settings.TraceSettings) *tdrtest.Link {
	return tdrtest.New().
		Answer("RES?", "10").
		Answer("ISTART?", "5").
		Answer("POINTS?", "2000").
		Answer("TIMING?", "60075 16510 0 0").
		Answer("AVG?", "4").
		Answer("VTX?", "18204").
		Answer("RAMP?", "1").
		Answer("*IDN?", "EOI,TDR01,1234,1.0")
}

func TestApply_WriteOrder(t *testing.T) {
	s := deviceSettings(t)

	tests := []struct {
		name      string
		setTiming bool
		want      []string
	}{
		{
			name: "without timing",
			want: []string{"E 0", "POINTS 2000", "RES 10", "ISTART 5", "AVG 4", "VTX 18204", "RAMP 1"},
		},
		{
			name:      "with timing",
			setTiming: true,
			want:      []string{"E 0", "POINTS 2000", "RES 10", "ISTART 5", "AVG 4", "VTX 18204", "RAMP 1", "TIMING 60075 16510 0 0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := answering(s)
			header, err := Apply(link, s, tt.setTiming)
			require.NoError(t, err)

			assert.Equal(t, tt.want, link.Writes())
			assert.Equal(t, Queries, link.Queries())
			assert.Len(t, header, 8)
			assert.Empty(t, header.Mismatches(s))
		})
	}
}

func TestApply_FlushesAroundEveryExchange(t *testing.T) {
	s := deviceSettings(t)
	link := answering(s)

	_, err := Apply(link, s, false)
	require.NoError(t, err)

	ops := link.Ops()
	require.NotEmpty(t, ops)
	assert.Equal(t, "flush", ops[0].Kind)
	for i, op := range ops {
		if op.Kind == "flush" {
			continue
		}
		require.Less(t, i+1, len(ops))
		assert.Equal(t, "flush", ops[i+1].Kind, "%s %q not followed by flush", op.Kind, op.Cmd)
	}
}

func TestApply_HeaderKeptOnMismatch(t *testing.T) {
	s := deviceSettings(t)
	link := answering(s).
		Answer("POINTS?", "1000").
		Answer("TIMING?", "60075 9000 0 0").
		Answer("VTX?", "garbage")

	var buf bytes.Buffer
	p := &Protocol{Logger: log.New(&buf, "", 0)}
	header, err := p.Apply(link, s, true)
	require.NoError(t, err)

	for _, q := range Queries {
		assert.Contains(t, header, q)
	}
	assert.Equal(t, "EOI,TDR01,1234,1.0", header.IDN())

	mm := header.Mismatches(s)
	var queries []string
	for _, m := range mm {
		queries = append(queries, m.Query)
	}
	assert.ElementsMatch(t, []string{"POINTS?", "TIMING?", "VTX?"}, queries)
	assert.Contains(t, buf.String(), "POINTS? sent 2000")
}

func TestApply_RejectsSmallAmplitude(t *testing.T) {
	s := settings.Default() // nominal model, a = 3.3
	link := answering(s)

	_, err := Apply(link, s, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, settings.ErrConfiguration))
	assert.Empty(t, link.Ops(), "nothing is sent to the device")
}

func TestApply_QueryTimeout(t *testing.T) {
	s := deviceSettings(t)
	link := tdrtest.New().Answer("RES?", "10")

	_, err := Apply(link, s, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, tdr.ErrTimeout)
}

func TestApply_Debug(t *testing.T) {
	s := deviceSettings(t)
	var buf bytes.Buffer
	p := &Protocol{Logger: log.New(&buf, "", 0), Debug: true}

	_, err := p.Apply(answering(s), s, false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "> POINTS 2000")
	assert.Contains(t, buf.String(), "< *IDN? EOI,TDR01,1234,1.0")
}

func TestHeader_Timing(t *testing.T) {
	h := Header{"TIMING?": "60075 16510 12 0.5"}
	m, err := h.Timing()
	require.NoError(t, err)
	assert.Equal(t, ramp.Model{A: 60075, RC: 16510, BF: 12, M: 0.5}, m)

	_, err = Header{}.Timing()
	assert.ErrorIs(t, err, ramp.ErrInvalidTiming)
}

func TestApply_Sim(t *testing.T) {
	s := deviceSettings(t)
	sim := tdr.NewSim(nil)

	header, err := Apply(sim, s, true)
	require.NoError(t, err)
	assert.Empty(t, header.Mismatches(s))
	assert.Equal(t, "EOI,TDR01,SIM,1.0", header.IDN())
	assert.False(t, sim.Streaming())
}
