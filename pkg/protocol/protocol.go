package protocol

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/itohio/gotdr/pkg/ramp"
	"github.com/itohio/gotdr/pkg/settings"
	"github.com/itohio/gotdr/pkg/tdr"
)

// MinRampAmplitude is the smallest ramp amplitude accepted by Apply. Smaller
// values are volts rather than DAC codes and would break the inversion.
const MinRampAmplitude = 10

// Verification queries, in the order they are issued.
var Queries = []string{"RES?", "ISTART?", "POINTS?", "TIMING?", "AVG?", "VTX?", "RAMP?", "*IDN?"}

// Header maps each verification query to the device's answer.
type Header map[string]string

// IDN returns the instrument identification.
func (h Header) IDN() string {
	return h["*IDN?"]
}

// Timing parses the TIMING? answer.
func (h Header) Timing() (ramp.Model, error) {
	return ramp.ParseTiming(h["TIMING?"])
}

// Mismatch is a verified value that differs from the one sent.
type Mismatch struct {
	Query string
	Sent  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s sent %s, device reports %q", m.Query, m.Sent, m.Got)
}

// Mismatches lists the verified values that disagree with s. Numbers are
// compared numerically; TIMING? is compared on amplitude and RC only.
func (h Header) Mismatches(s settings.TraceSettings) []Mismatch {
	sent := []struct {
		query string
		value float64
	}{
		{"RES?", float64(s.Spacing)},
		{"ISTART?", float64(s.IStart)},
		{"POINTS?", float64(s.NPoints)},
		{"AVG?", float64(s.NAverages)},
		{"VTX?", s.VBTX},
		{"RAMP?", float64(s.RampMode)},
	}

	var out []Mismatch
	for _, v := range sent {
		got := h[v.query]
		x, err := strconv.ParseFloat(strings.TrimSpace(got), 64)
		if err != nil || x != v.value {
			out = append(out, Mismatch{Query: v.query, Sent: formatFloat(v.value), Got: got})
		}
	}

	got := h["TIMING?"]
	m, err := ramp.ParseTiming(got)
	if err != nil || !closeTo(m.A, s.RampModel.A) || !closeTo(m.RC, s.RampModel.RC) {
		out = append(out, Mismatch{Query: "TIMING?", Sent: s.RampModel.TimingArg(), Got: got})
	}
	return out
}

// Protocol applies settings to an instrument and reads them back.
type Protocol struct {
	Logger *log.Logger
	// Debug logs every command and answer.
	Debug bool
}

// Apply configures the instrument with the default logger.
func Apply(link tdr.Link, s settings.TraceSettings, setTiming bool) (Header, error) {
	return (&Protocol{}).Apply(link, s, setTiming)
}

// Apply disables streaming, sends s and, when setTiming is true, the ramp
// timing. Then it issues the verification queries and returns their answers.
// Disagreeing answers are returned, not treated as errors.
func (p *Protocol) Apply(link tdr.Link, s settings.TraceSettings, setTiming bool) (Header, error) {
	if !(s.RampModel.A > MinRampAmplitude) {
		return nil, fmt.Errorf("%w: ramp amplitude %v must be > %d", settings.ErrConfiguration, s.RampModel.A, MinRampAmplitude)
	}

	if err := link.Flush(); err != nil {
		return nil, err
	}

	commands := []string{
		"E 0",
		fmt.Sprintf("POINTS %d", s.NPoints),
		fmt.Sprintf("RES %d", s.Spacing),
		fmt.Sprintf("ISTART %d", s.IStart),
		fmt.Sprintf("AVG %d", s.NAverages),
		"VTX " + formatFloat(s.VBTX),
		fmt.Sprintf("RAMP %d", s.RampMode),
	}
	if setTiming {
		commands = append(commands, "TIMING "+s.RampModel.TimingArg())
	}

	for _, cmd := range commands {
		p.debugf("> %s", cmd)
		if err := link.Write(cmd); err != nil {
			return nil, fmt.Errorf("failed to send %q: %w", cmd, err)
		}
		if err := link.Flush(); err != nil {
			return nil, err
		}
	}

	header := make(Header, len(Queries))
	for _, q := range Queries {
		resp, err := link.Query(q)
		if err != nil {
			return nil, fmt.Errorf("failed to verify settings: %w", err)
		}
		p.debugf("< %s %s", q, resp)
		header[q] = resp
		if err := link.Flush(); err != nil {
			return nil, err
		}
	}

	for _, m := range header.Mismatches(s) {
		p.logger().Printf("Settings mismatch: %s", m)
	}

	return header, nil
}

func (p *Protocol) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

func (p *Protocol) debugf(format string, args ...any) {
	if p.Debug {
		p.logger().Printf(format, args...)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Abs(b))
}
