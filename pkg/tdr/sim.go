package tdr

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/gotdr/pkg/config"
	"github.com/itohio/gotdr/pkg/ramp"
	"github.com/itohio/gotdr/pkg/units"
)

// Sim simulates a TDR01 for testing and development. It answers the full
// command set and synthesizes a step response with one reflection.
type Sim struct {
	cfg *config.MockConfig

	mu     sync.Mutex
	rng    *rand.Rand
	closed bool

	// Instrument state
	points  int
	res     int
	istart  int
	avg     int
	vtx     string
	rampSel int
	timing  ramp.Model
	stream  bool

	// Traffic
	commands    []string
	dataQueries int
}

// NewSim creates a simulated instrument. A nil cfg uses defaults.
func NewSim(cfg *config.MockConfig) *Sim {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	return &Sim{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		points:  2500,
		res:     10,
		avg:     2,
		vtx:     "18204",
		rampSel: 1,
		timing:  ramp.Model{A: 60075, RC: 16510},
	}
}

// Commands returns every command line received, in order.
func (s *Sim) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Streaming reports whether continuous output was left enabled by "E 1".
func (s *Sim) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Write applies a command.
func (s *Sim) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	cmd = strings.TrimSpace(cmd)
	s.commands = append(s.commands, cmd)
	s.apply(cmd)
	return nil
}

// Query answers a query.
func (s *Sim) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	cmd = strings.TrimSpace(cmd)
	s.commands = append(s.commands, cmd)
	return s.answer(cmd)
}

// QueryInts answers a data query.
func (s *Sim) QueryInts(cmd string) ([]int, error) {
	resp, err := s.Query(cmd)
	if err != nil {
		return nil, err
	}
	vals, err := ParseSeries(resp)
	if err != nil {
		return nil, &ParseError{Command: strings.TrimSpace(cmd), Payload: resp, Err: err}
	}
	return vals, nil
}

// Flush is a no-op apart from the closed check.
func (s *Sim) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the simulated link closed.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// apply updates the instrument state. Like the real instrument it ignores
// malformed commands; the verification header exposes them.
func (s *Sim) apply(cmd string) {
	key, arg, _ := strings.Cut(cmd, " ")
	arg = strings.Trim(strings.TrimSpace(arg), `"`)

	switch strings.ToUpper(key) {
	case "E":
		s.stream = arg != "0"
	case "POINTS":
		if n, err := atoiPositive(arg); err == nil {
			s.points = n
		}
	case "RES":
		if n, err := atoiPositive(arg); err == nil {
			s.res = n
		}
	case "ISTART":
		if n, err := strconv.Atoi(arg); err == nil {
			s.istart = n
		}
	case "AVG":
		if n, err := atoiPositive(arg); err == nil {
			s.avg = n
		}
	case "VTX":
		s.vtx = arg
	case "RAMP":
		if n, err := strconv.Atoi(arg); err == nil {
			s.rampSel = n
		}
	case "TIMING":
		if m, err := ramp.ParseTiming(arg); err == nil {
			s.timing = m
		}
	}
}

func (s *Sim) answer(cmd string) (string, error) {
	switch strings.ToUpper(cmd) {
	case "RES?":
		return strconv.Itoa(s.res), nil
	case "ISTART?":
		return strconv.Itoa(s.istart), nil
	case "POINTS?":
		return strconv.Itoa(s.points), nil
	case "TIMING?":
		return s.timing.String(), nil
	case "AVG?":
		return strconv.Itoa(s.avg), nil
	case "VTX?":
		return s.vtx, nil
	case "RAMP?":
		return strconv.Itoa(s.rampSel), nil
	case "*IDN?":
		return s.cfg.IDN, nil
	case "RXDAC?":
		return s.dataResponse(s.rxdac())
	case "TRACE", "TRACE?":
		return s.dataResponse(s.trace())
	}
	return "", fmt.Errorf("%s: %w", cmd, ErrTimeout)
}

// dataResponse applies fault injection to a data answer.
func (s *Sim) dataResponse(vals []int) (string, error) {
	s.dataQueries++
	if s.cfg.ResponseDelay > 0 {
		time.Sleep(s.cfg.ResponseDelay)
	}
	if n := s.cfg.TimeoutEvery; n > 0 && s.dataQueries%n == 0 {
		return "", ErrTimeout
	}
	if n := s.cfg.ShortEvery; n > 0 && s.dataQueries%n == 0 && len(vals) > 0 {
		vals = vals[:len(vals)-1]
	}
	return formatSeries(vals), nil
}

// rxdac returns the ramp DAC codes hitting each sample time.
func (s *Sim) rxdac() []int {
	out := make([]int, s.points)
	for i := range out {
		t := float64((s.istart + i) * s.res)
		code := s.timing.A*(1-math.Exp(-t/s.timing.RC)) + s.timing.BF
		out[i] = int(math.Round(code))
	}
	return out
}

// trace returns 12-bit ADC counts accumulated over avg acquisitions: an
// incident step at IncidentAt followed by a reflection ReflectionAt later.
func (s *Sim) trace() []int {
	full := float64(s.avg) * float64(units.DefaultAdc().Codes())
	out := make([]int, s.points)
	for i := range out {
		t := float64((s.istart + i) * s.res)
		v := s.cfg.Baseline
		if t >= s.cfg.IncidentAt {
			v += 0.5
		}
		if t >= s.cfg.IncidentAt+s.cfg.ReflectionAt {
			v += 0.5 * s.cfg.ReflectionCoeff
		}
		v += s.rng.NormFloat64() * s.cfg.NoiseLevel
		v = math.Max(0, math.Min(1, v))
		out[i] = int(v * (full - 1))
	}
	return out
}

func formatSeries(vals []int) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func atoiPositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}
