package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/gotdr/pkg/protocol"
	"github.com/itohio/gotdr/pkg/settings"
	"github.com/itohio/gotdr/pkg/tdr"
)

const (
	// DefaultCommand fetches one averaged trace.
	DefaultCommand = "TRACE"
	// CalibrationCommand fetches the ramp DAC code of every sample.
	CalibrationCommand = "RXDAC?"
)

var (
	// ErrLengthMismatch matches every LengthMismatchError.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrAttemptsExhausted is returned when MaxAttempts transient failures
	// happened in a row.
	ErrAttemptsExhausted = errors.New("acquisition attempts exhausted")
)

// LengthMismatchError reports a data response of the wrong length.
type LengthMismatchError struct {
	Command  string
	Got      int
	Expected int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("%s: got %d values, expected %d", e.Command, e.Got, e.Expected)
}

func (e *LengthMismatchError) Is(target error) bool {
	return target == ErrLengthMismatch
}

// Engine fetches traces from a link, retrying transient faults.
type Engine struct {
	Logger *log.Logger
	// Debug logs protocol traffic.
	Debug bool
	// MaxAttempts caps consecutive transient failures per acquisition.
	// Zero retries until success or context cancellation.
	MaxAttempts int
	// Command is the trace data query, DefaultCommand when empty.
	Command string
}

// AcquireTrace issues one data query and checks its length. Timeouts and
// length mismatches are returned as-is for the caller to retry; data is
// never padded or truncated.
func (e *Engine) AcquireTrace(link tdr.Link, expected int, command string) ([]int, error) {
	data, err := link.QueryInts(command)
	if err != nil {
		return nil, err
	}
	if len(data) != expected {
		err := &LengthMismatchError{Command: command, Got: len(data), Expected: expected}
		e.logger().Printf("error: %v", err)
		return nil, err
	}
	return data, nil
}

// AcquireUntilValid repeats AcquireTrace until it succeeds. Each timeout or
// length mismatch is logged and followed by a flush. Other errors, including
// tdr.ParseError, are returned immediately. ctx is checked between attempts;
// a query in flight runs to its timeout.
func (e *Engine) AcquireUntilValid(ctx context.Context, link tdr.Link, expected int, command string) ([]int, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := e.AcquireTrace(link, expected, command)
		if err == nil {
			return data, nil
		}
		if !Transient(err) {
			return nil, err
		}
		if errors.Is(err, tdr.ErrTimeout) {
			e.logger().Printf("error: %s timed out (attempt %d)", command, attempt)
		}
		if e.MaxAttempts > 0 && attempt >= e.MaxAttempts {
			return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrAttemptsExhausted, command, attempt, err)
		}

		if err := link.Flush(); err != nil {
			return nil, err
		}
	}
}

// Calibrate applies s and reads the calibration array. The device's TIMING?
// answer replaces the ramp model of the returned settings when it is usable.
func (e *Engine) Calibrate(ctx context.Context, link tdr.Link, s settings.TraceSettings, setTiming bool) (settings.TraceSettings, []int, protocol.Header, error) {
	p := &protocol.Protocol{Logger: e.Logger, Debug: e.Debug}
	header, err := p.Apply(link, s, setTiming)
	if err != nil {
		return s, nil, nil, err
	}
	switch m, err := header.Timing(); {
	case err != nil:
		e.logger().Printf("Keeping configured ramp model: %v", err)
	case m.A <= protocol.MinRampAmplitude:
		e.logger().Printf("Keeping configured ramp model: device ramp amplitude %g is not above %d", m.A, protocol.MinRampAmplitude)
	default:
		s = s.WithRampModel(m)
	}

	rxdac, err := e.AcquireUntilValid(ctx, link, s.NPoints, CalibrationCommand)
	if err != nil {
		return s, nil, header, fmt.Errorf("failed to read calibration: %w", err)
	}
	return s, rxdac, header, nil
}

// AcquireBatch calibrates and then acquires count traces, flushing and
// sleeping delay before each.
func (e *Engine) AcquireBatch(ctx context.Context, link tdr.Link, s settings.TraceSettings, count int, delay time.Duration, setTiming bool) ([]Trace, protocol.Header, error) {
	s, rxdac, header, err := e.Calibrate(ctx, link, s, setTiming)
	if err != nil {
		return nil, header, err
	}

	traces := make([]Trace, 0, count)
	for i := 0; i < count; i++ {
		if err := link.Flush(); err != nil {
			return nil, header, err
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, header, err
		}

		data, err := e.AcquireUntilValid(ctx, link, s.NPoints, e.command())
		if err != nil {
			return nil, header, fmt.Errorf("failed to acquire trace %d: %w", i, err)
		}
		traces = append(traces, Trace{Settings: s, RXDAC: rxdac, Data: data})
	}

	return traces, header, nil
}

// Transient reports whether err is a fault the engine retries.
func Transient(err error) bool {
	return errors.Is(err, tdr.ErrTimeout) || errors.Is(err, ErrLengthMismatch)
}

func (e *Engine) command() string {
	if e.Command == "" {
		return DefaultCommand
	}
	return e.Command
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
