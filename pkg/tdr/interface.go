package tdr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Link is an exclusively owned command/query connection to a TDR01.
// Methods are synchronous and must be called from one goroutine at a time.
type Link interface {
	// Write sends a command line. Success only means the transport took it.
	Write(cmd string) error
	// Query sends a command and reads one response line, trailing whitespace
	// stripped. It fails with ErrTimeout when no line arrives in time.
	Query(cmd string) (string, error)
	// QueryInts queries a comma separated list of decimal integers.
	QueryInts(cmd string) ([]int, error)
	// Flush discards buffered receive data.
	Flush() error
	// Close releases the connection. Closing twice is not an error.
	Close() error
}

var (
	// ErrTimeout is returned when a query gets no response within the link
	// timeout.
	ErrTimeout = errors.New("link timeout")
	// ErrClosed is returned when using a closed link.
	ErrClosed = errors.New("link closed")
)

// ParseError reports a malformed numeric-series payload.
type ParseError struct {
	Command string
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	payload := e.Payload
	if len(payload) > 64 {
		payload = payload[:64] + "..."
	}
	return fmt.Sprintf("%s: malformed series %q: %v", e.Command, payload, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseSeries parses a comma separated list of decimal integers. A single
// trailing separator is tolerated; an empty payload is an empty series.
func ParseSeries(payload string) ([]int, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return []int{}, nil
	}
	parts := strings.Split(payload, ",")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Ensure implementations satisfy Link.
var (
	_ Link = (*Serial)(nil)
	_ Link = (*Sim)(nil)
)
