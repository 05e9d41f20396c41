// Package tdrtest provides a scripted tdr.Link for tests.
package tdrtest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/itohio/gotdr/pkg/tdr"
)

// Op is one operation observed by Link.
type Op struct {
	Kind string // "write", "query" or "flush"
	Cmd  string
}

type step struct {
	vals []int
	err  error
}

// Link answers text queries from a fixed table and data queries from a
// per-command script. The last scripted step of a command repeats forever.
// Unscripted queries fail with tdr.ErrTimeout.
type Link struct {
	mu      sync.Mutex
	answers map[string]string
	script  map[string][]step
	ops     []Op
	closed  bool
}

var _ tdr.Link = (*Link)(nil)

// New creates an empty scripted link.
func New() *Link {
	return &Link{
		answers: make(map[string]string),
		script:  make(map[string][]step),
	}
}

// Answer sets the response of a text query.
func (l *Link) Answer(cmd, resp string) *Link {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answers[cmd] = resp
	return l
}

// Series appends data responses for cmd.
func (l *Link) Series(cmd string, vals ...[]int) *Link {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range vals {
		l.script[cmd] = append(l.script[cmd], step{vals: v})
	}
	return l
}

// Fail appends a failing response for cmd.
func (l *Link) Fail(cmd string, err error) *Link {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script[cmd] = append(l.script[cmd], step{err: err})
	return l
}

// Ops returns every operation in order.
func (l *Link) Ops() []Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Op, len(l.ops))
	copy(out, l.ops)
	return out
}

// Writes returns the written commands in order.
func (l *Link) Writes() []string {
	return l.filter("write")
}

// Queries returns the queried commands in order.
func (l *Link) Queries() []string {
	return l.filter("query")
}

// Count returns how many times cmd was queried.
func (l *Link) Count(cmd string) int {
	n := 0
	for _, q := range l.Queries() {
		if q == cmd {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) filter(kind string) []string {
	var out []string
	for _, op := range l.Ops() {
		if op.Kind == kind {
			out = append(out, op.Cmd)
		}
	}
	return out
}

func (l *Link) Write(cmd string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return tdr.ErrClosed
	}
	l.ops = append(l.ops, Op{Kind: "write", Cmd: strings.TrimSpace(cmd)})
	return nil
}

func (l *Link) Query(cmd string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", tdr.ErrClosed
	}
	cmd = strings.TrimSpace(cmd)
	l.ops = append(l.ops, Op{Kind: "query", Cmd: cmd})

	if resp, ok := l.answers[cmd]; ok {
		return resp, nil
	}
	steps, ok := l.script[cmd]
	if !ok || len(steps) == 0 {
		return "", fmt.Errorf("%s: %w", cmd, tdr.ErrTimeout)
	}
	st := steps[0]
	if len(steps) > 1 {
		l.script[cmd] = steps[1:]
	}
	if st.err != nil {
		return "", st.err
	}
	parts := make([]string, len(st.vals))
	for i, v := range st.vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ","), nil
}

func (l *Link) QueryInts(cmd string) ([]int, error) {
	resp, err := l.Query(cmd)
	if err != nil {
		return nil, err
	}
	vals, err := tdr.ParseSeries(resp)
	if err != nil {
		return nil, &tdr.ParseError{Command: strings.TrimSpace(cmd), Payload: resp, Err: err}
	}
	return vals, nil
}

func (l *Link) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return tdr.ErrClosed
	}
	l.ops = append(l.ops, Op{Kind: "flush"})
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
