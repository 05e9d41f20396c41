package tdr

import (
	"bytes"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the TDR01 USB-serial baud rate.
	DefaultBaudRate = 115200
	// DefaultTimeout is the per-query timeout.
	DefaultTimeout = 5 * time.Second

	// readChunk bounds a single blocking read so the query deadline is
	// honoured even when the port delivers bytes slowly.
	readChunk = 100 * time.Millisecond
)

// port is the subset of serial.Port used by Serial.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

var serialOpen = func(name string, mode *serial.Mode) (port, error) {
	return serial.Open(name, mode)
}

// Port describes an available serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a Link over a serial port.
type Serial struct {
	port     string
	baudRate int
	timeout  time.Duration

	mu     sync.Mutex
	conn   port
	rx     []byte // received bytes not yet consumed as a line
	closed bool
}

// Ports returns the available serial ports, highest name first.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, lerr := serial.GetPortsList()
		if lerr != nil {
			return nil, fmt.Errorf("failed to list serial ports: %w", lerr)
		}
		details = make([]*enumerator.PortDetails, len(names))
		for i, n := range names {
			details[i] = &enumerator.PortDetails{Name: n}
		}
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", d.Product, d.VID, d.PID, d.SerialNumber)
		}
		result = append(result, Port{Name: d.Name, Description: strings.TrimSpace(desc)})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name > result[j].Name })
	return result, nil
}

// OpenSerial opens the port, disables streaming and clears stale input.
func OpenSerial(name string, baudRate int, timeout time.Duration) (*Serial, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := serialOpen(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	s := &Serial{
		port:     name,
		baudRate: baudRate,
		timeout:  timeout,
		conn:     conn,
	}

	if err := s.Write("E 0"); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.Flush(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// Name returns the port name.
func (s *Serial) Name() string {
	return s.port
}

// Write sends a newline-terminated command.
func (s *Serial) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(cmd)
}

func (s *Serial) write(cmd string) error {
	if s.closed {
		return ErrClosed
	}
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	if _, err := s.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("failed to write %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

// Query writes cmd and waits up to the link timeout for one response line.
func (s *Serial) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(cmd); err != nil {
		return "", err
	}

	line, err := s.readLine()
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(cmd), err)
	}
	return strings.TrimRight(line, " \t\r\n"), nil
}

// QueryInts queries a comma separated integer series.
func (s *Serial) QueryInts(cmd string) ([]int, error) {
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

// Flush drops everything received so far, both in the OS buffer and in the
// partially read line.
func (s *Serial) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.rx = s.rx[:0]
	if err := s.conn.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", s.port, err)
	}
	return nil
}

// Close closes the serial port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.conn.Close(); err != nil {
		log.Printf("Error closing serial port %s: %v", s.port, err)
		return err
	}
	return nil
}

// readLine returns the next '\n' terminated line or ErrTimeout.
func (s *Serial) readLine() (string, error) {
	deadline := time.Now().Add(s.timeout)
	chunk := min(readChunk, s.timeout)
	if err := s.conn.SetReadTimeout(chunk); err != nil {
		return "", err
	}

	buf := make([]byte, 4096)
	for {
		if i := bytes.IndexByte(s.rx, '\n'); i >= 0 {
			line := string(s.rx[:i])
			s.rx = append(s.rx[:0], s.rx[i+1:]...)
			return line, nil
		}
		if !time.Now().Before(deadline) {
			return "", ErrTimeout
		}

		// go.bug.st/serial returns 0, nil when the read timeout expires.
		n, err := s.conn.Read(buf)
		if err != nil {
			return "", fmt.Errorf("failed to read from %s: %w", s.port, err)
		}
		s.rx = append(s.rx, buf[:n]...)
	}
}
