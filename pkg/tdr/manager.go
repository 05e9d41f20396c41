package tdr

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/itohio/gotdr/pkg/config"
)

// Opener opens a link to address.
type Opener func(address string, baudRate int, timeout time.Duration) (Link, error)

const (
	// KindSerial selects a serial port, "ASRL<port>::INSTR" or a bare port.
	KindSerial = "ASRL"
	// KindSim selects the simulated instrument, "SIM::INSTR".
	KindSim = "SIM"
)

// ResourceManager opens links by resource string and keeps track of them
// until they are released. It is an ordinary value; create one per program
// or test and pass it explicitly.
type ResourceManager struct {
	mu      sync.Mutex
	openers map[string]Opener
	open    map[Link]string
}

// NewResourceManager creates a manager able to open serial ports and, using
// mock, the simulated instrument.
func NewResourceManager(mock *config.MockConfig) *ResourceManager {
	rm := &ResourceManager{
		openers: make(map[string]Opener),
		open:    make(map[Link]string),
	}
	rm.Register(KindSerial, func(address string, baudRate int, timeout time.Duration) (Link, error) {
		return OpenSerial(address, baudRate, timeout)
	})
	rm.Register(KindSim, func(string, int, time.Duration) (Link, error) {
		return NewSim(mock), nil
	})
	return rm
}

// Register installs an opener for a resource kind, replacing any previous one.
func (rm *ResourceManager) Register(kind string, open Opener) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.openers[strings.ToUpper(kind)] = open
}

// ParseResource splits a resource string into kind and address.
//
//	ASRL/dev/ttyUSB0::INSTR -> ASRL, /dev/ttyUSB0
//	ASRLCOM3::INSTR         -> ASRL, COM3
//	SIM::INSTR              -> SIM, ""
//	/dev/ttyACM0            -> ASRL, /dev/ttyACM0
func ParseResource(resource string) (kind, address string) {
	r := strings.TrimSpace(resource)
	body, suffix := r, ""
	if i := strings.LastIndex(r, "::"); i >= 0 {
		body, suffix = r[:i], r[i+2:]
	}
	if !strings.EqualFold(suffix, "INSTR") {
		return KindSerial, r
	}

	upper := strings.ToUpper(body)
	switch {
	case upper == KindSim:
		return KindSim, ""
	case strings.HasPrefix(upper, KindSerial):
		return KindSerial, body[len(KindSerial):]
	}
	return KindSerial, body
}

// Open opens resource and tracks the link until Release or Close.
func (rm *ResourceManager) Open(resource string, baudRate int, timeout time.Duration) (Link, error) {
	kind, address := ParseResource(resource)

	rm.mu.Lock()
	open, ok := rm.openers[kind]
	rm.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported resource %q", resource)
	}
	if kind == KindSerial && address == "" {
		return nil, fmt.Errorf("resource %q has no port", resource)
	}

	link, err := open(address, baudRate, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", resource, err)
	}

	rm.mu.Lock()
	rm.open[link] = resource
	rm.mu.Unlock()

	return link, nil
}

// Release closes a link opened by this manager.
func (rm *ResourceManager) Release(link Link) error {
	rm.mu.Lock()
	delete(rm.open, link)
	rm.mu.Unlock()
	return link.Close()
}

// OpenCount returns the number of links not yet released.
func (rm *ResourceManager) OpenCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.open)
}

// Close releases every link still open.
func (rm *ResourceManager) Close() error {
	rm.mu.Lock()
	links := rm.open
	rm.open = make(map[Link]string)
	rm.mu.Unlock()

	var errs []error
	for link, resource := range links {
		if err := link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", resource, err))
		}
	}
	return errors.Join(errs...)
}

// WithLink opens resource, runs fn and releases the link on every exit path,
// panics included.
func WithLink(rm *ResourceManager, resource string, baudRate int, timeout time.Duration, fn func(Link) error) error {
	link, err := rm.Open(resource, baudRate, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := rm.Release(link); err != nil {
			log.Printf("Failed to close %s: %v", resource, err)
		}
	}()

	return fn(link)
}
