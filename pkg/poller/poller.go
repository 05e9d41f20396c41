package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gotdr/pkg/acquire"
	"github.com/itohio/gotdr/pkg/tdr"
)

// Poller acquires traces in a background goroutine and puts them on a
// Queue. The link must not be used by anyone else while it runs.
type Poller struct {
	engine   *acquire.Engine
	link     tdr.Link
	queue    *Queue
	expected int
	delay    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	acquired atomic.Int64
	failures atomic.Int64
}

// New creates an idle poller acquiring traces of expected length from link
// every delay.
func New(engine *acquire.Engine, link tdr.Link, queue *Queue, expected int, delay time.Duration) *Poller {
	if engine == nil {
		engine = &acquire.Engine{}
	}
	return &Poller{
		engine:   engine,
		link:     link,
		queue:    queue,
		expected: expected,
		delay:    delay,
	}
}

// Queue returns the output queue.
func (p *Poller) Queue() *Queue {
	return p.queue
}

// Start launches the acquisition loop. It does nothing when already running.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop signals the loop and waits for it to exit. A query in flight runs to
// its timeout first. The poller reports Running and ignores Start until the
// loop has exited. Stopping an idle poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == done {
		p.cancel = nil
		p.done = nil
	}
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Acquired returns the number of traces put on the queue.
func (p *Poller) Acquired() int64 {
	return p.acquired.Load()
}

// Failures returns the number of loop iterations that ended in an error.
func (p *Poller) Failures() int64 {
	return p.failures.Load()
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in poller: %v", r)
		}
	}()

	for ctx.Err() == nil {
		p.poll(ctx)

		t := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// poll runs one flush and acquire cycle. Errors are logged and never end the
// loop.
func (p *Poller) poll(ctx context.Context) {
	if err := p.link.Flush(); err != nil {
		p.fail(err)
		return
	}

	data, err := p.engine.AcquireUntilValid(ctx, p.link, p.expected, p.command())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.fail(err)
		}
		return
	}

	if p.queue.Put(data) {
		p.logger().Printf("Trace queue full, dropped oldest trace")
	}
	p.acquired.Add(1)
}

func (p *Poller) fail(err error) {
	p.failures.Add(1)
	p.logger().Printf("error: poll failed: %v", err)
}

func (p *Poller) logger() *log.Logger {
	if p.engine.Logger != nil {
		return p.engine.Logger
	}
	return log.Default()
}

func (p *Poller) command() string {
	if p.engine.Command == "" {
		return acquire.DefaultCommand
	}
	return p.engine.Command
}
