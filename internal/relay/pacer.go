package relay

import (
	"sync"
	"time"
)

// Pacer fires a tick callback at a fixed wall-clock cadence, decoupling the
// bursty rate at which agent audio arrives from the fixed rate at which the
// telephony side can play it. Delivering faster than real time garbles
// playback and overflows the provider's buffer; the pacer sends at most one
// frame per interval instead.
type Pacer struct {
	interval time.Duration
	tick     func()

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
}

// NewPacer creates a pacer that invokes tick every interval once started.
func NewPacer(interval time.Duration, tick func()) *Pacer {
	return &Pacer{
		interval: interval,
		tick:     tick,
		stop:     make(chan struct{}),
	}
}

// Start begins the tick loop. Idempotent: the loop is started at most once
// per pacer, and a pacer that was already stopped stays stopped.
func (p *Pacer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	go p.run()
}

// Stop terminates the tick loop and cancels any pending tick. Idempotent;
// after Stop returns no further ticks fire.
func (p *Pacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
}

// Running reports whether the pacer has been started and not yet stopped.
func (p *Pacer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.stopped
}

func (p *Pacer) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}
