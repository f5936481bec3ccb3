package relay

import (
	"sync"
	"time"
)

// ReadyGate tracks whether the agent side has confirmed session
// initialization. The transition is one-way: once open, the gate never closes
// again within a session. A fallback timer opens the gate automatically when
// no explicit confirmation arrives in time, so the caller is never muted
// indefinitely by a provider that skips the confirmation message.
type ReadyGate struct {
	mu      sync.Mutex
	ready   bool
	timer   *time.Timer
	onReady func()
}

// NewReadyGate creates a gate with the fallback timer already running.
// onReady is invoked exactly once, on whichever of MarkReady or the fallback
// fires first.
func NewReadyGate(fallback time.Duration, onReady func()) *ReadyGate {
	g := &ReadyGate{onReady: onReady}
	g.timer = time.AfterFunc(fallback, g.MarkReady)
	return g
}

// MarkReady opens the gate. Idempotent; the first call wins and later calls
// are no-ops.
func (g *ReadyGate) MarkReady() {
	g.mu.Lock()
	if g.ready {
		g.mu.Unlock()
		return
	}
	g.ready = true
	if g.timer != nil {
		g.timer.Stop()
	}
	callback := g.onReady
	g.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// Ready reports whether caller audio may be forwarded.
func (g *ReadyGate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Stop cancels the fallback timer without opening the gate. Called on session
// teardown so no timer fires after the session is gone.
func (g *ReadyGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
}
