package relay

import (
	"sync"
	"testing"
	"time"
)

func TestPacerTicks(t *testing.T) {
	var mu sync.Mutex
	ticks := 0

	pacer := NewPacer(5*time.Millisecond, func() {
		mu.Lock()
		ticks++
		mu.Unlock()
	})

	pacer.Start()
	if !pacer.Running() {
		t.Fatal("pacer should report running after Start")
	}

	time.Sleep(40 * time.Millisecond)
	pacer.Stop()

	mu.Lock()
	got := ticks
	mu.Unlock()
	if got == 0 {
		t.Error("pacer never ticked")
	}

	// No further ticks after Stop.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	after := ticks
	mu.Unlock()
	if after > got+1 {
		t.Errorf("pacer ticked %d times after Stop", after-got)
	}
}

func TestPacerStartIdempotent(t *testing.T) {
	var mu sync.Mutex
	ticks := 0

	pacer := NewPacer(5*time.Millisecond, func() {
		mu.Lock()
		ticks++
		mu.Unlock()
	})
	defer pacer.Stop()

	pacer.Start()
	pacer.Start()
	pacer.Start()

	time.Sleep(27 * time.Millisecond)
	pacer.Stop()

	mu.Lock()
	got := ticks
	mu.Unlock()
	// A doubled loop would tick roughly twice as often.
	if got > 8 {
		t.Errorf("got %d ticks in ~27ms at 5ms cadence, loop likely started twice", got)
	}
}

func TestPacerStopIdempotent(t *testing.T) {
	pacer := NewPacer(time.Millisecond, func() {})
	pacer.Start()
	pacer.Stop()
	pacer.Stop()

	if pacer.Running() {
		t.Error("pacer should not report running after Stop")
	}
}

func TestPacerNoRestartAfterStop(t *testing.T) {
	ticked := make(chan struct{}, 1)

	pacer := NewPacer(time.Millisecond, func() {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})
	pacer.Stop()
	pacer.Start()

	select {
	case <-ticked:
		t.Fatal("pacer ticked after Stop then Start")
	case <-time.After(20 * time.Millisecond):
	}
	if pacer.Running() {
		t.Error("stopped pacer should never report running")
	}
}
