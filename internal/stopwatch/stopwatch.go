package stopwatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// DefaultTickInterval matches the display refresh of the web client.
const DefaultTickInterval = 10 * time.Millisecond

// MaxTickInterval keeps the display visibly smooth.
const MaxTickInterval = 100 * time.Millisecond

// Stopwatch measures one play session. It is safe for concurrent use; the
// tick callback runs on its own goroutine.
type Stopwatch struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	state       State
	startedAt   time.Time     // start of the current running segment
	accumulated time.Duration // total of finished segments

	tickEvery  time.Duration
	onTick     func(elapsed time.Duration)
	tickCancel context.CancelFunc
}

// New returns an idle stopwatch. A nil clock means the real clock.
func New(clock clockwork.Clock) *Stopwatch {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Stopwatch{
		clock:     clock,
		state:     StateIdle,
		tickEvery: DefaultTickInterval,
	}
}

// OnTick registers a display callback fired every interval while running.
// Intervals outside (0, MaxTickInterval] fall back to DefaultTickInterval.
func (sw *Stopwatch) OnTick(interval time.Duration, fn func(elapsed time.Duration)) {
	if interval <= 0 || interval > MaxTickInterval {
		interval = DefaultTickInterval
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.tickEvery = interval
	sw.onTick = fn
	if sw.state == StateRunning {
		sw.stopTickerLocked()
		sw.startTickerLocked()
	}
}

// Start begins a session from idle or resumes a paused one.
func (sw *Stopwatch) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	switch sw.state {
	case StateRunning:
		return
	case StateIdle:
		sw.accumulated = 0
	}
	sw.startedAt = sw.clock.Now()
	sw.state = StateRunning
	sw.startTickerLocked()
}

// Pause freezes the elapsed time. No-op unless running.
func (sw *Stopwatch) Pause() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.state != StateRunning {
		return
	}
	sw.accumulated += sw.clock.Since(sw.startedAt)
	sw.state = StatePaused
	sw.stopTickerLocked()
}

// Stop ends the session and returns its total. ok is false when there was no
// session to end, in which case nothing should be recorded.
func (sw *Stopwatch) Stop() (elapsed time.Duration, ok bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.state == StateIdle {
		return 0, false
	}
	elapsed = sw.elapsedLocked()
	sw.resetLocked()
	return elapsed, true
}

// Reset discards the session without reporting it.
func (sw *Stopwatch) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.resetLocked()
}

func (sw *Stopwatch) Elapsed() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.elapsedLocked()
}

func (sw *Stopwatch) State() State {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.state
}

func (sw *Stopwatch) elapsedLocked() time.Duration {
	if sw.state == StateRunning {
		return sw.accumulated + sw.clock.Since(sw.startedAt)
	}
	return sw.accumulated
}

func (sw *Stopwatch) resetLocked() {
	sw.stopTickerLocked()
	sw.state = StateIdle
	sw.startedAt = time.Time{}
	sw.accumulated = 0
}

func (sw *Stopwatch) startTickerLocked() {
	if sw.onTick == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sw.tickCancel = cancel
	ticker := sw.clock.NewTicker(sw.tickEvery)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				sw.tick(ctx)
			}
		}
	}()
}

func (sw *Stopwatch) stopTickerLocked() {
	if sw.tickCancel != nil {
		sw.tickCancel()
		sw.tickCancel = nil
	}
}

func (sw *Stopwatch) tick(ctx context.Context) {
	sw.mu.Lock()
	if sw.state != StateRunning || ctx.Err() != nil {
		sw.mu.Unlock()
		return
	}
	elapsed := sw.elapsedLocked()
	fn := sw.onTick
	sw.mu.Unlock()

	if fn != nil {
		fn(elapsed)
	}
}
