// Package engine provides the tick loop and the pipeline it drives.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the base tick: the fastest cadence any stage needs.
const DefaultInterval = 50 * time.Millisecond

// pausePoll is how often a paused engine checks for resume or stop.
const pausePoll = 100 * time.Millisecond

// Period returns the wait before a task fires again. It is called once at
// scheduling and again after every firing, so it may draw a new value each time.
type Period func() time.Duration

// Every is a fixed Period.
func Every(d time.Duration) Period {
	return func() time.Duration { return d }
}

type task struct {
	name   string
	period Period
	run    func(now time.Time)
	due    time.Duration // elapsed logical time of the next firing
	fired  uint64
}

// Engine drives scheduled tasks on a logical clock. Logical time advances by
// Interval per step regardless of wall time, so a run is reproducible.
type Engine struct {
	Interval time.Duration // Base tick interval (default 50ms)
	Epoch    time.Time     // Logical time at tick 0

	tick    atomic.Uint64 // Current tick counter (monotonic, never resets)
	speed   atomic.Uint64 // float64 bits. 1.0 = real-time, 0 = paused
	running atomic.Bool
	stopped atomic.Bool // latched by Stop, Run returns at once afterwards
	wake    chan struct{}

	mu    sync.Mutex
	tasks []*task
}

// NewEngine creates an engine starting at epoch with default settings.
func NewEngine(epoch time.Time) *Engine {
	e := &Engine{
		Interval: DefaultInterval,
		Epoch:    epoch,
		wake:     make(chan struct{}, 1),
	}
	e.SetSpeed(1)
	return e
}

// Schedule registers fn to run every period, first firing one period after
// the current logical time. Tasks due on the same tick run in registration
// order.
func (e *Engine) Schedule(name string, period Period, fn func(now time.Time)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, &task{
		name:   name,
		period: period,
		run:    fn,
		due:    e.elapsed(e.tick.Load()) + period(),
	})
}

// Tick returns the current tick counter.
func (e *Engine) Tick() uint64 {
	return e.tick.Load()
}

// Now returns the current logical time.
func (e *Engine) Now() time.Time {
	return e.Epoch.Add(e.elapsed(e.tick.Load()))
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.speed.Load())
}

// SetSpeed sets the speed multiplier. Zero or below pauses the loop.
func (e *Engine) SetSpeed(s float64) {
	if math.IsNaN(s) || s < 0 {
		s = 0
	}
	e.speed.Store(math.Float64bits(s))
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Fired returns how many times the named task has run.
func (e *Engine) Fired(name string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var n uint64
	for _, t := range e.tasks {
		if t.name == name {
			n += t.fired
		}
	}
	return n
}

// Run steps the engine until Stop is called or ctx is done. After Stop it
// returns immediately.
func (e *Engine) Run(ctx context.Context) {
	if e.stopped.Load() {
		return
	}
	e.running.Store(true)
	slog.Info("engine started", "tick", e.Tick(), "speed", e.Speed(), "interval", e.Interval)

	for !e.stopped.Load() {
		speed := e.Speed()
		if speed <= 0 {
			// Paused, check again shortly.
			if !e.wait(ctx, pausePoll) {
				break
			}
			continue
		}

		start := time.Now()
		e.Step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		target := time.Duration(float64(e.Interval) / speed)
		if !e.wait(ctx, target-time.Since(start)) {
			break
		}
	}

	e.running.Store(false)
	slog.Info("engine stopped", "tick", e.Tick(), "elapsed", Elapsed(e.Tick(), e.Interval))
}

func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return !e.stopped.Load()
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.wake:
		return !e.stopped.Load()
	case <-timer.C:
		return !e.stopped.Load()
	}
}

// Stop halts the loop and keeps it halted: a Run started later returns at
// once. Safe to call more than once.
func (e *Engine) Stop() {
	if e.stopped.Swap(true) {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Step advances logical time by one interval and runs every task now due.
func (e *Engine) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	tick := e.tick.Add(1)
	elapsed := e.elapsed(tick)
	now := e.Epoch.Add(elapsed)

	for _, t := range e.tasks {
		if elapsed < t.due {
			continue
		}
		t.run(now)
		t.fired++
		t.due += t.period()
		if t.due <= elapsed {
			// Period shorter than the interval: fire at most once per step.
			t.due = elapsed + e.Interval
		}
	}
}

// Advance runs n steps without sleeping.
func (e *Engine) Advance(n int) {
	for i := 0; i < n; i++ {
		e.Step()
	}
}

// AdvanceBy steps until at least d of logical time has passed.
func (e *Engine) AdvanceBy(d time.Duration) {
	e.Advance(int((d + e.Interval - 1) / e.Interval))
}

func (e *Engine) elapsed(tick uint64) time.Duration {
	return time.Duration(tick) * e.Interval
}

// Elapsed formats the logical time at tick as h:mm:ss.
func Elapsed(tick uint64, interval time.Duration) string {
	total := time.Duration(tick) * interval
	hours := int(total / time.Hour)
	minutes := int(total/time.Minute) % 60
	seconds := int(total/time.Second) % 60
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}
