package biometrics

import (
	"sync"
	"time"

	"github.com/talgya/interval/internal/entropy"
)

// TickPeriod is the logical period between random-walk steps.
const TickPeriod = 3 * time.Second

// Step widths: each field moves by a uniform offset in [-k/2, +k/2] per tick.
const (
	HeartRateStep = 0.10
	BreathingStep = 0.08
	MovementStep  = 0.12
	AttentionStep = 0.06
)

// Simulator owns the current Vector. It is the only writer.
type Simulator struct {
	rng entropy.Source

	mu      sync.RWMutex
	current Vector
}

// NewSimulator creates a simulator starting from initial (clamped).
func NewSimulator(rng entropy.Source, initial Vector) *Simulator {
	return &Simulator{rng: rng, current: initial.Clamped()}
}

// Tick advances every field one random-walk step and returns the new vector.
func (s *Simulator) Tick() Vector {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current
	s.current = Vector{
		HeartRate:         prev.HeartRate + entropy.Perturb(s.rng, HeartRateStep),
		BreathingRhythm:   prev.BreathingRhythm + entropy.Perturb(s.rng, BreathingStep),
		MovementIntensity: prev.MovementIntensity + entropy.Perturb(s.rng, MovementStep),
		AttentionLevel:    prev.AttentionLevel + entropy.Perturb(s.rng, AttentionStep),
	}.Clamped()
	return s.current
}

// Current returns a copy of the latest vector.
func (s *Simulator) Current() Vector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// ShiftHeartRate adds delta to heart rate, clamped. Used for the phase
// transition nudge; a zero delta is a no-op.
func (s *Simulator) ShiftHeartRate(delta float64) Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delta != 0 {
		s.current.HeartRate = Clamp(s.current.HeartRate+delta, Floor, Ceiling)
	}
	return s.current
}

// Override replaces the vector with externally supplied values, clamped at
// the boundary.
func (s *Simulator) Override(v Vector) Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = v.Clamped()
	return s.current
}
