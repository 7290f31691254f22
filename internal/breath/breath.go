// Package breath scores how closely the breathing rhythm tracks an idealized
// sinusoidal breath, smoothing the score into a resonance value.
package breath

import (
	"math"
	"sync"
	"time"
)

// TickPeriod is the synchronizer step.
const TickPeriod = 50 * time.Millisecond

// Step and smoothing constants.
const (
	PhaseRate = 0.01
	Decay     = 0.95
)

// Sample is one synchronizer output.
type Sample struct {
	Phase     float64 `json:"breath_phase"`
	SyncLevel float64 `json:"sync_level"`
	Resonance float64 `json:"resonance"`
}

// Target is the idealized breath value at phase, in [0,1].
func Target(phase float64) float64 {
	return math.Sin(phase*2*math.Pi)*0.5 + 0.5
}

// SyncLevel scores breathing against target.
func SyncLevel(breathing, target float64) float64 {
	return math.Max(0, 1-math.Abs(breathing-target))
}

// Smooth folds sync into resonance with the fixed decay.
func Smooth(resonance, sync float64) float64 {
	return resonance*Decay + sync*(1-Decay)
}

// Synchronizer accumulates breath phase and resonance across ticks.
type Synchronizer struct {
	mu     sync.RWMutex
	sample Sample
}

// NewSynchronizer starts at phase 0 with zero resonance.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// Tick advances one step using the current breathing rhythm.
func (s *Synchronizer) Tick(breathing float64) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	phase := s.sample.Phase + PhaseRate*breathing
	sync := SyncLevel(breathing, Target(phase))
	s.sample = Sample{
		Phase:     phase,
		SyncLevel: sync,
		Resonance: Smooth(s.sample.Resonance, sync),
	}
	return s.sample
}

// Current returns the latest sample.
func (s *Synchronizer) Current() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample
}

// Inhaling reports whether the guide is on the rising half of the cycle.
func (s Sample) Inhaling() bool {
	return math.Sin(s.Phase*2*math.Pi) > 0
}
