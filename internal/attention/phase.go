// Package attention classifies simulated behavioral proxy metrics into a
// discrete attention phase.
package attention

import (
	"time"

	"github.com/talgya/interval/internal/biometrics"
)

// Name identifies a phase.
type Name string

const (
	Flow       Name = "flow"
	Stress     Name = "stress"
	Calm       Name = "calm"
	Distracted Name = "distracted"
)

// Names lists every phase in rule order, fallback last.
var Names = []Name{Flow, Stress, Distracted, Calm}

// Valid reports whether n is one of the four known phases.
func (n Name) Valid() bool {
	switch n {
	case Flow, Stress, Calm, Distracted:
		return true
	}
	return false
}

// Phase is one classification result. It is replaced wholesale, never edited.
type Phase struct {
	Name      Name          `json:"name"`
	Intensity float64       `json:"intensity"`
	Since     time.Time     `json:"since"`
	Duration  time.Duration `json:"duration"` // elapsed since the previous phase began
}

// InitialPhase is the phase in effect before the first classification.
func InitialPhase(now time.Time) Phase {
	return Phase{Name: Calm, Intensity: 0.5, Since: now}
}

// Normalize clamps intensity into [0,1]. Used on externally supplied phases.
func (p Phase) Normalize() Phase {
	p.Intensity = biometrics.Clamp(p.Intensity, 0, 1)
	return p
}

// Heart-rate nudges applied once per phase transition.
const (
	StressHeartRateShift = 0.2
	CalmHeartRateShift   = -0.1
)

// HeartRateShift returns the heart-rate delta caused by moving from prev to
// next. Only a change of phase name counts as a transition.
func HeartRateShift(prev, next Phase) float64 {
	if prev.Name == next.Name {
		return 0
	}
	switch next.Name {
	case Stress:
		return StressHeartRateShift
	case Calm:
		return CalmHeartRateShift
	default:
		return 0
	}
}
