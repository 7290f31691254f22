// Package harmonic derives the set of harmonic partials from the biometric
// vector and the current phase. Generation is pure: no state survives a call.
package harmonic

import (
	"fmt"
	"math"

	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/biometrics"
)

// Frequency range of the fundamental: 40 Hz at rest, 100 Hz at full heart rate.
const (
	BaseMin   = 40.0
	BaseRange = 60.0
)

// Partial is one frequency component.
type Partial struct {
	Frequency   float64 `json:"frequency_hz"`
	Amplitude   float64 `json:"amplitude"`
	PhaseOffset float64 `json:"phase_offset"`
	Color       string  `json:"color"`
	Resonance   float64 `json:"resonance"`
	Source      Source  `json:"source"`
}

// Source tags what drove a partial.
type Source string

const (
	SourceHeartbeat Source = "heartbeat"
	SourceBreathing Source = "breathing"
	SourceAttention Source = "attention"
	SourceMovement  Source = "movement"
	SourcePhase     Source = "phase"
)

// BaseFrequency is the heartbeat fundamental in Hz.
func BaseFrequency(v biometrics.Vector) float64 {
	return BaseMin + v.HeartRate*BaseRange
}

// MovementCount is the number of movement partials: 1 at rest, 4 at full
// movement.
func MovementCount(v biometrics.Vector) int {
	return int(math.Floor(1 + v.MovementIntensity*3))
}

// Generate builds the ordered partial set: heartbeat, breathing, attention,
// the movement series, then at most one phase partial.
func Generate(v biometrics.Vector, phase attention.Phase) []Partial {
	base := BaseFrequency(v)
	n := MovementCount(v)
	out := make([]Partial, 0, 3+n+1)

	out = append(out,
		Partial{
			Frequency: base,
			Amplitude: 0.3 + v.HeartRate*0.2,
			Color:     hsl(v.HeartRate*60, 70, 60),
			Resonance: v.HeartRate,
			Source:    SourceHeartbeat,
		},
		Partial{
			Frequency:   base * 0.6,
			Amplitude:   0.2 + v.BreathingRhythm*0.3,
			PhaseOffset: math.Pi / 4,
			Color:       hsl(190+v.BreathingRhythm*40, 70, 60),
			Resonance:   v.BreathingRhythm,
			Source:      SourceBreathing,
		},
		Partial{
			Frequency:   base * 1.5,
			Amplitude:   0.15 + v.AttentionLevel*0.25,
			PhaseOffset: math.Pi / 2,
			Color:       hsl(45+v.AttentionLevel*30, 70, 60),
			Resonance:   v.AttentionLevel,
			Source:      SourceAttention,
		},
	)

	for i := 0; i < n; i++ {
		fi := float64(i)
		out = append(out, Partial{
			Frequency:   base * (2 + fi*0.5),
			Amplitude:   0.1 + v.MovementIntensity*0.2/(fi+1),
			PhaseOffset: math.Pi * fi / 3,
			Color:       hsl(280+fi*20, 70, 60),
			Resonance:   v.MovementIntensity / (fi + 1),
			Source:      SourceMovement,
		})
	}

	switch phase.Name {
	case attention.Stress:
		out = append(out, Partial{
			Frequency:   base * 2.5,
			Amplitude:   phase.Intensity * 0.3,
			PhaseOffset: math.Pi,
			Color:       hsl(0, 80, 70),
			Resonance:   phase.Intensity,
			Source:      SourcePhase,
		})
	case attention.Flow:
		out = append(out, Partial{
			Frequency:   base * 0.8,
			Amplitude:   phase.Intensity * 0.4,
			PhaseOffset: math.Pi / 6,
			Color:       hsl(280, 80, 70),
			Resonance:   phase.Intensity,
			Source:      SourcePhase,
		})
	}

	return out
}

// Sum samples the composite waveform at time t (seconds) and position x in
// [0,1], the way a waveform consumer draws it.
func Sum(partials []Partial, t, x float64) float64 {
	var y float64
	for _, p := range partials {
		y += math.Sin(x*math.Pi*4+t+p.PhaseOffset) * p.Amplitude
	}
	return y
}

func hsl(h, s, l float64) string {
	return fmt.Sprintf("hsl(%.0f, %.0f%%, %.0f%%)", h, s, l)
}
